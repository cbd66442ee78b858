package publisher

import (
	"context"
	"net"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smallbiznis/railzway-alerts/internal/config"
	notificationdomain "github.com/smallbiznis/railzway-alerts/internal/notification/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// startNATSServer runs a local nats-server with JetStream, skipping the test
// when the binary is not installed.
func startNATSServer(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	cmd := exec.Command("nats-server", "-js", "-p", strconv.Itoa(port), "-sd", t.TempDir())
	if err := cmd.Start(); err != nil {
		t.Skipf("nats-server is required for this test: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})

	url := "nats://127.0.0.1:" + strconv.Itoa(port)
	deadline := time.Now().Add(8 * time.Second)
	for {
		nc, err := nats.Connect(url)
		if err == nil {
			nc.Close()
			return url
		}
		if time.Now().After(deadline) {
			t.Fatalf("nats-server not ready: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestNATSPublisherDeduplicatesByEventID(t *testing.T) {
	url := startNATSServer(t)
	cfg := config.NATSConfig{
		Enabled:  true,
		URL:      url,
		Stream:   "ALERTING_TEST",
		Subject:  "alerting.test",
		Name:     "alerting-test",
		Replicas: 1,
	}

	pub, err := NewNATSPublisher(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	msg := notificationdomain.Message{
		EventID:   "01J00000000000000000000000",
		EventType: notificationdomain.EventTypeAlertTriggered,
		OrgID:     "1",
		Payload:   []byte(`{"alert":{}}`),
		CreatedAt: time.Now().UTC(),
	}
	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, msg))
	require.NoError(t, pub.Publish(ctx, msg))

	info, err := pub.js.StreamInfo(cfg.Stream)
	require.NoError(t, err)
	require.EqualValues(t, 1, info.State.Msgs)
	require.Equal(t, "alerting.test.alert.triggered", pub.Subject(msg.EventType))

	// Reopening against an existing stream is fine.
	again, err := NewNATSPublisher(cfg)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	pub := NewLogPublisher(zap.New(core))

	err := pub.Publish(context.Background(), notificationdomain.Message{EventID: "e1", EventType: "alert.triggered", OrgID: "9"})
	require.NoError(t, err)
	require.Equal(t, "log", pub.Name())

	entries := logs.FilterMessage("notification published").All()
	require.Len(t, entries, 1)
	require.Equal(t, "e1", entries[0].ContextMap()["event_id"])
}
