package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smallbiznis/railzway-alerts/internal/config"
	notificationdomain "github.com/smallbiznis/railzway-alerts/internal/notification/domain"
)

const (
	streamMaxAge = 7 * 24 * time.Hour
	// duplicateWindow bounds how long JetStream remembers Nats-Msg-Id values.
	duplicateWindow = 30 * time.Minute
)

// NATSPublisher publishes notifications into a JetStream stream. The event id
// travels as Nats-Msg-Id so relay retries are deduplicated by the server.
type NATSPublisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

func NewNATSPublisher(cfg config.NATSConfig) (*NATSPublisher, error) {
	opts := []nats.Option{nats.MaxReconnects(-1)}
	if name := strings.TrimSpace(cfg.Name); name != "" {
		opts = append(opts, nats.Name(name))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect notification nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for notifications: %w", err)
	}

	prefix := strings.TrimSuffix(strings.TrimSpace(cfg.Subject), ".")
	if err := ensureStream(js, cfg.Stream, prefix+".>", cfg.Replicas); err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSPublisher{nc: nc, js: js, prefix: prefix}, nil
}

func (p *NATSPublisher) Name() string { return "nats" }

// Subject is the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

func (p *NATSPublisher) Publish(ctx context.Context, msg notificationdomain.Message) error {
	if p == nil || p.nc == nil || p.nc.IsClosed() {
		return notificationdomain.ErrPublisherClosed
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	out := nats.NewMsg(p.Subject(msg.EventType))
	out.Data = body
	out.Header.Set(nats.MsgIdHdr, msg.EventID)
	if _, err := p.js.PublishMsg(out, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		p.nc.Close()
		return err
	}
	return nil
}

func ensureStream(js nats.JetStreamContext, name, subject string, replicas int) error {
	if _, err := js.StreamInfo(name); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %q: %w", name, err)
	}

	if replicas <= 0 {
		replicas = 1
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:       name,
		Subjects:   []string{subject},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     streamMaxAge,
		Duplicates: duplicateWindow,
		Replicas:   replicas,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", name, err)
	}
	return nil
}
