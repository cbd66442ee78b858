package taskqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/railzway-alerts/internal/config"
	obsmetrics "github.com/smallbiznis/railzway-alerts/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPool(workers, size int) *Pool {
	cfg := config.DefaultAlertingConfig()
	cfg.Workers = workers
	cfg.QueueSize = size
	return New(Params{Log: zap.NewNop(), Config: config.NewStaticAlertingConfig(cfg)})
}

func TestPoolRunsEveryTaskBeforeStopReturns(t *testing.T) {
	pool := newPool(4, 100)
	pool.Start(context.Background())

	var ran atomic.Int64
	for i := 0; i < 100; i++ {
		require.NoError(t, pool.Submit("count", func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	require.NoError(t, pool.Stop(context.Background()))
	assert.Equal(t, int64(100), ran.Load())
}

func TestSubmitFailsFastWhenFull(t *testing.T) {
	pool := newPool(1, 1)
	pool.Start(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, pool.Submit("queued", func(context.Context) error { return nil }))

	err := pool.Submit("overflow", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, obsmetrics.ErrQueueFull)

	close(release)
	require.NoError(t, pool.Stop(context.Background()))
}

func TestSubmitAfterStop(t *testing.T) {
	pool := newPool(1, 1)
	err := pool.Submit("early", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrNotStarted)

	pool.Start(context.Background())
	require.NoError(t, pool.Stop(context.Background()))
	err = pool.Submit("late", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFailingAndPanickingTasksDoNotKillWorkers(t *testing.T) {
	pool := newPool(1, 10)
	pool.Start(context.Background())

	var ran atomic.Int64
	require.NoError(t, pool.Submit("fail", func(context.Context) error { return errors.New("boom") }))
	require.NoError(t, pool.Submit("panic", func(context.Context) error { panic("boom") }))
	require.NoError(t, pool.Submit("after", func(context.Context) error {
		ran.Add(1)
		return nil
	}))

	require.NoError(t, pool.Stop(context.Background()))
	assert.Equal(t, int64(1), ran.Load())
}

func TestStopCancelsWhenDeadlinePasses(t *testing.T) {
	pool := newPool(1, 1)
	pool.Start(context.Background())

	require.NoError(t, pool.Submit("wait", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Stop(ctx), context.DeadlineExceeded)
}
