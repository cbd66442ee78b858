// Package taskqueue runs evaluation tasks on a fixed set of workers behind a
// bounded queue. Submit never blocks: a full queue is reported to the caller,
// which keeps its claim released for the next dispatch pass.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/smallbiznis/railzway-alerts/internal/config"
	obsmetrics "github.com/smallbiznis/railzway-alerts/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrClosed     = errors.New("task queue closed")
	ErrNotStarted = errors.New("task queue not started")
)

// Task must honour ctx; it is cancelled when the pool stops without draining.
type Task func(ctx context.Context) error

type job struct {
	name string
	run  Task
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Config  *config.AlertingConfigHolder `optional:"true"`
	Metrics *obsmetrics.AlertingMetrics  `optional:"true"`
}

type Pool struct {
	log     *zap.Logger
	metrics *obsmetrics.AlertingMetrics
	workers int

	mu      sync.RWMutex
	tasks   chan job
	started bool
	closed  bool
	group   *errgroup.Group
	cancel  context.CancelFunc
}

func New(p Params) *Pool {
	cfg := config.DefaultAlertingConfig()
	if p.Config != nil {
		cfg = p.Config.Get()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = workers
	}
	return &Pool{
		log:     p.Log.Named("taskqueue"),
		metrics: p.Metrics,
		workers: workers,
		tasks:   make(chan job, size),
	}
}

// Start launches the workers. Tasks run under a context derived from ctx.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		p.group.Go(func() error {
			p.work(ctx)
			return nil
		})
	}
	p.started = true
	p.log.Info("task queue started", zap.Int("workers", p.workers), zap.Int("capacity", cap(p.tasks)))
}

// Submit enqueues a task or fails fast with obsmetrics.ErrQueueFull.
func (p *Pool) Submit(name string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if !p.started {
		return ErrNotStarted
	}
	select {
	case p.tasks <- job{name: name, run: task}:
		p.metrics.SetQueueDepth(len(p.tasks))
		return nil
	default:
		return obsmetrics.ErrQueueFull
	}
}

func (p *Pool) Depth() int {
	return len(p.tasks)
}

// Stop refuses new work and waits for queued tasks to finish. If ctx expires
// first the remaining tasks are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- p.group.Wait() }()
	select {
	case err := <-done:
		p.cancel()
		return err
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) work(ctx context.Context) {
	for j := range p.tasks {
		p.metrics.SetQueueDepth(len(p.tasks))
		if err := p.run(ctx, j); err != nil {
			p.log.Warn("task failed",
				zap.String("task", j.name),
				zap.String("error_type", obsmetrics.ClassifyErrorType(err)),
				zap.Error(err),
			)
		}
	}
}

func (p *Pool) run(ctx context.Context, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return j.run(ctx)
}
