package scheduler

import (
	"context"

	"github.com/smallbiznis/railzway-alerts/internal/alert/evaluator"
	"github.com/smallbiznis/railzway-alerts/internal/config"
	notificationservice "github.com/smallbiznis/railzway-alerts/internal/notification/service"
	"github.com/smallbiznis/railzway-alerts/internal/taskqueue"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(
		func(e *evaluator.Evaluator) Evaluator { return e },
		func(p *taskqueue.Pool) Submitter { return p },
		func(o *notificationservice.Outbox) Relayer { return o },
	),
	fx.Provide(NewDispatcher),
	fx.Provide(New),
	fx.Invoke(NewScheduler),
)

func NewScheduler(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if !cfg.SchedulerEnabled {
		return
	}

	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go sched.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}
