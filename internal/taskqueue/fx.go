package taskqueue

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("taskqueue",
	fx.Provide(New),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, pool *Pool) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			pool.Start(context.Background())
			return nil
		},
		OnStop: pool.Stop,
	})
}
