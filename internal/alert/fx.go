package alert

import (
	"github.com/smallbiznis/railzway-alerts/internal/alert/evaluator"
	"github.com/smallbiznis/railzway-alerts/internal/alert/repository"
	"github.com/smallbiznis/railzway-alerts/internal/alert/service"
	"go.uber.org/fx"
)

var Module = fx.Module("alert.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(evaluator.New),
)
