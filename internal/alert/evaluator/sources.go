package evaluator

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	alertdomain "github.com/smallbiznis/railzway-alerts/internal/alert/domain"
)

// valueSource reads the monitored value of an alert.
type valueSource func(ctx context.Context, e *Evaluator, t target, alert *alertdomain.Alert) (decimal.Decimal, error)

var errMissingScope = errors.New("alert scope does not match its activity")

var valueSources = map[alertdomain.Kind]valueSource{
	alertdomain.KindUsageAmount: func(ctx context.Context, e *Evaluator, t target, _ *alertdomain.Alert) (decimal.Decimal, error) {
		if t.subscription == nil {
			return decimal.Zero, errMissingScope
		}
		return e.usageSvc.CurrentUsageAmount(ctx, t.orgID, t.subscription.ID)
	},
	alertdomain.KindLifetimeUsageAmount: func(ctx context.Context, e *Evaluator, t target, _ *alertdomain.Alert) (decimal.Decimal, error) {
		if t.subscription == nil {
			return decimal.Zero, errMissingScope
		}
		return e.usageSvc.LifetimeUsageAmount(ctx, t.orgID, t.subscription.ID)
	},
	alertdomain.KindBillableMetricUsageAmount: func(ctx context.Context, e *Evaluator, t target, alert *alertdomain.Alert) (decimal.Decimal, error) {
		if t.subscription == nil || alert.BillableMetricID == nil {
			return decimal.Zero, errMissingScope
		}
		usage, err := e.usageSvc.MetricUsage(ctx, t.orgID, t.subscription.ID, *alert.BillableMetricID)
		return usage.Amount, err
	},
	alertdomain.KindBillableMetricUsageUnits: func(ctx context.Context, e *Evaluator, t target, alert *alertdomain.Alert) (decimal.Decimal, error) {
		if t.subscription == nil || alert.BillableMetricID == nil {
			return decimal.Zero, errMissingScope
		}
		usage, err := e.usageSvc.MetricUsage(ctx, t.orgID, t.subscription.ID, *alert.BillableMetricID)
		return usage.Units, err
	},
	alertdomain.KindWalletBalanceAmount: func(ctx context.Context, e *Evaluator, t target, _ *alertdomain.Alert) (decimal.Decimal, error) {
		if t.walletID == 0 {
			return decimal.Zero, errMissingScope
		}
		return e.walletSvc.Balance(ctx, t.orgID, t.walletID)
	},
}
