package domain

// Kind selects what an alert monitors.
type Kind string

const (
	KindUsageAmount               Kind = "usage_amount"
	KindLifetimeUsageAmount       Kind = "lifetime_usage_amount"
	KindBillableMetricUsageAmount Kind = "billable_metric_usage_amount"
	KindBillableMetricUsageUnits  Kind = "billable_metric_usage_units"
	KindWalletBalanceAmount       Kind = "wallet_balance_amount"
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{
	KindUsageAmount,
	KindLifetimeUsageAmount,
	KindBillableMetricUsageAmount,
	KindBillableMetricUsageUnits,
	KindWalletBalanceAmount,
}

// Direction is the way the monitored value has to move to cross a threshold.
type Direction string

const (
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
)

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Direction is fixed per kind: usage rises, balances drain.
func (k Kind) Direction() Direction {
	if k == KindWalletBalanceAmount {
		return DirectionDecreasing
	}
	return DirectionIncreasing
}

func (k Kind) RequiresBillableMetric() bool {
	return k == KindBillableMetricUsageAmount || k == KindBillableMetricUsageUnits
}

func (k Kind) IsWallet() bool {
	return k == KindWalletBalanceAmount
}
