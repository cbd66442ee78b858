package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// FirstEvaluationPolicy decides what an alert without a baseline does on its first evaluation.
type FirstEvaluationPolicy string

const (
	// FirstEvaluationBaseline records the current value and fires nothing.
	FirstEvaluationBaseline FirstEvaluationPolicy = "baseline"
	// FirstEvaluationFire fires every threshold the current value has already passed.
	FirstEvaluationFire FirstEvaluationPolicy = "fire"
)

// DefaultMaxRecurringTicks bounds how many multiples one recurring threshold may
// report in a single evaluation.
const DefaultMaxRecurringTicks = 10000

// ThresholdState is a threshold plus what it has already fired.
type ThresholdState struct {
	Code      string
	Value     decimal.Decimal
	Recurring bool

	// Fired is set once a one-shot threshold has fired.
	Fired bool
	// LastFiredValue is the furthest multiple a recurring threshold has fired,
	// in the alert's direction.
	LastFiredValue decimal.NullDecimal
}

type CrossingInput struct {
	Previous   decimal.NullDecimal
	Current    decimal.Decimal
	Direction  Direction
	Thresholds []ThresholdState
	Policy     FirstEvaluationPolicy
	MaxTicks   int
}

// ThresholdUpdate is the fired state to persist for Thresholds[Index].
type ThresholdUpdate struct {
	Index          int
	Fired          bool
	LastFiredValue decimal.NullDecimal
}

type CrossingResult struct {
	Crossed []CrossedThreshold
	Updates []ThresholdUpdate
	// Truncated holds the codes of recurring thresholds that hit MaxTicks.
	Truncated []string
	// Resume is set with Truncated: the least advanced watermark among the
	// truncated thresholds. Storing it as the baseline instead of Current
	// lets the next evaluation report the remaining multiples.
	Resume decimal.NullDecimal
}

// Baseline is the value to store as the alert's new previous value.
func (r CrossingResult) Baseline(current decimal.Decimal) decimal.Decimal {
	if r.Resume.Valid {
		return r.Resume.Decimal
	}
	return current
}

func (r CrossingResult) Empty() bool {
	return len(r.Crossed) == 0
}

// window is the range of values newly observed by an evaluation.
// Increasing alerts observe (low, high]; decreasing alerts observe [low, high).
type window struct {
	direction Direction
	low       decimal.Decimal
	high      decimal.Decimal
	unbounded bool
}

func (w window) contains(v decimal.Decimal) bool {
	if w.direction == DirectionDecreasing {
		if v.LessThan(w.low) {
			return false
		}
		return w.unbounded || v.LessThan(w.high)
	}
	return v.GreaterThan(w.low) && v.LessThanOrEqual(w.high)
}

// Crossings returns every threshold crossed between in.Previous and in.Current,
// ordered by value ascending with ties kept in declaration order.
func Crossings(in CrossingInput) CrossingResult {
	var result CrossingResult

	w, ok := observedWindow(in)
	if !ok {
		return result
	}

	maxTicks := in.MaxTicks
	if maxTicks <= 0 {
		maxTicks = DefaultMaxRecurringTicks
	}

	for i, th := range in.Thresholds {
		if !th.Recurring {
			if th.Fired || !w.contains(th.Value) {
				continue
			}
			result.Crossed = append(result.Crossed, CrossedThreshold{Code: th.Code, Value: th.Value})
			result.Updates = append(result.Updates, ThresholdUpdate{Index: i, Fired: true})
			continue
		}

		// A first evaluation under the fire policy has no lower bound on a
		// falling balance, so there is no finite set of multiples to report.
		if w.unbounded || th.Value.Sign() <= 0 {
			continue
		}

		multiples, truncated := recurringMultiples(w, th, maxTicks)
		if truncated {
			result.Truncated = append(result.Truncated, th.Code)
			result.holdAt(in.Direction, multiples[len(multiples)-1])
		}
		if len(multiples) == 0 {
			continue
		}
		for _, m := range multiples {
			result.Crossed = append(result.Crossed, CrossedThreshold{Code: th.Code, Value: m, Recurring: true})
		}
		result.Updates = append(result.Updates, ThresholdUpdate{
			Index:          i,
			LastFiredValue: decimal.NewNullDecimal(multiples[len(multiples)-1]),
		})
	}

	sort.SliceStable(result.Crossed, func(a, b int) bool {
		return result.Crossed[a].Value.LessThan(result.Crossed[b].Value)
	})
	return result
}

func (r *CrossingResult) holdAt(direction Direction, watermark decimal.Decimal) {
	if !r.Resume.Valid {
		r.Resume = decimal.NewNullDecimal(watermark)
		return
	}
	if direction == DirectionDecreasing && watermark.GreaterThan(r.Resume.Decimal) ||
		direction != DirectionDecreasing && watermark.LessThan(r.Resume.Decimal) {
		r.Resume = decimal.NewNullDecimal(watermark)
	}
}

func observedWindow(in CrossingInput) (window, bool) {
	w := window{direction: in.Direction}

	if !in.Previous.Valid {
		if in.Policy != FirstEvaluationFire {
			return w, false
		}
		if in.Direction == DirectionDecreasing {
			w.low = in.Current
			w.unbounded = true
			return w, true
		}
		w.low = decimal.Zero
		w.high = in.Current
		return w, in.Current.GreaterThan(decimal.Zero)
	}

	prev := in.Previous.Decimal
	if in.Direction == DirectionDecreasing {
		w.low, w.high = in.Current, prev
		return w, in.Current.LessThan(prev)
	}
	w.low, w.high = prev, in.Current
	return w, in.Current.GreaterThan(prev)
}

// recurringMultiples lists the multiples of th.Value inside w that have not fired
// yet, walking away from the baseline. The last element is the new watermark.
func recurringMultiples(w window, th ThresholdState, maxTicks int) ([]decimal.Decimal, bool) {
	step := th.Value
	var out []decimal.Decimal

	if w.direction == DirectionDecreasing {
		upper := w.high
		if th.LastFiredValue.Valid && th.LastFiredValue.Decimal.LessThan(upper) {
			upper = th.LastFiredValue.Decimal
		}
		for m := lastMultipleBelow(upper, step); m.Sign() > 0 && m.GreaterThanOrEqual(w.low); m = m.Sub(step) {
			if len(out) == maxTicks {
				return out, true
			}
			out = append(out, m)
		}
		return out, false
	}

	lower := w.low
	if th.LastFiredValue.Valid && th.LastFiredValue.Decimal.GreaterThan(lower) {
		lower = th.LastFiredValue.Decimal
	}
	for m := firstMultipleAbove(lower, step); m.LessThanOrEqual(w.high); m = m.Add(step) {
		if len(out) == maxTicks {
			return out, true
		}
		out = append(out, m)
	}
	return out, false
}

// firstMultipleAbove returns the smallest k*step with k >= 1 and k*step > x.
func firstMultipleAbove(x, step decimal.Decimal) decimal.Decimal {
	if x.Sign() < 0 {
		return step
	}
	q, _ := x.QuoRem(step, 0)
	return q.Add(decimal.NewFromInt(1)).Mul(step)
}

// lastMultipleBelow returns the largest k*step with k >= 1 and k*step < x, or zero.
func lastMultipleBelow(x, step decimal.Decimal) decimal.Decimal {
	if x.LessThanOrEqual(step) {
		return decimal.Zero
	}
	q, rem := x.QuoRem(step, 0)
	if rem.IsZero() {
		q = q.Sub(decimal.NewFromInt(1))
	}
	return q.Mul(step)
}
