// Package rules implements the domain rule layer: an ordered list of
// independent predicate+floor rules evaluated against the transaction, the
// identity's history statistics, and the combined model score.
//
// Rules only ever raise a floor under the final score; combination is via
// max, so evaluation order cannot change the outcome. A rule that cannot
// evaluate (missing optional data) is simply not triggered — rule
// evaluation never returns an error, so incomplete data can never cause a
// false BLOCK on its own.
package rules

import (
	"fmt"
	"time"

	"github.com/veilpay/riskengine/internal/feature"
)

// Canonical rule names, reported verbatim as explanation factors.
const (
	RuleUnknownDevice     = "Unknown Device"
	RuleHighVelocity      = "High Velocity"
	RuleHighAmountOffHour = "High Amount at Unusual Hour"
	RuleCriticalAmount    = "Critical Amount"
	RuleImpossibleTravel  = "Impossible Travel"
)

// Outcome reports one triggered rule and the score floor it imposes.
type Outcome struct {
	Rule        string  `json:"rule"`
	Triggered   bool    `json:"triggered"`
	Floor       float64 `json:"floor"`
	Description string  `json:"description"`
}

// EvalContext carries the inputs for one evaluation pass. CountLastHour
// includes the transaction being scored.
type EvalContext struct {
	Tx            *feature.Transaction
	CombinedScore float64
	CountLastHour int

	// Previous observation for the identity, when one exists.
	HasPrevious   bool
	PrevLatitude  float64
	PrevLongitude float64
	PrevTimestamp time.Time
}

// Rule is a single safety override. Evaluate returns nil when the rule is
// not triggered or cannot be evaluated.
type Rule interface {
	Name() string
	Evaluate(ec *EvalContext, th *Thresholds) *Outcome
}

// Engine evaluates all rules and combines their floors via max.
type Engine struct {
	thresholds Thresholds
	rules      []Rule
}

// NewEngine creates a rule engine. With no explicit rules it installs the
// canonical set.
func NewEngine(th Thresholds, rs ...Rule) *Engine {
	if len(rs) == 0 {
		rs = DefaultRules()
	}
	return &Engine{thresholds: th, rules: rs}
}

// DefaultRules returns the canonical rule set.
func DefaultRules() []Rule {
	return []Rule{
		&UnknownDeviceRule{},
		&VelocityRule{},
		&HighAmountOffHourRule{},
		&CriticalAmountRule{},
		&ImpossibleTravelRule{},
	}
}

// Evaluate runs every rule and returns the highest triggered floor together
// with all triggered outcomes. All triggered rules are reported, not just
// the binding one.
func (e *Engine) Evaluate(ec *EvalContext) (floor float64, outcomes []Outcome) {
	for _, r := range e.rules {
		o := r.Evaluate(ec, &e.thresholds)
		if o == nil {
			continue
		}
		outcomes = append(outcomes, *o)
		if o.Floor > floor {
			floor = o.Floor
		}
	}
	return floor, outcomes
}

// Apply escalates a combined score by the triggered floors:
// final = max(combined, floors...). Rules never reduce risk.
func (e *Engine) Apply(combined float64, ec *EvalContext) (final float64, outcomes []Outcome) {
	floor, outcomes := e.Evaluate(ec)
	if floor > combined {
		return floor, outcomes
	}
	return combined, outcomes
}

// ---------------------------------------------------------------------------
// UnknownDeviceRule: device not in the trusted set
// ---------------------------------------------------------------------------

type UnknownDeviceRule struct{}

func (r *UnknownDeviceRule) Name() string { return RuleUnknownDevice }

func (r *UnknownDeviceRule) Evaluate(ec *EvalContext, th *Thresholds) *Outcome {
	if th.TrustedDevices[ec.Tx.DeviceID] {
		return nil
	}

	floor := th.UnknownDeviceFloor
	if ec.CombinedScore > th.EscalateCombinedAbove || ec.Tx.Amount > th.HighAmount {
		floor = th.UnknownDeviceEscalatedFloor
	}
	return &Outcome{
		Rule:        r.Name(),
		Triggered:   true,
		Floor:       floor,
		Description: fmt.Sprintf("device %q is not in the trusted set", ec.Tx.DeviceID),
	}
}

// ---------------------------------------------------------------------------
// VelocityRule: too many transactions in the trailing hour
// ---------------------------------------------------------------------------

type VelocityRule struct{}

func (r *VelocityRule) Name() string { return RuleHighVelocity }

func (r *VelocityRule) Evaluate(ec *EvalContext, th *Thresholds) *Outcome {
	if ec.CountLastHour <= th.VelocityLimit {
		return nil
	}
	return &Outcome{
		Rule:        r.Name(),
		Triggered:   true,
		Floor:       th.VelocityFloor,
		Description: fmt.Sprintf("%d transactions in the trailing hour exceeds limit of %d", ec.CountLastHour, th.VelocityLimit),
	}
}

// ---------------------------------------------------------------------------
// HighAmountOffHourRule: large amount during the unusual-hours window
// ---------------------------------------------------------------------------

type HighAmountOffHourRule struct{}

func (r *HighAmountOffHourRule) Name() string { return RuleHighAmountOffHour }

func (r *HighAmountOffHourRule) Evaluate(ec *EvalContext, th *Thresholds) *Outcome {
	if ec.Tx.Amount <= th.HighAmount {
		return nil
	}
	hour := ec.Tx.Timestamp.Hour()
	if !inUnusualHours(hour, th.UnusualHourStart, th.UnusualHourEnd) {
		return nil
	}
	return &Outcome{
		Rule:        r.Name(),
		Triggered:   true,
		Floor:       th.HighAmountOffHourFloor,
		Description: fmt.Sprintf("amount %.2f above %.2f at hour %d", ec.Tx.Amount, th.HighAmount, hour),
	}
}

// inUnusualHours reports whether hour falls in the half-open window
// [start, end). A window with end < start wraps past midnight (22–6 covers
// 22, 23, 0..5); start == end is an empty window.
func inUnusualHours(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// ---------------------------------------------------------------------------
// CriticalAmountRule: amount above the critical threshold
// ---------------------------------------------------------------------------

type CriticalAmountRule struct{}

func (r *CriticalAmountRule) Name() string { return RuleCriticalAmount }

func (r *CriticalAmountRule) Evaluate(ec *EvalContext, th *Thresholds) *Outcome {
	if ec.Tx.Amount <= th.CriticalAmount {
		return nil
	}
	return &Outcome{
		Rule:        r.Name(),
		Triggered:   true,
		Floor:       th.CriticalAmountFloor,
		Description: fmt.Sprintf("amount %.2f above critical threshold %.2f", ec.Tx.Amount, th.CriticalAmount),
	}
}

// ---------------------------------------------------------------------------
// ImpossibleTravelRule: implied travel speed beyond plausibility
// ---------------------------------------------------------------------------

type ImpossibleTravelRule struct{}

func (r *ImpossibleTravelRule) Name() string { return RuleImpossibleTravel }

func (r *ImpossibleTravelRule) Evaluate(ec *EvalContext, th *Thresholds) *Outcome {
	if !ec.HasPrevious {
		return nil
	}
	elapsed := ec.Tx.Timestamp.Sub(ec.PrevTimestamp)
	if elapsed <= 0 {
		// Clock skew or replayed timestamp: cannot evaluate, not triggered.
		return nil
	}

	distKm := haversineKm(ec.PrevLatitude, ec.PrevLongitude, ec.Tx.Latitude, ec.Tx.Longitude)
	speed := distKm / elapsed.Hours()
	if speed <= th.MaxTravelSpeedKmh {
		return nil
	}
	return &Outcome{
		Rule:        r.Name(),
		Triggered:   true,
		Floor:       th.ImpossibleTravelFloor,
		Description: fmt.Sprintf("implied travel speed %.0f km/h exceeds %.0f km/h", speed, th.MaxTravelSpeedKmh),
	}
}
