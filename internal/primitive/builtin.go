package primitive

import (
	"fmt"

	"github.com/tmom/playbook/internal/rule"
	"github.com/tmom/playbook/internal/snapshot"
)

// Builtin kind names.
const (
	KindComparison        = "comparison"
	KindAccountComparison = "account_comparison"
	KindSetMembership     = "set_membership"
	KindAccumulation      = "accumulation"
	KindRateLimit         = "rate_limit"
	KindSequence          = "sequence"
	KindTemporalGate      = "temporal_gate"
)

const secondsPerDay = 86400

// Builtin returns a registry with every builtin primitive kind
// registered. Registration of the builtins cannot collide, so the
// error path is impossible by construction and panics if hit.
func Builtin() *Registry {
	r := NewRegistry()
	for _, spec := range builtinSpecs() {
		if err := r.Register(spec); err != nil {
			panic(fmt.Sprintf("builtin registry: %v", err))
		}
	}
	return r
}

func builtinSpecs() []Spec {
	return []Spec{
		{
			Kind: KindComparison,
			Params: []ParamSpec{
				{Name: "left", Type: TypeString, Required: true},
				{Name: "op", Type: TypeOp, Required: true},
				{Name: "right", Type: TypeNumber, Required: true},
			},
			Contexts: []string{"market"},
			Numeric:  true,
			Eval:     evalComparison,
		},
		{
			Kind: KindAccountComparison,
			Params: []ParamSpec{
				{Name: "field", Type: TypeString, Required: true},
				{Name: "op", Type: TypeOp, Required: true},
				{Name: "value", Type: TypeNumber, Required: true},
			},
			Contexts: []string{"account"},
			Numeric:  true,
			Eval:     evalAccountComparison,
		},
		{
			Kind: KindSetMembership,
			Params: []ParamSpec{
				{Name: "field", Type: TypeString, Required: true},
				{Name: "allowed", Type: TypeStringList},
				{Name: "forbidden", Type: TypeStringList},
			},
			Contexts: []string{"market"},
			Eval:     evalSetMembership,
		},
		{
			Kind: KindAccumulation,
			Params: []ParamSpec{
				{Name: "field", Type: TypeString, Required: true},
				{Name: "threshold", Type: TypeNumber, Required: true},
				{Name: "op", Type: TypeOp},
			},
			Contexts: []string{"market"},
			Numeric:  true,
			Eval:     evalAccumulation,
		},
		{
			Kind: KindRateLimit,
			Params: []ParamSpec{
				{Name: "metric", Type: TypeString, Required: true},
				{Name: "max", Type: TypeNumber, Required: true},
				{Name: "window_minutes", Type: TypeNumber, Required: true},
			},
			Contexts: []string{"history", "time"},
			Numeric:  true,
			Eval:     evalRateLimit,
		},
		{
			Kind: KindSequence,
			Params: []ParamSpec{
				{Name: "pattern", Type: TypeStringList, Required: true},
				{Name: "window_minutes", Type: TypeNumber},
			},
			Contexts: []string{"history", "time"},
			Eval:     evalSequence,
		},
		{
			Kind: KindTemporalGate,
			Params: []ParamSpec{
				{Name: "start_time", Type: TypeNumber},
				{Name: "end_time", Type: TypeNumber},
				{Name: "cooldown_end", Type: TypeNumber},
			},
			Contexts: []string{"time"},
			Eval:     evalTemporalGate,
		},
	}
}

// evalComparison compares a market or derived field against a constant.
func evalComparison(params rule.Object, snap *snapshot.Snapshot) (Result, error) {
	field, _ := rule.AsString(params["left"])
	opStr, _ := rule.AsString(params["op"])
	right, _ := rule.AsFloat(params["right"])

	v, ok := snap.Field(field)
	if !ok {
		return Result{}, &EvaluationError{Kind: KindComparison, Reason: fmt.Sprintf("field %q absent from snapshot", field)}
	}
	left, ok := rule.AsFloat(v)
	if !ok {
		return Result{}, &EvaluationError{Kind: KindComparison, Reason: fmt.Sprintf("field %q is not numeric", field)}
	}

	holds, err := rule.Op(opStr).Compare(left, right)
	if err != nil {
		return Result{}, &EvaluationError{Kind: KindComparison, Reason: err.Error()}
	}
	return Result{Bool: holds, Value: left, Numeric: true, Unit: "number"}, nil
}

// evalAccountComparison compares a broker account field against a
// numeric threshold.
func evalAccountComparison(params rule.Object, snap *snapshot.Snapshot) (Result, error) {
	field, _ := rule.AsString(params["field"])
	opStr, _ := rule.AsString(params["op"])
	want, _ := rule.AsFloat(params["value"])

	v, ok := snap.Account(field)
	if !ok {
		return Result{}, &EvaluationError{Kind: KindAccountComparison, Reason: fmt.Sprintf("account field %q absent from snapshot", field)}
	}
	have, ok := rule.AsFloat(v)
	if !ok {
		// Broker status flags arrive as booleans; compare as 0 or 1.
		b, isBool := rule.AsBool(v)
		if !isBool {
			return Result{}, &EvaluationError{Kind: KindAccountComparison, Reason: fmt.Sprintf("account field %q is not numeric", field)}
		}
		if b {
			have = 1
		}
	}

	holds, err := rule.Op(opStr).Compare(have, want)
	if err != nil {
		return Result{}, &EvaluationError{Kind: KindAccountComparison, Reason: err.Error()}
	}
	return Result{Bool: holds, Value: have, Numeric: true, Unit: "number"}, nil
}

// evalSetMembership restricts a field to an allowed set and/or away
// from a forbidden set. The field may live in market data or, failing
// that, the account section (e.g. account status flags).
func evalSetMembership(params rule.Object, snap *snapshot.Snapshot) (Result, error) {
	field, _ := rule.AsString(params["field"])

	v, ok := snap.Field(field)
	if !ok {
		if v, ok = snap.Account(field); !ok {
			return Result{}, &EvaluationError{Kind: KindSetMembership, Reason: fmt.Sprintf("field %q absent from snapshot", field)}
		}
	}
	s, ok := rule.AsString(v)
	if !ok {
		return Result{}, &EvaluationError{Kind: KindSetMembership, Reason: fmt.Sprintf("field %q is not a string", field)}
	}

	if allowed, ok := rule.AsStrings(params["allowed"]); ok && len(allowed) > 0 {
		if !contains(allowed, s) {
			return Result{Bool: false}, nil
		}
	}
	if forbidden, ok := rule.AsStrings(params["forbidden"]); ok && len(forbidden) > 0 {
		if contains(forbidden, s) {
			return Result{Bool: false}, nil
		}
	}
	return Result{Bool: true}, nil
}

// evalAccumulation evaluates an accumulated metric (daily loss, trade
// count today) against a threshold. Defaults to >= when no operator is
// given, since accumulations almost always cap something.
func evalAccumulation(params rule.Object, snap *snapshot.Snapshot) (Result, error) {
	field, _ := rule.AsString(params["field"])
	threshold, _ := rule.AsFloat(params["threshold"])

	op := rule.OpGE
	if s, ok := rule.AsString(params["op"]); ok {
		op = rule.Op(s)
	}

	v, ok := snap.Field(field)
	if !ok {
		return Result{}, &EvaluationError{Kind: KindAccumulation, Reason: fmt.Sprintf("field %q absent from snapshot", field)}
	}
	total, ok := rule.AsFloat(v)
	if !ok {
		return Result{}, &EvaluationError{Kind: KindAccumulation, Reason: fmt.Sprintf("field %q is not numeric", field)}
	}

	holds, err := op.Compare(total, threshold)
	if err != nil {
		return Result{}, &EvaluationError{Kind: KindAccumulation, Reason: err.Error()}
	}
	return Result{Bool: holds, Value: total, Numeric: true, Unit: "number"}, nil
}

// evalRateLimit counts events of a metric within a rolling window.
// True means within the limit; the numeric value is the in-window count
// so threshold conditions can inspect it directly.
func evalRateLimit(params rule.Object, snap *snapshot.Snapshot) (Result, error) {
	metric, _ := rule.AsString(params["metric"])
	max, _ := rule.AsFloat(params["max"])
	windowMin, _ := rule.AsFloat(params["window_minutes"])

	windowSec := int64(windowMin * 60)
	now := snap.At()

	count := 0
	for _, t := range snap.History(metric) {
		if t <= now && now-t <= windowSec {
			count++
		}
	}
	return Result{Bool: float64(count) <= max, Value: float64(count), Numeric: true, Unit: "count"}, nil
}

// evalSequence detects an ordered subsequence of events, optionally
// constrained to a rolling window (e.g. three losses in 30 minutes).
func evalSequence(params rule.Object, snap *snapshot.Snapshot) (Result, error) {
	pattern, _ := rule.AsStrings(params["pattern"])
	if len(pattern) == 0 {
		return Result{}, &EvaluationError{Kind: KindSequence, Reason: "empty pattern"}
	}

	events := snap.Events()
	if windowMin, ok := rule.AsFloat(params["window_minutes"]); ok && windowMin > 0 {
		windowSec := int64(windowMin * 60)
		now := snap.At()
		filtered := events[:0]
		for _, ev := range events {
			if ev.At <= now && now-ev.At <= windowSec {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	idx := 0
	for _, ev := range events {
		if ev.Name == pattern[idx] {
			idx++
			if idx == len(pattern) {
				return Result{Bool: true}, nil
			}
		}
	}
	return Result{Bool: false}, nil
}

// evalTemporalGate restricts evaluation to a time-of-day window
// (seconds since UTC midnight) or requires a cooldown deadline to have
// passed (unix seconds). With neither configured the gate is open.
func evalTemporalGate(params rule.Object, snap *snapshot.Snapshot) (Result, error) {
	now := snap.At()

	start, hasStart := rule.AsFloat(params["start_time"])
	end, hasEnd := rule.AsFloat(params["end_time"])
	if hasStart != hasEnd {
		return Result{}, &EvaluationError{Kind: KindTemporalGate, Reason: "start_time and end_time must be configured together"}
	}
	if hasStart {
		tod := float64(now % secondsPerDay)
		return Result{Bool: start <= tod && tod <= end}, nil
	}

	if cooldownEnd, ok := rule.AsFloat(params["cooldown_end"]); ok {
		return Result{Bool: float64(now) >= cooldownEnd}, nil
	}

	return Result{Bool: true}, nil
}

func contains(list []string, s string) bool {
	for _, elem := range list {
		if elem == s {
			return true
		}
	}
	return false
}
