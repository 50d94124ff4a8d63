package resolve

import (
	"errors"
	"fmt"

	"github.com/tmom/playbook/internal/primitive"
	"github.com/tmom/playbook/internal/rule"
)

// MalformedRuleError reports a rule whose conditions reference a
// primitive result that was not supplied. Rule sets are validated
// upstream, so this is a programming/integration error and is fatal
// for the cycle.
type MalformedRuleError struct {
	RuleID string
	Ref    string
	Reason string
}

func (e *MalformedRuleError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("malformed rule %s: ref %q: %s", e.RuleID, e.Ref, e.Reason)
	}
	return fmt.Sprintf("malformed rule %s: %s", e.RuleID, e.Reason)
}

// IsMalformedRule reports whether err is (or wraps) a MalformedRuleError.
func IsMalformedRule(err error) bool {
	var me *MalformedRuleError
	return errors.As(err, &me)
}

// ConditionsSatisfied applies a rule's combination expression to its
// primitive results. Callers that need the trigger ahead of full
// resolution (state transitions key off it) use this directly.
func ConditionsSatisfied(def rule.Definition, results map[string]primitive.Result) (bool, error) {
	return evaluateConditions(def, results)
}

// evaluateConditions applies a rule's combination expression to its
// primitive results. Short-circuit: the first failing group decides.
//
// A rule with no configured conditions requires every declared
// primitive to be true (implicit all).
func evaluateConditions(def rule.Definition, results map[string]primitive.Result) (bool, error) {
	conds := def.Conditions
	if conds.Empty() {
		for _, p := range def.Primitives {
			res, ok := results[p.ID]
			if !ok {
				return false, &MalformedRuleError{RuleID: def.ID, Ref: p.ID, Reason: "result not supplied"}
			}
			if !res.Bool {
				return false, nil
			}
		}
		return true, nil
	}

	lookup := func(ref string) (primitive.Result, error) {
		res, ok := results[ref]
		if !ok {
			return primitive.Result{}, &MalformedRuleError{RuleID: def.ID, Ref: ref, Reason: "result not supplied"}
		}
		return res, nil
	}

	for _, ref := range conds.All {
		res, err := lookup(ref)
		if err != nil {
			return false, err
		}
		if !res.Bool {
			return false, nil
		}
	}

	if len(conds.Any) > 0 {
		matched := false
		for _, ref := range conds.Any {
			res, err := lookup(ref)
			if err != nil {
				return false, err
			}
			if res.Bool {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}

	for _, ref := range conds.None {
		res, err := lookup(ref)
		if err != nil {
			return false, err
		}
		if res.Bool {
			return false, nil
		}
	}

	for _, term := range conds.Thresholds {
		res, err := lookup(term.Ref)
		if err != nil {
			return false, err
		}
		if !res.Numeric {
			return false, &MalformedRuleError{RuleID: def.ID, Ref: term.Ref, Reason: "threshold over non-numeric result"}
		}
		holds, err := term.Op.Compare(res.Value, term.Bound)
		if err != nil {
			return false, &MalformedRuleError{RuleID: def.ID, Ref: term.Ref, Reason: err.Error()}
		}
		if !holds {
			return false, nil
		}
	}

	return true, nil
}
