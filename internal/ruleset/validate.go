package ruleset

import (
	"fmt"

	"github.com/tmom/playbook/internal/primitive"
	"github.com/tmom/playbook/internal/rule"
)

// Validation error codes (RV100-RV199).
const (
	ErrDuplicateRuleID    = "RV100" // rule id declared twice
	ErrBadCategory        = "RV101" // unknown category
	ErrBadPriority        = "RV102" // negative priority
	ErrReservedPriority   = "RV103" // tier 0 is reserved for safety rules
	ErrUnknownKind        = "RV110" // primitive kind not registered
	ErrDuplicateRef       = "RV111" // primitive ref id declared twice
	ErrUnresolvedRef      = "RV120" // condition references unknown primitive
	ErrNonNumericRef      = "RV121" // threshold over a non-numeric primitive
	ErrBadThresholdOp     = "RV122" // unknown threshold operator
	ErrBadStatefulConfig  = "RV130" // non-positive lookback/cooldown
	ErrBadEscalationLimit = "RV131" // max escalation below 1
)

// ValidationError represents a rule schema violation.
type ValidationError struct {
	Code    string `json:"code"`
	RuleID  string `json:"rule_id"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] rule %s: %s: %s", e.Code, e.RuleID, e.Field, e.Message)
}

// Validate checks compiled rules against the registry and the
// structural invariants the engine assumes. Returns all errors found
// (does not fail-fast). A rule set that passes Validate can never
// produce a MalformedRuleError at evaluation time.
//
// allowReserved admits tier 0 priorities, which user playbooks may not
// claim; only the built-in safety rules load with it set.
func Validate(defs []rule.Definition, reg *primitive.Registry, allowReserved bool) []ValidationError {
	var errs []ValidationError
	add := func(code, ruleID, field, format string, args ...any) {
		errs = append(errs, ValidationError{
			Code: code, RuleID: ruleID, Field: field,
			Message: fmt.Sprintf(format, args...),
		})
	}

	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if seen[def.ID] {
			add(ErrDuplicateRuleID, def.ID, "id", "duplicate rule id")
			continue
		}
		seen[def.ID] = true

		switch def.Category {
		case rule.CategoryEntry, rule.CategoryRisk, rule.CategoryDiscipline:
		default:
			add(ErrBadCategory, def.ID, "category", "unknown category %q", def.Category)
		}

		if def.Priority < 0 {
			add(ErrBadPriority, def.ID, "priority", "priority must be non-negative, got %d", def.Priority)
		} else if def.Priority == 0 && !allowReserved {
			add(ErrReservedPriority, def.ID, "priority", "priority 0 is reserved for account safety rules")
		}

		refs := make(map[string]string, len(def.Primitives)) // ref id -> kind
		for _, p := range def.Primitives {
			if _, dup := refs[p.ID]; dup {
				add(ErrDuplicateRef, def.ID, "primitive."+p.ID, "duplicate primitive ref")
				continue
			}
			refs[p.ID] = p.Kind
			if _, ok := reg.Spec(p.Kind); !ok {
				add(ErrUnknownKind, def.ID, "primitive."+p.ID, "unknown primitive kind %q", p.Kind)
			}
		}

		validateConditions(def, refs, reg, add)
		validateStateful(def, add)
	}

	return errs
}

func validateConditions(
	def rule.Definition,
	refs map[string]string,
	reg *primitive.Registry,
	add func(code, ruleID, field, format string, args ...any),
) {
	checkGroup := func(field string, group []string) {
		for _, ref := range group {
			if _, ok := refs[ref]; !ok {
				add(ErrUnresolvedRef, def.ID, field, "unknown primitive ref %q", ref)
			}
		}
	}
	checkGroup("conditions.all", def.Conditions.All)
	checkGroup("conditions.any", def.Conditions.Any)
	checkGroup("conditions.none", def.Conditions.None)

	for i, th := range def.Conditions.Thresholds {
		field := fmt.Sprintf("conditions.thresholds[%d]", i)
		kind, ok := refs[th.Ref]
		if !ok {
			add(ErrUnresolvedRef, def.ID, field, "unknown primitive ref %q", th.Ref)
			continue
		}
		if spec, ok := reg.Spec(kind); ok && !spec.Numeric {
			add(ErrNonNumericRef, def.ID, field, "primitive kind %q produces no numeric value", kind)
		}
		switch th.Op {
		case rule.OpGT, rule.OpGE, rule.OpLT, rule.OpLE, rule.OpEQ:
		default:
			add(ErrBadThresholdOp, def.ID, field, "unknown operator %q", th.Op)
		}
	}
}

func validateStateful(def rule.Definition, add func(code, ruleID, field, format string, args ...any)) {
	if def.Stateful == nil {
		return
	}
	if def.Stateful.Lookback <= 0 {
		add(ErrBadStatefulConfig, def.ID, "stateful.lookback_minutes", "lookback must be positive")
	}
	if def.Stateful.Cooldown <= 0 {
		add(ErrBadStatefulConfig, def.ID, "stateful.cooldown_minutes", "cooldown must be positive")
	}
	if def.Stateful.MaxEscalation < 1 {
		add(ErrBadEscalationLimit, def.ID, "stateful.max_escalation", "max escalation must be at least 1, got %d", def.Stateful.MaxEscalation)
	}
}
