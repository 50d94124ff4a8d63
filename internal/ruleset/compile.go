package ruleset

import (
	"fmt"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/tmom/playbook/internal/rule"
)

// CompileError is a single rule compilation failure with CUE position
// information when available.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileRule parses a CUE value into a rule Definition. The rule's ID
// is its struct label, e.g.:
//
//	playbook: rule: max_drawdown: {
//	    category: "risk"
//	    priority: 1
//	    action:   "block"
//	    ...
//	}
func CompileRule(v cue.Value) (rule.Definition, error) {
	var def rule.Definition

	if err := v.Err(); err != nil {
		return def, &CompileError{Field: "rule", Message: err.Error(), Pos: v.Pos()}
	}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		def.ID = labels[len(labels)-1].String()
	}
	if def.ID == "" {
		return def, &CompileError{Field: "rule", Message: "rule has no id label", Pos: v.Pos()}
	}

	category, err := requireString(v, "category")
	if err != nil {
		return def, err
	}
	def.Category = rule.Category(category)

	priority, err := requireInt(v, "priority")
	if err != nil {
		return def, err
	}
	def.Priority = int(priority)

	actionStr, err := requireString(v, "action")
	if err != nil {
		return def, err
	}
	action, err := rule.ParseAction(actionStr)
	if err != nil {
		return def, &CompileError{Field: "action", Message: err.Error(), Pos: v.Pos()}
	}
	def.Action = action

	def.Primitives, err = parsePrimitives(v)
	if err != nil {
		return def, err
	}
	if len(def.Primitives) == 0 {
		return def, &CompileError{Field: "primitive", Message: "at least one primitive is required", Pos: v.Pos()}
	}

	def.Conditions, err = parseConditions(v)
	if err != nil {
		return def, err
	}

	def.Stateful, err = parseStateful(v)
	if err != nil {
		return def, err
	}

	return def, nil
}

// parsePrimitives parses the rule's primitive references. Each entry
// is labeled with its rule-local ref id:
//
//	primitive: dd: {kind: "comparison", params: {left: "drawdown_pct", op: ">=", right: 10.0}}
func parsePrimitives(v cue.Value) ([]rule.PrimitiveRef, error) {
	primsVal := v.LookupPath(cue.ParsePath("primitive"))
	if !primsVal.Exists() {
		return nil, nil
	}

	iter, err := primsVal.Fields()
	if err != nil {
		return nil, &CompileError{Field: "primitive", Message: err.Error(), Pos: primsVal.Pos()}
	}

	var refs []rule.PrimitiveRef
	for iter.Next() {
		pv := iter.Value()
		ref := rule.PrimitiveRef{ID: iter.Label()}

		kind, err := requireString(pv, "kind")
		if err != nil {
			return nil, err
		}
		ref.Kind = kind

		paramsVal := pv.LookupPath(cue.ParsePath("params"))
		if paramsVal.Exists() {
			params, err := parseParams(paramsVal)
			if err != nil {
				return nil, err
			}
			ref.Params = params
		} else {
			ref.Params = rule.Object{}
		}

		refs = append(refs, ref)
	}
	return refs, nil
}

// parseParams converts a CUE params struct into a rule Object. Only
// the value shapes the primitive contracts use are accepted: strings,
// numbers, booleans and lists of strings.
func parseParams(v cue.Value) (rule.Object, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, &CompileError{Field: "params", Message: err.Error(), Pos: v.Pos()}
	}

	params := rule.Object{}
	for iter.Next() {
		name := iter.Label()
		fv := iter.Value()

		val, err := paramValue(fv)
		if err != nil {
			return nil, &CompileError{
				Field:   "params." + name,
				Message: err.Error(),
				Pos:     fv.Pos(),
			}
		}
		params[name] = val
	}
	return params, nil
}

func paramValue(v cue.Value) (rule.Value, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, err
		}
		return rule.Str(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, err
		}
		return rule.Int(n), nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, err
		}
		return rule.Float(f), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, err
		}
		return rule.Bool(b), nil
	case cue.ListKind:
		list, err := v.List()
		if err != nil {
			return nil, err
		}
		var arr rule.Array
		for list.Next() {
			s, err := list.Value().String()
			if err != nil {
				return nil, fmt.Errorf("list element: %w", err)
			}
			arr = append(arr, rule.Str(s))
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unsupported param kind %v", v.Kind())
	}
}

// parseConditions parses the optional conditions block. Absent
// conditions mean implicit all over the declared primitives.
func parseConditions(v cue.Value) (rule.Conditions, error) {
	var conds rule.Conditions

	condsVal := v.LookupPath(cue.ParsePath("conditions"))
	if !condsVal.Exists() {
		return conds, nil
	}

	var err error
	if conds.All, err = stringList(condsVal, "all"); err != nil {
		return conds, err
	}
	if conds.Any, err = stringList(condsVal, "any"); err != nil {
		return conds, err
	}
	if conds.None, err = stringList(condsVal, "none"); err != nil {
		return conds, err
	}

	thVal := condsVal.LookupPath(cue.ParsePath("thresholds"))
	if thVal.Exists() {
		list, err := thVal.List()
		if err != nil {
			return conds, &CompileError{Field: "conditions.thresholds", Message: err.Error(), Pos: thVal.Pos()}
		}
		for list.Next() {
			tv := list.Value()
			var th rule.Threshold
			if th.Ref, err = requireString(tv, "ref"); err != nil {
				return conds, err
			}
			opStr, err := requireString(tv, "op")
			if err != nil {
				return conds, err
			}
			th.Op = rule.Op(opStr)
			bound, err := requireFloat(tv, "bound")
			if err != nil {
				return conds, err
			}
			th.Bound = bound
			conds.Thresholds = append(conds.Thresholds, th)
		}
	}

	return conds, nil
}

// parseStateful parses the optional stateful block. Durations are
// given in minutes, the granularity trading playbooks think in.
func parseStateful(v cue.Value) (*rule.StatefulSpec, error) {
	sv := v.LookupPath(cue.ParsePath("stateful"))
	if !sv.Exists() {
		return nil, nil
	}

	lookback, err := requireFloat(sv, "lookback_minutes")
	if err != nil {
		return nil, err
	}
	cooldown, err := requireFloat(sv, "cooldown_minutes")
	if err != nil {
		return nil, err
	}
	maxEsc, err := requireInt(sv, "max_escalation")
	if err != nil {
		return nil, err
	}

	return &rule.StatefulSpec{
		Lookback:      time.Duration(lookback * float64(time.Minute)),
		Cooldown:      time.Duration(cooldown * float64(time.Minute)),
		MaxEscalation: int(maxEsc),
	}, nil
}

func requireString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", &CompileError{Field: field, Message: err.Error(), Pos: fv.Pos()}
	}
	return s, nil
}

func requireInt(v cue.Value, field string) (int64, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, &CompileError{Field: field, Message: err.Error(), Pos: fv.Pos()}
	}
	return n, nil
}

func requireFloat(v cue.Value, field string) (float64, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	f, err := fv.Float64()
	if err != nil {
		return 0, &CompileError{Field: field, Message: err.Error(), Pos: fv.Pos()}
	}
	return f, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	list, err := fv.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: err.Error(), Pos: fv.Pos()}
	}
	var out []string
	for list.Next() {
		s, err := list.Value().String()
		if err != nil {
			return nil, &CompileError{Field: field, Message: err.Error(), Pos: fv.Pos()}
		}
		out = append(out, s)
	}
	return out, nil
}
