package resolve

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tmom/playbook/internal/outcome"
	"github.com/tmom/playbook/internal/primitive"
	"github.com/tmom/playbook/internal/rule"
)

// Input carries everything the resolver needs for one rule: the
// definition, its stateless primitive results keyed by rule-local ref,
// the stateful result when the rule tracks violation state, and any
// evaluation failure.
type Input struct {
	Rule rule.Definition

	// Results holds the stateless primitive results keyed by ref ID.
	Results map[string]primitive.Result

	// StateResult is the violation-state result for stateful rules;
	// nil for stateless rules.
	StateResult *primitive.Result

	// Transition records the FSM phase change, for audit.
	Transition *outcome.Transition

	// Err marks the rule indeterminate: a primitive or state
	// resolution failure. The rule is reported, never silently
	// allowed.
	Err error
}

// CycleMeta identifies the cycle being resolved.
type CycleMeta struct {
	Token        string
	SnapshotSeq  int64
	SnapshotAt   int64
	SnapshotHash string
}

// Resolver combines per-rule results into per-rule outcomes and the
// per-rule outcomes into one AggregateOutcome.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve produces the cycle's outcomes.
//
// Resolution is atomic: it either returns one complete
// AggregateOutcome covering every rule, or a *MalformedRuleError when
// a rule references a result that was never supplied (an integration
// bug, fatal for the cycle). It never partially emits.
//
// A stateful rule fires when its stateless condition is satisfied this
// cycle or when its FSM state is enforcing (Cooldown or Escalated):
// suppression outlives the violation that caused it.
//
// Conservative bias: indeterminate rules set the Uncertain flag and
// raise the aggregate action to at least WARN, so a cycle degraded by
// missing data can never silently pass as a clean ALLOW.
func (r *Resolver) Resolve(meta CycleMeta, inputs []Input) (*outcome.AggregateOutcome, error) {
	outcomes := make([]outcome.RuleOutcome, 0, len(inputs))

	for _, in := range inputs {
		ro, err := r.resolveRule(in)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, ro)
	}

	// Rule ID order makes both the outcome listing and the dominance
	// scan deterministic regardless of input order.
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].RuleID < outcomes[j].RuleID })

	agg := &outcome.AggregateOutcome{
		SchemaVersion: outcome.SchemaVersion,
		CycleToken:    meta.Token,
		SnapshotSeq:   meta.SnapshotSeq,
		SnapshotAt:    meta.SnapshotAt,
		SnapshotHash:  meta.SnapshotHash,
		Rules:         outcomes,
	}

	var fired []outcome.RuleOutcome
	for _, ro := range outcomes {
		if ro.Status == outcome.StatusFired {
			fired = append(fired, ro)
		}
		if ro.Status == outcome.StatusIndeterminate {
			agg.Uncertain = true
			agg.IndeterminateRules = append(agg.IndeterminateRules, ro.RuleID)
		}
	}

	switch {
	case len(fired) > 0:
		winner, rationale := selectDominant(fired)
		agg.Action = winner.Action
		agg.DominantRule = winner.RuleID
		agg.Rationale = rationale
	default:
		agg.Action = rule.Allow
		agg.Rationale = "no rule fired"
	}

	if agg.Uncertain && agg.Action.Rank() < rule.Warn.Rank() {
		agg.Action = rule.Warn
		agg.Rationale = fmt.Sprintf("%s; raised to WARN: indeterminate rules %s",
			agg.Rationale, strings.Join(agg.IndeterminateRules, ", "))
	} else if agg.Uncertain {
		agg.Rationale = fmt.Sprintf("%s; uncertain: indeterminate rules %s",
			agg.Rationale, strings.Join(agg.IndeterminateRules, ", "))
	}

	return agg, nil
}

// resolveRule produces the per-rule outcome. Only malformed rules
// error out; evaluation failures arrive pre-marked in Input.Err and
// become indeterminate outcomes.
func (r *Resolver) resolveRule(in Input) (outcome.RuleOutcome, error) {
	def := in.Rule

	ro := outcome.RuleOutcome{
		RuleID:     def.ID,
		Category:   def.Category,
		Priority:   def.Priority,
		Transition: in.Transition,
	}

	if in.Err != nil {
		ro.Status = outcome.StatusIndeterminate
		ro.Action = def.Action
		ro.Err = in.Err.Error()
		return ro, nil
	}

	satisfied, err := evaluateConditions(def, in.Results)
	if err != nil {
		return outcome.RuleOutcome{}, err
	}

	fires := satisfied
	if in.StateResult != nil && in.StateResult.Bool {
		// Enforcement is active from a prior cycle's violations.
		fires = true
	}

	// Contributing results in declaration order, state result last.
	for _, p := range def.Primitives {
		if res, ok := in.Results[p.ID]; ok {
			ro.Results = append(ro.Results, res)
		}
	}
	if in.StateResult != nil {
		ro.Results = append(ro.Results, *in.StateResult)
	}

	if fires {
		ro.Status = outcome.StatusFired
		ro.Action = def.Action
	} else {
		ro.Status = outcome.StatusInert
		ro.Action = rule.Allow
	}
	return ro, nil
}
