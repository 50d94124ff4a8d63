// Package outcome defines the engine's output model: one RuleOutcome
// per rule per cycle plus the single AggregateOutcome enforced across
// all rules. The schema is versioned so downstream consumers (broker
// adapters, audit logging, analytics) can rely on field presence
// across releases.
package outcome

import (
	"github.com/tmom/playbook/internal/fsm"
	"github.com/tmom/playbook/internal/primitive"
	"github.com/tmom/playbook/internal/rule"
)

// SchemaVersion identifies the outcome schema for downstream consumers.
const SchemaVersion = "playbook/outcome/v1"

// Status reports how a rule participated in the cycle.
type Status string

const (
	// StatusFired: the combination expression was satisfied and the
	// rule's configured action applies.
	StatusFired Status = "fired"

	// StatusInert: the rule evaluated cleanly but its expression was
	// not satisfied; implicitly ALLOW for this cycle.
	StatusInert Status = "inert"

	// StatusIndeterminate: the rule could not be fully evaluated.
	// Never silently ALLOW - the aggregate records the uncertainty.
	StatusIndeterminate Status = "indeterminate"
)

// Transition records an FSM phase change for a stateful rule, kept on
// the outcome for audit.
type Transition struct {
	Subject       string    `json:"subject"`
	From          fsm.Phase `json:"from"`
	To            fsm.Phase `json:"to"`
	Level         int       `json:"level,omitempty"`
	CooldownUntil int64     `json:"cooldown_until,omitempty"`
}

// RuleOutcome is the per-rule decision for one cycle.
type RuleOutcome struct {
	RuleID   string        `json:"rule_id"`
	Category rule.Category `json:"category"`
	Priority int           `json:"priority"`

	// Action is the rule's effective action: the configured action
	// when fired, ALLOW when inert. For indeterminate rules it is the
	// configured action that was at stake, so the uncertainty's
	// severity is visible downstream.
	Action rule.Action `json:"action"`

	Status Status `json:"status"`

	// Results are the contributing primitive results, in the rule's
	// declaration order.
	Results []primitive.Result `json:"results,omitempty"`

	// Transition is present for stateful rules that were resolved
	// this cycle.
	Transition *Transition `json:"transition,omitempty"`

	// Err holds the failure description for indeterminate rules.
	Err string `json:"error,omitempty"`

	// Metadata carries free-form explanation text for downstream
	// display.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AggregateOutcome is the single enforced decision for a cycle.
type AggregateOutcome struct {
	SchemaVersion string `json:"schema_version"`

	// CycleToken correlates this outcome with logs and external
	// enforcement records.
	CycleToken string `json:"cycle_token"`

	SnapshotSeq  int64  `json:"snapshot_seq"`
	SnapshotAt   int64  `json:"snapshot_at"`
	SnapshotHash string `json:"snapshot_hash"`

	// Action is the winning action under precedence ordering.
	Action rule.Action `json:"action"`

	// DominantRule is the rule whose action was selected; empty when
	// no rule fired.
	DominantRule string `json:"dominant_rule,omitempty"`

	// Rationale explains the precedence decision, built from the
	// actual comparison chain.
	Rationale string `json:"rationale"`

	// Uncertain is set when any rule was indeterminate; the aggregate
	// action is then conservatively raised to at least WARN.
	Uncertain          bool     `json:"uncertain,omitempty"`
	IndeterminateRules []string `json:"indeterminate_rules,omitempty"`

	// Rules holds every per-rule outcome, in rule ID order.
	Rules []RuleOutcome `json:"rules"`
}

// Hash computes the content-addressed identity of the aggregate
// outcome. Replay verification compares these hashes: identical inputs
// must reproduce identical outcome hashes.
func (a *AggregateOutcome) Hash() (string, error) {
	return rule.HashCanonical(rule.DomainOutcome, a.canonical())
}

// CanonicalJSON renders the outcome in its canonical byte form, the
// exact bytes the Hash covers. The audit store persists this form so a
// recorded outcome and its hash stay verifiable together.
func (a *AggregateOutcome) CanonicalJSON() ([]byte, error) {
	return rule.MarshalCanonical(a.canonical())
}

// canonical renders the outcome as plain Go values acceptable to
// rule.MarshalCanonical. Maps with absent fields omitted, never null.
func (a *AggregateOutcome) canonical() map[string]any {
	rules := make([]any, len(a.Rules))
	for i, ro := range a.Rules {
		rules[i] = ro.canonical()
	}

	m := map[string]any{
		"schema_version": a.SchemaVersion,
		"cycle_token":    a.CycleToken,
		"snapshot_seq":   a.SnapshotSeq,
		"snapshot_at":    a.SnapshotAt,
		"snapshot_hash":  a.SnapshotHash,
		"action":         string(a.Action),
		"rationale":      a.Rationale,
		"rules":          rules,
	}
	if a.DominantRule != "" {
		m["dominant_rule"] = a.DominantRule
	}
	if a.Uncertain {
		m["uncertain"] = true
		indet := make([]any, len(a.IndeterminateRules))
		for i, id := range a.IndeterminateRules {
			indet[i] = id
		}
		m["indeterminate_rules"] = indet
	}
	return m
}

func (ro RuleOutcome) canonical() map[string]any {
	results := make([]any, len(ro.Results))
	for i, res := range ro.Results {
		r := map[string]any{
			"ref":          res.Ref,
			"kind":         res.Kind,
			"bool":         res.Bool,
			"snapshot_seq": res.SnapshotSeq,
			"params_hash":  res.ParamsHash,
		}
		if res.Numeric {
			r["numeric"] = true
			r["value"] = res.Value
			r["unit"] = res.Unit
		}
		results[i] = r
	}

	m := map[string]any{
		"rule_id":  ro.RuleID,
		"category": string(ro.Category),
		"priority": ro.Priority,
		"action":   string(ro.Action),
		"status":   string(ro.Status),
		"results":  results,
	}
	if ro.Transition != nil {
		t := map[string]any{
			"subject": ro.Transition.Subject,
			"from":    string(ro.Transition.From),
			"to":      string(ro.Transition.To),
		}
		if ro.Transition.Level > 0 {
			t["level"] = ro.Transition.Level
		}
		if ro.Transition.CooldownUntil > 0 {
			t["cooldown_until"] = ro.Transition.CooldownUntil
		}
		m["transition"] = t
	}
	if ro.Err != "" {
		m["error"] = ro.Err
	}
	if len(ro.Metadata) > 0 {
		meta := make(map[string]any, len(ro.Metadata))
		for k, v := range ro.Metadata {
			meta[k] = v
		}
		m["metadata"] = meta
	}
	return m
}
