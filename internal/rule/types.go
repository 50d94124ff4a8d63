package rule

import (
	"fmt"
	"strings"
	"time"
)

// Action is the enforcement action a rule takes when satisfied.
type Action string

const (
	Allow  Action = "ALLOW"
	Warn   Action = "WARN"
	Modify Action = "MODIFY"
	Block  Action = "BLOCK"
)

// actionRank orders actions by severity. Higher rank wins resolution.
var actionRank = map[Action]int{
	Allow:  0,
	Warn:   1,
	Modify: 2,
	Block:  3,
}

// Rank returns the severity rank of the action (BLOCK highest).
// Unknown actions rank below ALLOW so they can never win resolution.
func (a Action) Rank() int {
	if r, ok := actionRank[a]; ok {
		return r
	}
	return -1
}

// Valid reports whether the action is one of the four known actions.
func (a Action) Valid() bool {
	_, ok := actionRank[a]
	return ok
}

// ParseAction converts a string into an Action. Case-insensitive, so
// playbook authors can write "block" or "BLOCK".
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(s))
	if !a.Valid() {
		return "", fmt.Errorf("unknown action %q (want ALLOW, WARN, MODIFY or BLOCK)", s)
	}
	return a, nil
}

// Category classifies a rule by its role in the trading playbook.
type Category string

const (
	CategoryEntry      Category = "entry"
	CategoryRisk       Category = "risk"
	CategoryDiscipline Category = "discipline"
)

// Valid reports whether the category is known.
func (c Category) Valid() bool {
	switch c {
	case CategoryEntry, CategoryRisk, CategoryDiscipline:
		return true
	}
	return false
}

// Op is a comparison operator shared by primitives and threshold terms.
type Op string

const (
	OpGT Op = ">"
	OpGE Op = ">="
	OpLT Op = "<"
	OpLE Op = "<="
	OpEQ Op = "=="
)

// Compare applies the operator to two numeric operands.
// Returns an error for unknown operators rather than defaulting false:
// a silent false could mask a misconfigured rule.
func (op Op) Compare(left, right float64) (bool, error) {
	switch op {
	case OpGT:
		return left > right, nil
	case OpGE:
		return left >= right, nil
	case OpLT:
		return left < right, nil
	case OpLE:
		return left <= right, nil
	case OpEQ:
		return left == right, nil
	default:
		return false, fmt.Errorf("unknown operator %q", string(op))
	}
}

// Valid reports whether the operator is known.
func (op Op) Valid() bool {
	switch op {
	case OpGT, OpGE, OpLT, OpLE, OpEQ:
		return true
	}
	return false
}

// PrimitiveRef is a configured instance of a primitive within a rule:
// a kind plus parameters, addressable by a rule-local ref ID.
type PrimitiveRef struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Params Object `json:"params"`
}

// Threshold compares the numeric value of a referenced primitive result
// against a configured bound.
type Threshold struct {
	Ref   string  `json:"ref"`
	Op    Op      `json:"op"`
	Bound float64 `json:"bound"`
}

// Conditions is the combination expression over a rule's primitive
// results. Group semantics:
//   - All: every referenced result must be true
//   - Any: at least one referenced result must be true
//   - None: no referenced result may be true
//   - Thresholds: every term must hold over the referenced numeric value
//
// Empty groups are skipped. A rule with no conditions at all requires
// every declared primitive to be true (implicit All).
type Conditions struct {
	All        []string    `json:"all,omitempty"`
	Any        []string    `json:"any,omitempty"`
	None       []string    `json:"none,omitempty"`
	Thresholds []Threshold `json:"thresholds,omitempty"`
}

// Empty reports whether no condition groups are configured.
func (c Conditions) Empty() bool {
	return len(c.All) == 0 && len(c.Any) == 0 && len(c.None) == 0 && len(c.Thresholds) == 0
}

// Refs returns every ref ID mentioned by any condition group.
func (c Conditions) Refs() []string {
	refs := make([]string, 0, len(c.All)+len(c.Any)+len(c.None)+len(c.Thresholds))
	refs = append(refs, c.All...)
	refs = append(refs, c.Any...)
	refs = append(refs, c.None...)
	for _, t := range c.Thresholds {
		refs = append(refs, t.Ref)
	}
	return refs
}

// StatefulSpec configures temporal enforcement for a rule whose outcome
// depends on violation history. A rule without one is stateless.
type StatefulSpec struct {
	// Lookback is the window within which a repeat violation escalates
	// Warned into Cooldown.
	Lookback time.Duration `json:"lookback"`

	// Cooldown is how long enforcement stays active after the second
	// violation.
	Cooldown time.Duration `json:"cooldown"`

	// MaxEscalation caps the escalation level. Zero means uncapped;
	// the cap is configuration, never hardcoded policy.
	MaxEscalation int `json:"max_escalation,omitempty"`
}

// Definition is a complete, evaluatable rule: a set of configured
// primitives, a combination expression, and the action taken when the
// expression is satisfied.
//
// Priority tiers break ties between rules whose actions rank equally;
// lower tier wins. Tier 0 is reserved for injected global safety rules.
type Definition struct {
	ID       string        `json:"id"`
	Category Category      `json:"category"`
	Priority int           `json:"priority"`
	Action   Action        `json:"action"`

	Primitives []PrimitiveRef `json:"primitives"`
	Conditions Conditions     `json:"conditions"`

	// Stateful, when non-nil, routes the rule through the FSM state
	// resolver: violations accumulate across cycles per subject.
	Stateful *StatefulSpec `json:"stateful,omitempty"`
}

// Ref returns the primitive reference with the given rule-local ID.
func (d *Definition) Ref(id string) (PrimitiveRef, bool) {
	for _, p := range d.Primitives {
		if p.ID == id {
			return p, true
		}
	}
	return PrimitiveRef{}, false
}
