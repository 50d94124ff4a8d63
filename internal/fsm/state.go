package fsm

import (
	"fmt"
)

// Phase is the named FSM state of a (rule, subject) pair.
type Phase string

const (
	PhaseNormal    Phase = "normal"
	PhaseWarned    Phase = "warned"
	PhaseCooldown  Phase = "cooldown"
	PhaseEscalated Phase = "escalated"
)

// Valid reports whether the phase is one of the four known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseNormal, PhaseWarned, PhaseCooldown, PhaseEscalated:
		return true
	}
	return false
}

// Enforcing reports whether the phase actively suppresses trading.
// Warned is advisory; Cooldown and Escalated enforce.
func (p Phase) Enforcing() bool {
	return p == PhaseCooldown || p == PhaseEscalated
}

// Key identifies one tracked entity: a rule applied to a subject
// (an account or an instrument).
type Key struct {
	RuleID  string `json:"rule_id"`
	Subject string `json:"subject"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.RuleID, k.Subject)
}

// EntityState is the persisted FSM record for one Key. Owned by the
// resolver; stored across cycles by an external persistence
// collaborator that must treat each key as a single-writer resource.
type EntityState struct {
	Phase Phase `json:"phase"`

	// EnteredAt is when the current phase was entered (unix seconds).
	EnteredAt int64 `json:"entered_at"`

	// Violations counts every observed violation across the record's
	// lifetime. Audit data; transitions use RecentViolations.
	Violations int `json:"violations"`

	// RecentViolations holds violation timestamps still inside the
	// rule's lookback window, ascending.
	RecentViolations []int64 `json:"recent_violations,omitempty"`

	// CooldownUntil is the scheduled expiry while Phase is Cooldown.
	CooldownUntil int64 `json:"cooldown_until,omitempty"`

	// EscalationLevel is the current level while Phase is Escalated.
	EscalationLevel int `json:"escalation_level,omitempty"`
}

// Initial returns the state for a subject with no prior record.
func Initial() EntityState {
	return EntityState{Phase: PhaseNormal}
}

// IsZero reports whether the state is an empty record (never resolved,
// never persisted). The resolver treats it as Initial().
func (s EntityState) IsZero() bool {
	return s.Phase == "" && s.EnteredAt == 0 && s.Violations == 0 &&
		len(s.RecentViolations) == 0 && s.CooldownUntil == 0 && s.EscalationLevel == 0
}

// clone deep-copies the state so transitions never alias the caller's
// slice.
func (s EntityState) clone() EntityState {
	out := s
	if len(s.RecentViolations) > 0 {
		out.RecentViolations = make([]int64, len(s.RecentViolations))
		copy(out.RecentViolations, s.RecentViolations)
	}
	return out
}
