package fsm

import (
	"errors"
	"fmt"

	"github.com/tmom/playbook/internal/primitive"
	"github.com/tmom/playbook/internal/rule"
	"github.com/tmom/playbook/internal/snapshot"
)

// KindViolationState is the kind tag carried by stateful results. It is
// not a registry kind: the resolver produces these results directly.
const KindViolationState = "violation_state"

// InvalidStateError reports a persisted state inconsistent with the
// rule's configuration. This signals a persistence bug and is surfaced,
// never silently repaired: auto-correcting could mask the bug and
// wrongly trigger or skip enforcement.
type InvalidStateError struct {
	Key    Key
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid entity state for %s: %s", e.Key, e.Reason)
}

// IsInvalidState reports whether err is (or wraps) an InvalidStateError.
func IsInvalidState(err error) bool {
	var ie *InvalidStateError
	return errors.As(err, &ie)
}

// Resolver evaluates stateful primitives. Stateless by itself: all
// per-entity state is threaded through Resolve explicitly.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve advances the FSM for one (rule, subject) pair by one cycle.
//
// violated is the outcome of the rule's stateless condition for this
// cycle. The returned Result reports whether enforcement is active
// after the transition; the returned EntityState is for the caller to
// persist. Resolve is pure: same inputs, same outputs.
//
// Transitions:
//
//	Normal    --violation--> Warned
//	Warned    --violation within lookback--> Cooldown(now+cooldown)
//	Cooldown  --expiry reached, quiet--> Normal
//	Cooldown  --violation before expiry--> Escalated(level+1)
//	Cooldown  --expiry reached, violation--> Warned (fresh offense)
//	Escalated --violation--> Escalated(level+1), capped by MaxEscalation
//
// Phases persist when nothing triggers; only cooldown expiry returns a
// subject to Normal without an explicit reset.
func (r *Resolver) Resolve(
	key Key,
	spec rule.StatefulSpec,
	snap *snapshot.Snapshot,
	prior EntityState,
	violated bool,
) (primitive.Result, EntityState, error) {
	if prior.IsZero() {
		prior = Initial()
	}

	if err := validateState(key, spec, prior, snap.At()); err != nil {
		return primitive.Result{}, EntityState{}, err
	}

	next := transition(spec, snap.At(), prior.clone(), violated)

	res, err := stateResult(key, snap, next)
	if err != nil {
		return primitive.Result{}, EntityState{}, err
	}
	return res, next, nil
}

// validateState rejects persisted records that contradict the rule's
// configuration or basic causality.
func validateState(key Key, spec rule.StatefulSpec, s EntityState, now int64) error {
	bad := func(format string, args ...any) error {
		return &InvalidStateError{Key: key, Reason: fmt.Sprintf(format, args...)}
	}

	if !s.Phase.Valid() {
		return bad("unknown phase %q", string(s.Phase))
	}
	if s.Violations < 0 {
		return bad("negative violation counter %d", s.Violations)
	}
	if s.EnteredAt > now {
		return bad("phase entered at %d, after snapshot time %d", s.EnteredAt, now)
	}
	switch s.Phase {
	case PhaseCooldown:
		if s.CooldownUntil == 0 {
			return bad("cooldown phase without scheduled expiry")
		}
		if s.CooldownUntil < s.EnteredAt {
			return bad("cooldown expiry %d precedes phase entry %d", s.CooldownUntil, s.EnteredAt)
		}
	case PhaseEscalated:
		if s.EscalationLevel < 1 {
			return bad("escalated phase with level %d", s.EscalationLevel)
		}
		if spec.MaxEscalation > 0 && s.EscalationLevel > spec.MaxEscalation {
			return bad("escalation level %d exceeds configured max %d", s.EscalationLevel, spec.MaxEscalation)
		}
	}
	return nil
}

// transition computes the successor state. Total over every
// (phase, violated, expiry) combination.
func transition(spec rule.StatefulSpec, now int64, s EntityState, violated bool) EntityState {
	if violated {
		s.Violations++
		s.RecentViolations = append(s.RecentViolations, now)
	}
	s.RecentViolations = pruneLookback(s.RecentViolations, now, spec)

	switch s.Phase {
	case PhaseNormal:
		if violated {
			return enterPhase(s, PhaseWarned, now)
		}
		return s

	case PhaseWarned:
		if !violated {
			return s
		}
		// Second violation only escalates when a prior one is still
		// inside the lookback window; otherwise this is a fresh
		// first offense and the subject stays Warned.
		if len(s.RecentViolations) >= 2 {
			s = enterPhase(s, PhaseCooldown, now)
			s.CooldownUntil = now + int64(spec.Cooldown.Seconds())
			return s
		}
		return s

	case PhaseCooldown:
		expired := now >= s.CooldownUntil
		switch {
		case violated && !expired:
			level := s.EscalationLevel + 1
			if spec.MaxEscalation > 0 && level > spec.MaxEscalation {
				level = spec.MaxEscalation
			}
			s = enterPhase(s, PhaseEscalated, now)
			s.CooldownUntil = 0
			s.EscalationLevel = level
			return s
		case violated && expired:
			// Cooldown served; the new violation restarts the ladder
			// one step up from Normal.
			s = enterPhase(s, PhaseWarned, now)
			s.CooldownUntil = 0
			return s
		case expired:
			s = enterPhase(s, PhaseNormal, now)
			s.CooldownUntil = 0
			s.EscalationLevel = 0
			return s
		default:
			return s
		}

	case PhaseEscalated:
		if violated {
			level := s.EscalationLevel + 1
			if spec.MaxEscalation > 0 && level > spec.MaxEscalation {
				level = spec.MaxEscalation
			}
			s.EscalationLevel = level
			s.EnteredAt = now
		}
		return s
	}

	// Unreachable: validateState rejects unknown phases.
	return s
}

func enterPhase(s EntityState, p Phase, now int64) EntityState {
	s.Phase = p
	s.EnteredAt = now
	return s
}

// pruneLookback drops violation timestamps that fell out of the
// lookback window. A zero lookback keeps only the current cycle's
// violation.
func pruneLookback(ts []int64, now int64, spec rule.StatefulSpec) []int64 {
	if len(ts) == 0 {
		return ts
	}
	lookback := int64(spec.Lookback.Seconds())
	kept := ts[:0]
	for _, t := range ts {
		if now-t <= lookback {
			kept = append(kept, t)
		}
	}
	return kept
}

// stateResult renders the post-transition state as a primitive result:
// the "cooldown active" style answer stateful rules combine on.
func stateResult(key Key, snap *snapshot.Snapshot, s EntityState) (primitive.Result, error) {
	hash, err := rule.ParamsHash(KindViolationState, rule.Object{
		"rule_id": rule.Str(key.RuleID),
		"subject": rule.Str(key.Subject),
	})
	if err != nil {
		return primitive.Result{}, fmt.Errorf("state result hash: %w", err)
	}

	return primitive.Result{
		Kind:        KindViolationState,
		Bool:        s.Phase.Enforcing(),
		Value:       float64(s.EscalationLevel),
		Numeric:     true,
		Unit:        "level",
		SnapshotSeq: snap.Seq(),
		At:          snap.At(),
		ParamsHash:  hash,
	}, nil
}
