package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tmom/playbook/internal/fsm"
)

// StateRecord is one persisted (rule, subject) state row.
type StateRecord struct {
	Key        fsm.Key
	State      fsm.EntityState
	UpdatedSeq int64
}

// ReadState loads the persisted violation state for one (rule,
// subject) pair. The second return is false when no row exists, which
// the engine treats as the Normal initial state.
func (s *Store) ReadState(ctx context.Context, key fsm.Key) (fsm.EntityState, bool, error) {
	var (
		st     fsm.EntityState
		phase  string
		recent string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT phase, entered_at, violations, recent_violations, cooldown_until, escalation_level
		FROM entity_states
		WHERE rule_id = ? AND subject = ?
	`, key.RuleID, key.Subject).Scan(
		&phase, &st.EnteredAt, &st.Violations, &recent, &st.CooldownUntil, &st.EscalationLevel,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return fsm.EntityState{}, false, nil
	}
	if err != nil {
		return fsm.EntityState{}, false, fmt.Errorf("read state %s: %w", key, err)
	}

	st.Phase = fsm.Phase(phase)
	if err := json.Unmarshal([]byte(recent), &st.RecentViolations); err != nil {
		return fsm.EntityState{}, false, fmt.Errorf("read state %s: recent violations: %w", key, err)
	}
	return st, true, nil
}

// WriteState upserts the violation state for one (rule, subject) pair.
// seq is the engine cycle performing the write; replays of an already
// recorded cycle leave newer rows untouched.
func (s *Store) WriteState(ctx context.Context, key fsm.Key, seq int64, st fsm.EntityState) error {
	recent, err := json.Marshal(st.RecentViolations)
	if err != nil {
		return fmt.Errorf("write state %s: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entity_states
		(rule_id, subject, phase, entered_at, violations, recent_violations, cooldown_until, escalation_level, updated_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_id, subject) DO UPDATE SET
			phase             = excluded.phase,
			entered_at        = excluded.entered_at,
			violations        = excluded.violations,
			recent_violations = excluded.recent_violations,
			cooldown_until    = excluded.cooldown_until,
			escalation_level  = excluded.escalation_level,
			updated_seq       = excluded.updated_seq
		WHERE excluded.updated_seq >= entity_states.updated_seq
	`,
		key.RuleID, key.Subject, string(st.Phase), st.EnteredAt,
		st.Violations, string(recent), st.CooldownUntil, st.EscalationLevel, seq,
	)
	if err != nil {
		return fmt.Errorf("write state %s: %w", key, err)
	}
	return nil
}

// ListStates returns every persisted state row in (rule_id, subject)
// order.
func (s *Store) ListStates(ctx context.Context) ([]StateRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, subject, phase, entered_at, violations, recent_violations, cooldown_until, escalation_level, updated_seq
		FROM entity_states
		ORDER BY rule_id, subject
	`)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer rows.Close()

	var records []StateRecord
	for rows.Next() {
		var (
			rec    StateRecord
			phase  string
			recent string
		)
		if err := rows.Scan(
			&rec.Key.RuleID, &rec.Key.Subject, &phase, &rec.State.EnteredAt,
			&rec.State.Violations, &recent, &rec.State.CooldownUntil,
			&rec.State.EscalationLevel, &rec.UpdatedSeq,
		); err != nil {
			return nil, fmt.Errorf("list states: %w", err)
		}
		rec.State.Phase = fsm.Phase(phase)
		if err := json.Unmarshal([]byte(recent), &rec.State.RecentViolations); err != nil {
			return nil, fmt.Errorf("list states: recent violations for %s: %w", rec.Key, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ResetState deletes the persisted state for one (rule, subject) pair,
// returning the subject to Normal on its next cycle. This is the only
// sanctioned way out of Escalated besides further escalation.
func (s *Store) ResetState(ctx context.Context, key fsm.Key) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM entity_states WHERE rule_id = ? AND subject = ?
	`, key.RuleID, key.Subject)
	if err != nil {
		return false, fmt.Errorf("reset state %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reset state %s: %w", key, err)
	}
	return n > 0, nil
}
