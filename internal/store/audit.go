package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tmom/playbook/internal/engine"
	"github.com/tmom/playbook/internal/outcome"
)

// RecordCycle appends one resolved cycle to the audit trail.
// Uses ON CONFLICT DO NOTHING for idempotency - re-recording an
// already persisted cycle is silently ignored.
//
// The outcome is serialized in its canonical byte form so that the
// stored hash and the stored bytes verify against each other forever.
func (s *Store) RecordCycle(ctx context.Context, seq int64, agg *outcome.AggregateOutcome) error {
	canonical, err := agg.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("record cycle %d: %w", seq, err)
	}
	hash, err := agg.Hash()
	if err != nil {
		return fmt.Errorf("record cycle %d: %w", seq, err)
	}

	uncertain := 0
	if agg.Uncertain {
		uncertain = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cycles
		(seq, token, snapshot_seq, snapshot_at, snapshot_hash, action, dominant_rule, uncertain, outcome, outcome_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		seq, agg.CycleToken, agg.SnapshotSeq, agg.SnapshotAt, agg.SnapshotHash,
		string(agg.Action), agg.DominantRule, uncertain, string(canonical), hash,
	)
	if err != nil {
		return fmt.Errorf("record cycle %d: %w", seq, err)
	}
	return nil
}

// ReadCycle loads one recorded cycle by engine sequence. The second
// return is false when no such cycle exists.
func (s *Store) ReadCycle(ctx context.Context, seq int64) (engine.RecordedCycle, bool, error) {
	var (
		rec     engine.RecordedCycle
		rawJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, token, outcome, outcome_hash
		FROM cycles
		WHERE seq = ?
	`, seq).Scan(&rec.Seq, &rec.Token, &rawJSON, &rec.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.RecordedCycle{}, false, nil
	}
	if err != nil {
		return engine.RecordedCycle{}, false, fmt.Errorf("read cycle %d: %w", seq, err)
	}

	rec.Outcome = &outcome.AggregateOutcome{}
	if err := json.Unmarshal([]byte(rawJSON), rec.Outcome); err != nil {
		return engine.RecordedCycle{}, false, fmt.Errorf("read cycle %d: decode outcome: %w", seq, err)
	}
	return rec, true, nil
}

// ListCycles returns the full audit trail in sequence order. This is
// the replay verification source.
func (s *Store) ListCycles(ctx context.Context) ([]engine.RecordedCycle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, token, outcome, outcome_hash
		FROM cycles
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var cycles []engine.RecordedCycle
	for rows.Next() {
		var (
			rec     engine.RecordedCycle
			rawJSON string
		)
		if err := rows.Scan(&rec.Seq, &rec.Token, &rawJSON, &rec.Hash); err != nil {
			return nil, fmt.Errorf("list cycles: %w", err)
		}
		rec.Outcome = &outcome.AggregateOutcome{}
		if err := json.Unmarshal([]byte(rawJSON), rec.Outcome); err != nil {
			return nil, fmt.Errorf("list cycles: decode outcome seq %d: %w", rec.Seq, err)
		}
		cycles = append(cycles, rec)
	}
	return cycles, rows.Err()
}

// LastSeq returns the highest recorded cycle sequence, or 0 when the
// trail is empty. Engines reopening a store resume their clock here.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM cycles`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}
