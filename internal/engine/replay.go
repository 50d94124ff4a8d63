package engine

import (
	"context"
	"fmt"

	"github.com/tmom/playbook/internal/outcome"
)

// RecordedCycle is one audited cycle as read back from storage.
type RecordedCycle struct {
	Seq     int64
	Token   string
	Hash    string
	Outcome *outcome.AggregateOutcome
}

// ReplaySource yields recorded cycles in ascending sequence order.
type ReplaySource interface {
	ListCycles(ctx context.Context) ([]RecordedCycle, error)
}

// Divergence is one cycle whose recomputed outcome hash does not match
// the recorded one.
type Divergence struct {
	Seq    int64
	Token  string
	Want   string
	Got    string
	Reason string
}

func (d Divergence) String() string {
	return fmt.Sprintf("seq %d (cycle %s): %s", d.Seq, d.Token, d.Reason)
}

// ReplayReport summarizes an audit log verification pass.
type ReplayReport struct {
	Cycles      int
	LastSeq     int64
	Divergences []Divergence
}

// Clean reports whether every recorded cycle verified.
func (r *ReplayReport) Clean() bool { return len(r.Divergences) == 0 }

// Replay re-verifies an audit log: each recorded outcome is
// re-canonicalized and re-hashed, and the result compared against the
// hash written at record time. The sequence must be strictly
// increasing. A mismatch means the stored outcome was altered after
// the fact, or the canonical encoding drifted between versions;
// either way the trail can no longer be trusted.
func Replay(ctx context.Context, src ReplaySource) (*ReplayReport, error) {
	cycles, err := src.ListCycles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}

	report := &ReplayReport{Cycles: len(cycles)}
	for _, c := range cycles {
		if c.Seq <= report.LastSeq {
			report.Divergences = append(report.Divergences, Divergence{
				Seq:    c.Seq,
				Token:  c.Token,
				Reason: fmt.Sprintf("sequence not increasing (prev %d)", report.LastSeq),
			})
		}
		report.LastSeq = c.Seq

		got, err := c.Outcome.Hash()
		if err != nil {
			report.Divergences = append(report.Divergences, Divergence{
				Seq:    c.Seq,
				Token:  c.Token,
				Want:   c.Hash,
				Reason: "outcome not hashable: " + err.Error(),
			})
			continue
		}
		if got != c.Hash {
			report.Divergences = append(report.Divergences, Divergence{
				Seq:    c.Seq,
				Token:  c.Token,
				Want:   c.Hash,
				Got:    got,
				Reason: "outcome hash mismatch",
			})
		}
	}
	return report, nil
}
