package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmom/playbook/internal/rule"
	"github.com/tmom/playbook/internal/testutil"
)

// listSource adapts a recorded slice to ReplaySource.
type listSource []RecordedCycle

func (s listSource) ListCycles(context.Context) ([]RecordedCycle, error) {
	return s, nil
}

// recordCycles runs n audited cycles and returns the trail.
func recordCycles(t *testing.T, n int) []RecordedCycle {
	t.Helper()
	auditor := &memAuditor{}
	e := testEngine(t, newMemStore(), WithAuditor(auditor))

	defs := []rule.Definition{oversizeRule(rule.Block)}
	for i := 0; i < n; i++ {
		snap := testutil.Snap(t, int64(i+1), testutil.BaseTime+int64(i)*60,
			testutil.WithMarket("position_size", rule.Float(12)))
		_, err := e.EvaluateCycle(context.Background(), snap, defs, "acct-1")
		require.NoError(t, err)
	}
	return auditor.cycles
}

func TestReplay_CleanTrail(t *testing.T) {
	trail := recordCycles(t, 3)

	report, err := Replay(context.Background(), listSource(trail))
	require.NoError(t, err)

	assert.True(t, report.Clean())
	assert.Equal(t, 3, report.Cycles)
	assert.Equal(t, int64(3), report.LastSeq)
}

func TestReplay_TamperedOutcome(t *testing.T) {
	trail := recordCycles(t, 2)

	// Rewrite the recorded decision without refreshing the hash: the
	// kind of after-the-fact edit replay exists to catch.
	trail[1].Outcome.Action = rule.Allow

	report, err := Replay(context.Background(), listSource(trail))
	require.NoError(t, err)

	require.Len(t, report.Divergences, 1)
	d := report.Divergences[0]
	assert.Equal(t, int64(2), d.Seq)
	assert.Equal(t, "outcome hash mismatch", d.Reason)
	assert.NotEqual(t, d.Want, d.Got)
	assert.Contains(t, d.String(), "cycle-002")
}

func TestReplay_SequenceGapTolerated(t *testing.T) {
	trail := recordCycles(t, 2)
	trail[1].Seq = 10

	report, err := Replay(context.Background(), listSource(trail))
	require.NoError(t, err)
	assert.True(t, report.Clean(), "gaps are fine, only ordering matters")
	assert.Equal(t, int64(10), report.LastSeq)
}

func TestReplay_SequenceNotIncreasing(t *testing.T) {
	trail := recordCycles(t, 2)
	trail[1].Seq = trail[0].Seq

	report, err := Replay(context.Background(), listSource(trail))
	require.NoError(t, err)

	require.Len(t, report.Divergences, 1)
	assert.Contains(t, report.Divergences[0].Reason, "sequence not increasing")
}

func TestReplay_Empty(t *testing.T) {
	report, err := Replay(context.Background(), listSource(nil))
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Zero(t, report.Cycles)
}
