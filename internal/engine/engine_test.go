package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmom/playbook/internal/fsm"
	"github.com/tmom/playbook/internal/outcome"
	"github.com/tmom/playbook/internal/primitive"
	"github.com/tmom/playbook/internal/rule"
	"github.com/tmom/playbook/internal/testutil"
)

// memStore is an in-memory StateStore for engine tests.
type memStore struct {
	states   map[string]fsm.EntityState
	readErr  error
	writeErr error
}

func newMemStore() *memStore {
	return &memStore{states: make(map[string]fsm.EntityState)}
}

func (m *memStore) ReadState(_ context.Context, key fsm.Key) (fsm.EntityState, bool, error) {
	if m.readErr != nil {
		return fsm.EntityState{}, false, m.readErr
	}
	s, ok := m.states[key.String()]
	return s, ok, nil
}

func (m *memStore) WriteState(_ context.Context, key fsm.Key, _ int64, s fsm.EntityState) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.states[key.String()] = s
	return nil
}

// memAuditor records cycles in memory.
type memAuditor struct {
	cycles []RecordedCycle
	err    error
}

func (m *memAuditor) RecordCycle(_ context.Context, seq int64, agg *outcome.AggregateOutcome) error {
	if m.err != nil {
		return m.err
	}
	hash, err := agg.Hash()
	if err != nil {
		return err
	}
	m.cycles = append(m.cycles, RecordedCycle{Seq: seq, Token: agg.CycleToken, Hash: hash, Outcome: agg})
	return nil
}

func testEngine(t *testing.T, states StateStore, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithTokenGenerator(NewFixedGenerator(
			"cycle-001", "cycle-002", "cycle-003", "cycle-004", "cycle-005",
		)),
	}
	return New(primitive.Builtin(), states, append(base, opts...)...)
}

// oversizeRule fires when position_size exceeds 5.
func oversizeRule(action rule.Action) rule.Definition {
	return testutil.ComparisonRule("oversize", action, 1, "position_size", ">", 5)
}

func TestEvaluateCycle_NoRules(t *testing.T) {
	e := testEngine(t, newMemStore())
	snap := testutil.Snap(t, 1, testutil.BaseTime)

	agg, err := e.EvaluateCycle(context.Background(), snap, nil, "acct-1")
	require.NoError(t, err)

	assert.Equal(t, rule.Allow, agg.Action)
	assert.Equal(t, "cycle-001", agg.CycleToken)
	assert.Equal(t, snap.Hash(), agg.SnapshotHash)
	assert.Equal(t, int64(1), e.Clock().Current())
}

func TestEvaluateCycle_StatelessFires(t *testing.T) {
	e := testEngine(t, newMemStore())
	snap := testutil.Snap(t, 1, testutil.BaseTime,
		testutil.WithMarket("position_size", rule.Float(12)))

	agg, err := e.EvaluateCycle(context.Background(), snap, []rule.Definition{oversizeRule(rule.Block)}, "acct-1")
	require.NoError(t, err)

	assert.Equal(t, rule.Block, agg.Action)
	assert.Equal(t, "oversize", agg.DominantRule)
	require.Len(t, agg.Rules, 1)
	assert.Equal(t, outcome.StatusFired, agg.Rules[0].Status)
}

func TestEvaluateCycle_Deterministic(t *testing.T) {
	defs := []rule.Definition{
		oversizeRule(rule.Block),
		testutil.ComparisonRule("small_loss", rule.Warn, 3, "daily_loss", ">", 100),
	}

	run := func() string {
		e := testEngine(t, newMemStore())
		snap := testutil.Snap(t, 1, testutil.BaseTime,
			testutil.WithMarket("position_size", rule.Float(12)),
			testutil.WithMarket("daily_loss", rule.Float(250)))
		agg, err := e.EvaluateCycle(context.Background(), snap, defs, "acct-1")
		require.NoError(t, err)
		hash, err := agg.Hash()
		require.NoError(t, err)
		return hash
	}

	assert.Equal(t, run(), run(), "identical inputs must produce identical outcome hashes")
}

func TestEvaluateCycle_StatefulProgression(t *testing.T) {
	states := newMemStore()
	e := testEngine(t, states)
	def := testutil.Stateful(oversizeRule(rule.Block), 30*time.Minute, 15*time.Minute, 3)
	defs := []rule.Definition{def}
	key := fsm.Key{RuleID: "oversize", Subject: "acct-1"}

	// First violation: Warned. The rule fires on the violation itself.
	snap := testutil.Snap(t, 1, testutil.BaseTime,
		testutil.WithMarket("position_size", rule.Float(12)))
	agg, err := e.EvaluateCycle(context.Background(), snap, defs, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, rule.Block, agg.Action)
	require.NotNil(t, agg.Rules[0].Transition)
	assert.Equal(t, fsm.PhaseWarned, agg.Rules[0].Transition.To)
	assert.Equal(t, fsm.PhaseWarned, states.states[key.String()].Phase)

	// Second violation inside the lookback: Cooldown.
	snap = testutil.Snap(t, 2, testutil.BaseTime+600,
		testutil.WithMarket("position_size", rule.Float(15)))
	agg, err = e.EvaluateCycle(context.Background(), snap, defs, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, fsm.PhaseCooldown, states.states[key.String()].Phase)

	// Quiet cycle during cooldown: enforcement still blocks.
	snap = testutil.Snap(t, 3, testutil.BaseTime+700,
		testutil.WithMarket("position_size", rule.Float(1)))
	agg, err = e.EvaluateCycle(context.Background(), snap, defs, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, rule.Block, agg.Action, "cooldown enforces through quiet cycles")
	assert.Nil(t, agg.Rules[0].Transition, "no phase change, no transition record")

	// Violation during cooldown: Escalated.
	snap = testutil.Snap(t, 4, testutil.BaseTime+800,
		testutil.WithMarket("position_size", rule.Float(20)))
	agg, err = e.EvaluateCycle(context.Background(), snap, defs, "acct-1")
	require.NoError(t, err)
	st := states.states[key.String()]
	assert.Equal(t, fsm.PhaseEscalated, st.Phase)
	assert.Equal(t, 1, st.EscalationLevel)
	require.NotNil(t, agg.Rules[0].Transition)
	assert.Equal(t, 1, agg.Rules[0].Transition.Level)
}

func TestEvaluateCycle_SubjectsIsolated(t *testing.T) {
	states := newMemStore()
	e := testEngine(t, states)
	def := testutil.Stateful(oversizeRule(rule.Block), 30*time.Minute, 15*time.Minute, 3)

	snap := testutil.Snap(t, 1, testutil.BaseTime,
		testutil.WithMarket("position_size", rule.Float(12)))
	_, err := e.EvaluateCycle(context.Background(), snap, []rule.Definition{def}, "acct-1")
	require.NoError(t, err)

	quiet := testutil.Snap(t, 2, testutil.BaseTime+60,
		testutil.WithMarket("position_size", rule.Float(1)))
	agg, err := e.EvaluateCycle(context.Background(), quiet, []rule.Definition{def}, "acct-2")
	require.NoError(t, err)

	assert.Equal(t, rule.Allow, agg.Action, "acct-1's violations never bleed into acct-2")
	assert.Equal(t, fsm.PhaseNormal, states.states["oversize/acct-2"].Phase)
}

func TestEvaluateCycle_MissingFieldIndeterminate(t *testing.T) {
	e := testEngine(t, newMemStore())
	snap := testutil.Snap(t, 1, testutil.BaseTime)

	agg, err := e.EvaluateCycle(context.Background(), snap, []rule.Definition{oversizeRule(rule.Block)}, "acct-1")
	require.NoError(t, err)

	assert.True(t, agg.Uncertain)
	assert.Equal(t, rule.Warn, agg.Action)
	require.Len(t, agg.Rules, 1)
	assert.Equal(t, outcome.StatusIndeterminate, agg.Rules[0].Status)
	assert.Contains(t, agg.Rules[0].Err, "position_size")
}

func TestEvaluateCycle_InvalidPriorStateIndeterminate(t *testing.T) {
	states := newMemStore()
	states.states["oversize/acct-1"] = fsm.EntityState{Phase: "sideways"}
	e := testEngine(t, states)
	def := testutil.Stateful(oversizeRule(rule.Block), 30*time.Minute, 15*time.Minute, 3)

	snap := testutil.Snap(t, 1, testutil.BaseTime,
		testutil.WithMarket("position_size", rule.Float(1)))
	agg, err := e.EvaluateCycle(context.Background(), snap, []rule.Definition{def}, "acct-1")
	require.NoError(t, err)

	assert.True(t, agg.Uncertain, "corrupt state degrades the rule, never the cycle")
	assert.Equal(t, outcome.StatusIndeterminate, agg.Rules[0].Status)
	assert.Equal(t, fsm.Phase("sideways"), states.states["oversize/acct-1"].Phase,
		"invalid state is surfaced, not repaired")
}

func TestEvaluateCycle_Canceled(t *testing.T) {
	e := testEngine(t, newMemStore())
	snap := testutil.Snap(t, 1, testutil.BaseTime)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.EvaluateCycle(ctx, snap, []rule.Definition{oversizeRule(rule.Block)}, "acct-1")
	require.Error(t, err)
	assert.True(t, IsRuntimeCode(err, ErrCodeAborted))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluateCycle_StateReadFailure(t *testing.T) {
	states := newMemStore()
	states.readErr = errors.New("disk gone")
	e := testEngine(t, states)
	def := testutil.Stateful(oversizeRule(rule.Block), 30*time.Minute, 15*time.Minute, 3)

	snap := testutil.Snap(t, 1, testutil.BaseTime,
		testutil.WithMarket("position_size", rule.Float(12)))
	_, err := e.EvaluateCycle(context.Background(), snap, []rule.Definition{def}, "acct-1")
	require.Error(t, err)
	assert.True(t, IsRuntimeCode(err, ErrCodeStateIO))
}

func TestEvaluateCycle_StateWriteFailure(t *testing.T) {
	states := newMemStore()
	states.writeErr = errors.New("disk full")
	auditor := &memAuditor{}
	e := testEngine(t, states, WithAuditor(auditor))
	def := testutil.Stateful(oversizeRule(rule.Block), 30*time.Minute, 15*time.Minute, 3)

	snap := testutil.Snap(t, 1, testutil.BaseTime,
		testutil.WithMarket("position_size", rule.Float(12)))
	_, err := e.EvaluateCycle(context.Background(), snap, []rule.Definition{def}, "acct-1")
	require.Error(t, err)
	assert.True(t, IsRuntimeCode(err, ErrCodeStateIO))
	assert.Empty(t, auditor.cycles, "failed cycles leave no audit record")
}

func TestEvaluateCycle_AuditFailure(t *testing.T) {
	auditor := &memAuditor{err: errors.New("audit store closed")}
	e := testEngine(t, newMemStore(), WithAuditor(auditor))
	snap := testutil.Snap(t, 1, testutil.BaseTime)

	_, err := e.EvaluateCycle(context.Background(), snap, nil, "acct-1")
	require.Error(t, err)
	assert.True(t, IsRuntimeCode(err, ErrCodeAuditIO))
}

func TestEvaluateCycle_AuditTrail(t *testing.T) {
	auditor := &memAuditor{}
	e := testEngine(t, newMemStore(), WithAuditor(auditor))

	for seq := int64(1); seq <= 3; seq++ {
		snap := testutil.Snap(t, seq, testutil.BaseTime+seq*60)
		_, err := e.EvaluateCycle(context.Background(), snap, nil, "acct-1")
		require.NoError(t, err)
	}

	require.Len(t, auditor.cycles, 3)
	assert.Equal(t, int64(1), auditor.cycles[0].Seq)
	assert.Equal(t, int64(3), auditor.cycles[2].Seq)
	assert.Equal(t, "cycle-002", auditor.cycles[1].Token)
}
