package primitive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmom/playbook/internal/rule"
	"github.com/tmom/playbook/internal/snapshot"
	"github.com/tmom/playbook/internal/testutil"
)

func stubEval(rule.Object, *snapshot.Snapshot) (Result, error) {
	return Result{Bool: true}, nil
}

func TestRegistry_DuplicateKind(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(Spec{Kind: "x", Eval: stubEval}))
	err := r.Register(Spec{Kind: "x", Eval: stubEval})
	require.Error(t, err)
	var dup *DuplicateKindError
	assert.ErrorAs(t, err, &dup)
}

func TestRegistry_UnknownKind(t *testing.T) {
	snap := testutil.Snap(t, 1, testutil.BaseTime)
	_, err := Builtin().Evaluate(rule.PrimitiveRef{ID: "p", Kind: "astrology", Params: rule.Object{}}, snap)

	require.Error(t, err)
	assert.True(t, IsUnknownKind(err))
}

func TestRegistry_MissingRequiredParams(t *testing.T) {
	snap := testutil.Snap(t, 1, testutil.BaseTime)
	_, err := Builtin().Evaluate(rule.PrimitiveRef{ID: "p", Kind: KindComparison, Params: rule.Object{}}, snap)

	require.Error(t, err)
	var ipe *InvalidParamsError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, []string{"left", "op", "right"}, ipe.Missing)
}

func TestRegistry_WrongParamType(t *testing.T) {
	snap := testutil.Snap(t, 1, testutil.BaseTime)
	_, err := Builtin().Evaluate(rule.PrimitiveRef{
		ID:   "p",
		Kind: KindComparison,
		Params: rule.Object{
			"left":  rule.Str("drawdown_pct"),
			"op":    rule.Str("spaceship"),
			"right": rule.Float(1),
		},
	}, snap)

	require.Error(t, err)
	assert.True(t, IsInvalidParams(err))
}

func TestRegistry_ResultProvenance(t *testing.T) {
	snap := testutil.Snap(t, 42, testutil.BaseTime)
	res, err := Builtin().Evaluate(rule.PrimitiveRef{
		ID:   "dd",
		Kind: KindComparison,
		Params: rule.Object{
			"left":  rule.Str("drawdown_pct"),
			"op":    rule.Str(">"),
			"right": rule.Float(0),
		},
	}, snap)

	require.NoError(t, err)
	assert.Equal(t, "dd", res.Ref)
	assert.Equal(t, KindComparison, res.Kind)
	assert.Equal(t, int64(42), res.SnapshotSeq)
	assert.Equal(t, testutil.BaseTime, res.At)
	assert.NotEmpty(t, res.ParamsHash)
}

func TestBuiltin_RegistersAllKinds(t *testing.T) {
	assert.Equal(t, []string{
		KindAccountComparison,
		KindAccumulation,
		KindComparison,
		KindRateLimit,
		KindSequence,
		KindSetMembership,
		KindTemporalGate,
	}, Builtin().Kinds())
}
