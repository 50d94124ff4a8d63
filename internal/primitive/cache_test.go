package primitive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmom/playbook/internal/rule"
	"github.com/tmom/playbook/internal/snapshot"
	"github.com/tmom/playbook/internal/testutil"
)

func TestCache_SharedInstanceEvaluatedOnce(t *testing.T) {
	calls := 0
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{
		Kind:   "counting",
		Params: []ParamSpec{{Name: "field", Type: TypeString, Required: true}},
		Eval: func(rule.Object, *snapshot.Snapshot) (Result, error) {
			calls++
			return Result{Bool: true}, nil
		},
	}))

	cache := NewCache(r)
	snap := testutil.Snap(t, 1, testutil.BaseTime)
	params := rule.Object{"field": rule.Str("x")}

	a, err := cache.Evaluate(rule.PrimitiveRef{ID: "first", Kind: "counting", Params: params}, snap)
	require.NoError(t, err)
	b, err := cache.Evaluate(rule.PrimitiveRef{ID: "second", Kind: "counting", Params: params}, snap)
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "same (kind, params) must evaluate once per cycle")
	assert.Equal(t, 1, cache.Len())

	// The cached result is rewritten to each caller's ref.
	assert.Equal(t, "first", a.Ref)
	assert.Equal(t, "second", b.Ref)
	assert.Equal(t, a.ParamsHash, b.ParamsHash)
}

func TestCache_DistinctParamsNotShared(t *testing.T) {
	cache := NewCache(Builtin())
	snap := testutil.Snap(t, 1, testutil.BaseTime)

	_, err := cache.Evaluate(rule.PrimitiveRef{
		ID: "a", Kind: KindComparison,
		Params: rule.Object{"left": rule.Str("drawdown_pct"), "op": rule.Str(">"), "right": rule.Float(5)},
	}, snap)
	require.NoError(t, err)

	_, err = cache.Evaluate(rule.PrimitiveRef{
		ID: "b", Kind: KindComparison,
		Params: rule.Object{"left": rule.Str("drawdown_pct"), "op": rule.Str(">"), "right": rule.Float(10)},
	}, snap)
	require.NoError(t, err)

	assert.Equal(t, 2, cache.Len())
}

func TestCache_ErrorsAreCached(t *testing.T) {
	calls := 0
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{
		Kind: "failing",
		Eval: func(rule.Object, *snapshot.Snapshot) (Result, error) {
			calls++
			return Result{}, &EvaluationError{Kind: "failing", Reason: "no data"}
		},
	}))

	cache := NewCache(r)
	snap := testutil.Snap(t, 1, testutil.BaseTime)
	ref := rule.PrimitiveRef{ID: "p", Kind: "failing", Params: rule.Object{}}

	_, err1 := cache.Evaluate(ref, snap)
	_, err2 := cache.Evaluate(ref, snap)

	require.Error(t, err1)
	require.Error(t, err2)
	assert.Equal(t, 1, calls, "failures memoize too; every referencing rule sees the same error")
}

func TestCache_ErrorRefFollowsCaller(t *testing.T) {
	cache := NewCache(Builtin())
	snap := testutil.Snap(t, 1, testutil.BaseTime)
	params := rule.Object{"left": rule.Str("nonexistent"), "op": rule.Str(">"), "right": rule.Float(5)}

	_, err1 := cache.Evaluate(rule.PrimitiveRef{ID: "first", Kind: KindComparison, Params: params}, snap)
	_, err2 := cache.Evaluate(rule.PrimitiveRef{ID: "second", Kind: KindComparison, Params: params}, snap)

	var ee1, ee2 *EvaluationError
	require.ErrorAs(t, err1, &ee1)
	require.ErrorAs(t, err2, &ee2)
	assert.Equal(t, "first", ee1.Ref)
	assert.Equal(t, "second", ee2.Ref, "a memoized failure must name the second caller's ref, not the first's")
	assert.Contains(t, err2.Error(), "(ref second)")
	assert.Equal(t, 1, cache.Len())
}
