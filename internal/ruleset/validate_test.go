package ruleset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmom/playbook/internal/primitive"
	"github.com/tmom/playbook/internal/rule"
	"github.com/tmom/playbook/internal/testutil"
)

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidate_CleanRule(t *testing.T) {
	defs := []rule.Definition{
		testutil.ComparisonRule("max_drawdown", rule.Block, 1, "drawdown_pct", ">=", 10),
	}
	assert.Empty(t, Validate(defs, primitive.Builtin(), false))
}

func TestValidate_DuplicateRuleID(t *testing.T) {
	defs := []rule.Definition{
		testutil.ComparisonRule("dup", rule.Block, 1, "x", ">", 1),
		testutil.ComparisonRule("dup", rule.Warn, 2, "y", ">", 2),
	}
	errs := Validate(defs, primitive.Builtin(), false)
	assert.Contains(t, codes(errs), ErrDuplicateRuleID)
}

func TestValidate_ReservedTier(t *testing.T) {
	defs := []rule.Definition{
		testutil.ComparisonRule("sneaky", rule.Block, 0, "x", ">", 1),
	}

	errs := Validate(defs, primitive.Builtin(), false)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrReservedPriority, errs[0].Code)

	assert.Empty(t, Validate(defs, primitive.Builtin(), true),
		"tier 0 is admitted with allowReserved")
}

func TestValidate_StructuralErrors(t *testing.T) {
	base := func() rule.Definition {
		return testutil.ComparisonRule("r", rule.Block, 1, "x", ">", 1)
	}

	tests := []struct {
		name   string
		mutate func(*rule.Definition)
		code   string
	}{
		{
			"unknown category",
			func(d *rule.Definition) { d.Category = "vibes" },
			ErrBadCategory,
		},
		{
			"negative priority",
			func(d *rule.Definition) { d.Priority = -1 },
			ErrBadPriority,
		},
		{
			"unknown primitive kind",
			func(d *rule.Definition) { d.Primitives[0].Kind = "telepathy" },
			ErrUnknownKind,
		},
		{
			"duplicate ref",
			func(d *rule.Definition) { d.Primitives = append(d.Primitives, d.Primitives[0]) },
			ErrDuplicateRef,
		},
		{
			"unresolved condition ref",
			func(d *rule.Definition) { d.Conditions.All = []string{"ghost"} },
			ErrUnresolvedRef,
		},
		{
			"unresolved threshold ref",
			func(d *rule.Definition) {
				d.Conditions.Thresholds = []rule.Threshold{{Ref: "ghost", Op: rule.OpGE, Bound: 1}}
			},
			ErrUnresolvedRef,
		},
		{
			"threshold over non-numeric kind",
			func(d *rule.Definition) {
				d.Primitives[0].Kind = "set_membership"
				d.Conditions.Thresholds = []rule.Threshold{{Ref: "check", Op: rule.OpGE, Bound: 1}}
			},
			ErrNonNumericRef,
		},
		{
			"bad threshold operator",
			func(d *rule.Definition) {
				d.Conditions.Thresholds = []rule.Threshold{{Ref: "check", Op: "~=", Bound: 1}}
			},
			ErrBadThresholdOp,
		},
		{
			"zero lookback",
			func(d *rule.Definition) {
				d.Stateful = &rule.StatefulSpec{Cooldown: time.Minute, MaxEscalation: 1}
			},
			ErrBadStatefulConfig,
		},
		{
			"zero cooldown",
			func(d *rule.Definition) {
				d.Stateful = &rule.StatefulSpec{Lookback: time.Minute, MaxEscalation: 1}
			},
			ErrBadStatefulConfig,
		},
		{
			"escalation below one",
			func(d *rule.Definition) {
				d.Stateful = &rule.StatefulSpec{Lookback: time.Minute, Cooldown: time.Minute}
			},
			ErrBadEscalationLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := base()
			tt.mutate(&def)
			errs := Validate([]rule.Definition{def}, primitive.Builtin(), false)
			assert.Contains(t, codes(errs), tt.code)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	def := testutil.ComparisonRule("r", rule.Block, -1, "x", ">", 1)
	def.Category = "vibes"
	def.Primitives[0].Kind = "telepathy"

	errs := Validate([]rule.Definition{def}, primitive.Builtin(), false)
	assert.Len(t, errs, 3, "validation never fails fast")
}
