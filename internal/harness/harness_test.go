package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmom/playbook/internal/fsm"
	"github.com/tmom/playbook/internal/rule"
	"github.com/tmom/playbook/internal/testutil"
)

func TestScenarios(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, sc := range scenarios {
		t.Run(sc.Name, func(t *testing.T) {
			result, err := Run(sc)
			require.NoError(t, err)
			for _, failure := range result.Failures {
				t.Error(failure)
			}
		})
	}
}

// healthyAccount mirrors the broker account the scenario snapshots use.
func healthyAccount() map[string]any {
	return map[string]any{
		"trading_blocked":         false,
		"trade_suspended_by_user": false,
		"pattern_day_trader":      false,
		"daytrade_count":          0,
		"buying_power":            25000.0,
		"cash":                    10000.0,
	}
}

func step(seq, at int64, size float64, expect *ExpectClause) CycleStep {
	return CycleStep{
		Snapshot: SnapshotDoc{
			Seq:     seq,
			At:      at,
			Account: healthyAccount(),
			Market:  map[string]any{"position_size": size},
		},
		Expect: expect,
	}
}

func boolPtr(b bool) *bool { return &b }

func TestRun_StatefulProgression(t *testing.T) {
	def := testutil.Stateful(
		testutil.ComparisonRule("no_oversize", rule.Block, 1, "position_size", ">", 5),
		30*time.Minute, 15*time.Minute, 2,
	)
	base := testutil.BaseTime

	sc := &Scenario{
		Name:    "oversize_escalation",
		Subject: "acct-1",
		Rules:   []rule.Definition{def},
		Cycles: []CycleStep{
			step(1, base, 12, &ExpectClause{
				Action: "BLOCK",
				Phases: map[string]string{"no_oversize": "warned"},
			}),
			step(2, base+600, 12, &ExpectClause{
				Action: "BLOCK",
				Phases: map[string]string{"no_oversize": "cooldown"},
			}),
			// Quiet cycle inside the cooldown window: enforcement holds.
			step(3, base+700, 1, &ExpectClause{
				Action: "BLOCK",
				Fired:  []string{"no_oversize"},
				Phases: map[string]string{"no_oversize": "cooldown"},
			}),
			step(4, base+800, 12, &ExpectClause{
				Action: "BLOCK",
				Phases: map[string]string{"no_oversize": "escalated"},
			}),
		},
	}

	result, err := Run(sc)
	require.NoError(t, err)
	assert.True(t, result.Passed(), "failures: %v", result.Failures)

	require.Len(t, result.FinalStates, 1)
	final := result.FinalStates[0]
	assert.Equal(t, fsm.Key{RuleID: "no_oversize", Subject: "acct-1"}, final.Key)
	assert.Equal(t, fsm.PhaseEscalated, final.State.Phase)
	assert.Equal(t, 1, final.State.EscalationLevel)
}

func TestRun_UncertainDegradation(t *testing.T) {
	def := testutil.ComparisonRule("no_oversize", rule.Block, 1, "position_size", ">", 5)

	sc := &Scenario{
		Name:    "missing_market_field",
		Subject: "acct-1",
		Rules:   []rule.Definition{def},
		Cycles: []CycleStep{
			{
				Snapshot: SnapshotDoc{Seq: 1, At: testutil.BaseTime, Account: healthyAccount()},
				Expect: &ExpectClause{
					Action:    "WARN",
					Uncertain: boolPtr(true),
					Fired:     []string{},
				},
			},
		},
	}

	result, err := Run(sc)
	require.NoError(t, err)
	assert.True(t, result.Passed(), "failures: %v", result.Failures)
}

func TestRun_ReportsMismatches(t *testing.T) {
	def := testutil.ComparisonRule("no_oversize", rule.Block, 1, "position_size", ">", 5)

	sc := &Scenario{
		Name:    "wrong_expectation",
		Subject: "acct-1",
		Rules:   []rule.Definition{def},
		Cycles: []CycleStep{
			step(1, testutil.BaseTime, 12, &ExpectClause{Action: "ALLOW"}),
		},
	}

	result, err := Run(sc)
	require.NoError(t, err)
	assert.False(t, result.Passed())
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0], "cycle 1")
	assert.Contains(t, result.Failures[0], "want ALLOW")
}

func TestRun_NoRules(t *testing.T) {
	sc := &Scenario{
		Name:   "empty",
		Cycles: []CycleStep{step(1, testutil.BaseTime, 1, nil)},
	}
	_, err := Run(sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rules")
}

func TestLoadScenario_Validation(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/does_not_exist.yaml")
	require.Error(t, err)
}
