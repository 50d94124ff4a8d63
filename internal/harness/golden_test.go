package harness

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tmom/playbook/internal/rule"
	"github.com/tmom/playbook/internal/testutil"
)

// Every shipped scenario has a committed golden trace; regenerate with
// go test ./internal/harness -update after an intentional change.
func TestScenarioGoldens(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, sc := range scenarios {
		t.Run(sc.Name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, sc))
		})
	}
}

func TestRenderTrace_MarksIndeterminateRules(t *testing.T) {
	sc := &Scenario{
		Name:    "render_indeterminate",
		Subject: "acct-1",
		Rules:   []rule.Definition{testutil.ComparisonRule("ghost_rule", rule.Warn, 1, "no_such_field", ">", 1)},
		Cycles: []CycleStep{
			{Snapshot: SnapshotDoc{Seq: 1, At: testutil.BaseTime, Account: healthyAccount()}},
		},
	}

	result, err := Run(sc)
	require.NoError(t, err)

	trace := string(renderTrace(result))
	require.Contains(t, trace, "cycle 1 cycle-001 snapshot=1")
	require.Contains(t, trace, "action: WARN")
	require.Contains(t, trace, "rule ghost_rule")
	require.Contains(t, trace, "indeterminate")
	require.Contains(t, trace, `field "no_such_field" absent from snapshot`)
}
