package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden executes a scenario and compares its cycle trace
// against a golden file under testdata/golden/{scenario.Name}.golden.
//
// The trace is one block per cycle: the aggregate decision followed by
// a status line per rule, so a golden diff pinpoints the diverging
// cycle and rule. To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Expectation failures inside the scenario fail the test before the
// golden comparison runs.
func RunWithGolden(t *testing.T, sc *Scenario) error {
	t.Helper()

	result, err := Run(sc)
	if err != nil {
		return err
	}
	for _, failure := range result.Failures {
		t.Errorf("%s: %s", sc.Name, failure)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, renderTrace(result))

	return nil
}

// renderTrace renders the cycle trace in a stable plain-text form.
// Tokens are fixed by Run and rules are listed in rule ID order, so
// the bytes are reproducible across runs and platforms.
func renderTrace(result *Result) []byte {
	var buf bytes.Buffer
	for i, agg := range result.Aggregates {
		fmt.Fprintf(&buf, "cycle %d %s snapshot=%d at=%d\n", i+1, agg.CycleToken, agg.SnapshotSeq, agg.SnapshotAt)
		fmt.Fprintf(&buf, "  action: %s\n", agg.Action)
		if agg.DominantRule != "" {
			fmt.Fprintf(&buf, "  dominant: %s\n", agg.DominantRule)
		}
		fmt.Fprintf(&buf, "  rationale: %s\n", agg.Rationale)
		for _, ro := range agg.Rules {
			fmt.Fprintf(&buf, "  rule %s tier=%d %s %s", ro.RuleID, ro.Priority, ro.Status, ro.Action)
			if ro.Transition != nil {
				fmt.Fprintf(&buf, " %s->%s", ro.Transition.From, ro.Transition.To)
			}
			if ro.Err != "" {
				fmt.Fprintf(&buf, " (%s)", ro.Err)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}
