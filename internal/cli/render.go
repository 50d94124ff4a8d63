package cli

import (
	"fmt"
	"strings"

	"github.com/tmom/playbook/internal/outcome"
)

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// renderAggregate renders one aggregate outcome as human-readable
// text. JSON output uses the struct directly.
func renderAggregate(agg *outcome.AggregateOutcome, verbose bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s", agg.Action)
	if agg.DominantRule != "" {
		fmt.Fprintf(&b, " (rule %s)", agg.DominantRule)
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "  cycle:     %s\n", agg.CycleToken)
	fmt.Fprintf(&b, "  snapshot:  seq %d at %d\n", agg.SnapshotSeq, agg.SnapshotAt)
	fmt.Fprintf(&b, "  rationale: %s\n", agg.Rationale)
	if agg.Uncertain {
		fmt.Fprintf(&b, "  uncertain: yes (%s)\n", strings.Join(agg.IndeterminateRules, ", "))
	}

	fired, inert, indeterminate := 0, 0, 0
	for _, ro := range agg.Rules {
		switch ro.Status {
		case outcome.StatusFired:
			fired++
		case outcome.StatusIndeterminate:
			indeterminate++
		default:
			inert++
		}
	}
	fmt.Fprintf(&b, "  rules:     %d fired, %d inert, %d indeterminate\n", fired, inert, indeterminate)

	if verbose {
		for _, ro := range agg.Rules {
			fmt.Fprintf(&b, "    %-30s %-13s %s", ro.RuleID, ro.Status, ro.Action)
			if ro.Transition != nil {
				fmt.Fprintf(&b, "  [%s -> %s]", ro.Transition.From, ro.Transition.To)
			}
			if ro.Err != "" {
				fmt.Fprintf(&b, "  error: %s", ro.Err)
			}
			b.WriteByte('\n')
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
