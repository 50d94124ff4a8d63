package harness

import (
	"fmt"
	"sort"

	"github.com/tmom/playbook/internal/outcome"
	"github.com/tmom/playbook/internal/store"
)

// checkExpect validates one cycle's aggregate against its expectation
// clause, appending mismatches to the result.
func checkExpect(
	result *Result,
	cycle int,
	agg *outcome.AggregateOutcome,
	expect *ExpectClause,
	states []store.StateRecord,
	subject string,
) {
	fail := func(format string, args ...any) {
		result.Failures = append(result.Failures,
			fmt.Sprintf("cycle %d: %s", cycle, fmt.Sprintf(format, args...)))
	}

	if expect.Action != "" && string(agg.Action) != expect.Action {
		fail("action = %s, want %s (rationale: %s)", agg.Action, expect.Action, agg.Rationale)
	}
	if expect.DominantRule != "" && agg.DominantRule != expect.DominantRule {
		fail("dominant rule = %q, want %q", agg.DominantRule, expect.DominantRule)
	}
	if expect.Uncertain != nil && agg.Uncertain != *expect.Uncertain {
		fail("uncertain = %v, want %v", agg.Uncertain, *expect.Uncertain)
	}

	if expect.Fired != nil {
		var fired []string
		for _, ro := range agg.Rules {
			if ro.Status == outcome.StatusFired {
				fired = append(fired, ro.RuleID)
			}
		}
		want := append([]string(nil), expect.Fired...)
		sort.Strings(want)
		if !equalStrings(fired, want) {
			fail("fired rules = %v, want %v", fired, want)
		}
	}

	for ruleID, wantPhase := range expect.Phases {
		found := false
		for _, rec := range states {
			if rec.Key.RuleID == ruleID && rec.Key.Subject == subject {
				found = true
				if string(rec.State.Phase) != wantPhase {
					fail("rule %s phase = %s, want %s", ruleID, rec.State.Phase, wantPhase)
				}
				break
			}
		}
		if !found && wantPhase != "normal" {
			fail("rule %s has no tracked state, want phase %s", ruleID, wantPhase)
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
