package resolve

import (
	"fmt"
	"strings"

	"github.com/tmom/playbook/internal/outcome"
)

// compareFired orders two fired outcomes under the precedence total
// order. Returns a negative value when a precedes b (a wins), plus the
// dimension that decided: "action", "tier" or "rule id".
func compareFired(a, b outcome.RuleOutcome) (int, string) {
	if ra, rb := a.Action.Rank(), b.Action.Rank(); ra != rb {
		return rb - ra, "action"
	}
	if a.Priority != b.Priority {
		return a.Priority - b.Priority, "tier"
	}
	return strings.Compare(a.RuleID, b.RuleID), "rule id"
}

// selectDominant picks the winning outcome among fired rules and
// builds the rationale from the comparison chain: one clause per
// contender the winner displaced, naming the dimension that decided.
//
// fired must be sorted by rule ID on entry; together with the total
// order this makes selection fully deterministic.
func selectDominant(fired []outcome.RuleOutcome) (outcome.RuleOutcome, string) {
	winner := fired[0]
	var chain []string

	for _, contender := range fired[1:] {
		cmp, dim := compareFired(winner, contender)
		if cmp > 0 {
			chain = append(chain, describe(contender, winner, dim))
			winner = contender
		} else {
			chain = append(chain, describe(winner, contender, dim))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s applies %s", winner.RuleID, winner.Action)
	if len(chain) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(chain, "; "))
	}
	return winner, b.String()
}

// describe renders one comparison: why won beat lost on the given
// dimension.
func describe(won, lost outcome.RuleOutcome, dim string) string {
	switch dim {
	case "action":
		return fmt.Sprintf("%s(%s) outranks %s(%s)", won.RuleID, won.Action, lost.RuleID, lost.Action)
	case "tier":
		return fmt.Sprintf("%s(tier %d) precedes %s(tier %d) at %s", won.RuleID, won.Priority, lost.RuleID, lost.Priority, won.Action)
	default:
		return fmt.Sprintf("%s precedes %s by rule id at %s tier %d", won.RuleID, lost.RuleID, won.Action, won.Priority)
	}
}
