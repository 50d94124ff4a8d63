package ruleset

import "github.com/tmom/playbook/internal/rule"

// Account fields every snapshot must carry before any rule evaluates.
// The snapshot builder enforces presence; the safety rules below
// enforce meaning.
var RequiredAccountFields = []string{
	"trading_blocked",
	"trade_suspended_by_user",
	"pattern_day_trader",
	"daytrade_count",
	"buying_power",
	"cash",
}

func accountCheck(id, field, op string, value float64) rule.PrimitiveRef {
	return rule.PrimitiveRef{
		ID:   id,
		Kind: "account_comparison",
		Params: rule.Object{
			"field": rule.Str(field),
			"op":    rule.Str(op),
			"value": rule.Float(value),
		},
	}
}

// SafetyRules returns the built-in account safety rules. They run in
// every cycle ahead of any playbook, at the reserved priority tier 0,
// and only ever BLOCK: a broker-side hold is never something a
// playbook can soften.
func SafetyRules() []rule.Definition {
	return []rule.Definition{
		{
			ID:       "safety.trading_blocked",
			Category: rule.CategoryRisk,
			Priority: 0,
			Action:   rule.Block,
			Primitives: []rule.PrimitiveRef{
				accountCheck("blocked", "trading_blocked", "==", 1),
			},
		},
		{
			ID:       "safety.trade_suspended",
			Category: rule.CategoryRisk,
			Priority: 0,
			Action:   rule.Block,
			Primitives: []rule.PrimitiveRef{
				accountCheck("suspended", "trade_suspended_by_user", "==", 1),
			},
		},
		{
			// The PDT rule: a flagged pattern day trader with three
			// round trips already used cannot open another day trade.
			ID:       "safety.pdt_limit",
			Category: rule.CategoryRisk,
			Priority: 0,
			Action:   rule.Block,
			Primitives: []rule.PrimitiveRef{
				accountCheck("flagged", "pattern_day_trader", "==", 1),
				accountCheck("round_trips", "daytrade_count", ">=", 3),
			},
			Conditions: rule.Conditions{All: []string{"flagged", "round_trips"}},
		},
		{
			ID:       "safety.no_buying_power",
			Category: rule.CategoryRisk,
			Priority: 0,
			Action:   rule.Block,
			Primitives: []rule.PrimitiveRef{
				accountCheck("bp", "buying_power", "<=", 0),
			},
		},
		{
			ID:       "safety.no_cash",
			Category: rule.CategoryRisk,
			Priority: 0,
			Action:   rule.Block,
			Primitives: []rule.PrimitiveRef{
				accountCheck("cash", "cash", "<=", 0),
			},
		},
	}
}
