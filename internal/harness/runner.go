package harness

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/tmom/playbook/internal/engine"
	"github.com/tmom/playbook/internal/outcome"
	"github.com/tmom/playbook/internal/primitive"
	"github.com/tmom/playbook/internal/rule"
	"github.com/tmom/playbook/internal/ruleset"
	"github.com/tmom/playbook/internal/store"
)

// Result holds the outcome of running a scenario: one aggregate per
// cycle, the final persisted states, and any expectation failures.
type Result struct {
	ScenarioName string
	Aggregates   []*outcome.AggregateOutcome
	FinalStates  []store.StateRecord

	// Failures lists expectation mismatches. Empty means the scenario
	// passed.
	Failures []string
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool { return len(r.Failures) == 0 }

// Run executes a scenario: every cycle in order against one in-memory
// state store, so violation state carries across cycles exactly as it
// would in production. Cycle tokens are fixed ("cycle-001", ...) to
// keep traces reproducible.
//
// Run returns an error only when the scenario itself cannot execute;
// expectation mismatches land in Result.Failures.
func Run(sc *Scenario) (*Result, error) {
	defs, err := scenarioRules(sc)
	if err != nil {
		return nil, err
	}

	var required []string
	if sc.Safety {
		required = ruleset.RequiredAccountFields
	}

	subject := sc.Subject
	if subject == "" {
		subject = "default"
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("scenario %s: open store: %w", sc.Name, err)
	}
	defer st.Close()

	tokens := make([]string, len(sc.Cycles))
	for i := range tokens {
		tokens[i] = fmt.Sprintf("cycle-%03d", i+1)
	}

	eng := engine.New(primitive.Builtin(), st,
		engine.WithTokenGenerator(engine.NewFixedGenerator(tokens...)),
		engine.WithAuditor(st),
	)

	ctx := context.Background()
	result := &Result{ScenarioName: sc.Name}

	for i, step := range sc.Cycles {
		snap, err := buildSnapshot(step.Snapshot, required)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: cycle %d: %w", sc.Name, i+1, err)
		}

		agg, err := eng.EvaluateCycle(ctx, snap, defs, subject)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: cycle %d: %w", sc.Name, i+1, err)
		}
		result.Aggregates = append(result.Aggregates, agg)

		if step.Expect != nil {
			states, err := st.ListStates(ctx)
			if err != nil {
				return nil, fmt.Errorf("scenario %s: cycle %d: %w", sc.Name, i+1, err)
			}
			checkExpect(result, i+1, agg, step.Expect, states, subject)
		}
	}

	result.FinalStates, err = st.ListStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	return result, nil
}

// scenarioRules resolves the scenario's rule definitions, from CUE or
// from the caller, with the safety rules prepended when requested.
func scenarioRules(sc *Scenario) ([]rule.Definition, error) {
	defs := sc.Rules

	if sc.Playbook != "" {
		set, loadErrors := ruleset.Load(filepath.Join(sc.dir, sc.Playbook), ruleset.LoadModeFailFast)
		if len(loadErrors) > 0 {
			return nil, fmt.Errorf("scenario %s: load playbook: %w", sc.Name, loadErrors[0])
		}
		if verrs := ruleset.Validate(set.Rules, primitive.Builtin(), false); len(verrs) > 0 {
			return nil, fmt.Errorf("scenario %s: invalid playbook: %s", sc.Name, verrs[0].Error())
		}
		defs = append(defs, set.Rules...)
	}

	if len(defs) == 0 {
		return nil, fmt.Errorf("scenario %s: no rules to evaluate", sc.Name)
	}
	if sc.Safety {
		defs = append(ruleset.SafetyRules(), defs...)
	}
	return defs, nil
}
