package outcome

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmom/playbook/internal/primitive"
	"github.com/tmom/playbook/internal/rule"
)

func sampleAggregate() *AggregateOutcome {
	return &AggregateOutcome{
		SchemaVersion: SchemaVersion,
		CycleToken:    "cycle-001",
		SnapshotSeq:   7,
		SnapshotAt:    1724902400,
		SnapshotHash:  "snap-hash",
		Action:        rule.Block,
		DominantRule:  "oversize",
		Rationale:     "oversize applies BLOCK",
		Uncertain:     true,
		IndeterminateRules: []string{"stale"},
		Rules: []RuleOutcome{
			{
				RuleID:   "oversize",
				Category: rule.CategoryRisk,
				Priority: 1,
				Action:   rule.Block,
				Status:   StatusFired,
				Results: []primitive.Result{
					{Ref: "check", Kind: "comparison", Bool: true, Value: 12, Numeric: true, Unit: "number", SnapshotSeq: 7, ParamsHash: "ph"},
				},
				Transition: &Transition{Subject: "acct-1", From: "normal", To: "warned"},
			},
			{
				RuleID:   "stale",
				Category: rule.CategoryEntry,
				Priority: 2,
				Action:   rule.Warn,
				Status:   StatusIndeterminate,
				Err:      "field absent",
			},
		},
	}
}

func TestAggregateOutcome_HashStable(t *testing.T) {
	a := sampleAggregate()
	h1, err := a.Hash()
	require.NoError(t, err)
	h2, err := a.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestAggregateOutcome_HashCoversDecision(t *testing.T) {
	a := sampleAggregate()
	h1, err := a.Hash()
	require.NoError(t, err)

	a.Action = rule.Allow
	h2, err := a.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestAggregateOutcome_CanonicalRoundTrip(t *testing.T) {
	// The audit store persists the canonical bytes and decodes them on
	// replay; the decoded form must re-hash to the recorded value.
	a := sampleAggregate()
	want, err := a.Hash()
	require.NoError(t, err)

	raw, err := a.CanonicalJSON()
	require.NoError(t, err)

	var decoded AggregateOutcome
	require.NoError(t, json.Unmarshal(raw, &decoded))

	got, err := decoded.Hash()
	require.NoError(t, err)
	assert.Equal(t, want, got, "round-tripped outcome must verify against its recorded hash")
}

func TestAggregateOutcome_CanonicalOmitsAbsentFields(t *testing.T) {
	a := &AggregateOutcome{
		SchemaVersion: SchemaVersion,
		CycleToken:    "cycle-002",
		Action:        rule.Allow,
		Rationale:     "no rule fired",
	}

	raw, err := a.CanonicalJSON()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.NotContains(t, m, "dominant_rule")
	assert.NotContains(t, m, "uncertain")
	assert.NotContains(t, m, "indeterminate_rules")
}
