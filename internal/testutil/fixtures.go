// Package testutil provides shared fixtures for engine and resolver
// tests: a healthy broker account, snapshot builders that fail the
// test on error, and compact rule constructors.
package testutil

import (
	"testing"
	"time"

	"github.com/tmom/playbook/internal/rule"
	"github.com/tmom/playbook/internal/snapshot"
)

// BaseTime is the reference instant scenarios build around
// (2024-08-29 03:33:20 UTC). Offsets in tests are relative to it.
const BaseTime int64 = 1724902400

// Account returns a healthy broker account: nothing blocked, no PDT
// pressure, cash available. Tests override individual fields.
func Account() map[string]rule.Value {
	return map[string]rule.Value{
		"trading_blocked":         rule.Bool(false),
		"trade_suspended_by_user": rule.Bool(false),
		"pattern_day_trader":      rule.Bool(false),
		"daytrade_count":          rule.Int(0),
		"buying_power":            rule.Float(25000),
		"cash":                    rule.Float(10000),
		"equity":                  rule.Float(50000),
		"peak_equity":             rule.Float(52000),
	}
}

// SnapshotOption mutates the builder before Build.
type SnapshotOption func(*snapshot.Builder)

// WithAccount overrides one account field.
func WithAccount(name string, v rule.Value) SnapshotOption {
	return func(b *snapshot.Builder) { b.SetAccount(name, v) }
}

// WithMarket sets one market field.
func WithMarket(name string, v rule.Value) SnapshotOption {
	return func(b *snapshot.Builder) { b.SetMarket(name, v) }
}

// WithHistory sets the timestamps of one history metric.
func WithHistory(metric string, at ...int64) SnapshotOption {
	return func(b *snapshot.Builder) { b.AddHistory(metric, at...) }
}

// WithEvent appends one event.
func WithEvent(at int64, name string) SnapshotOption {
	return func(b *snapshot.Builder) { b.AddEvent(at, name) }
}

// Snap builds a snapshot over the healthy account, failing the test on
// builder errors.
func Snap(t *testing.T, seq, at int64, opts ...SnapshotOption) *snapshot.Snapshot {
	t.Helper()

	b := snapshot.NewBuilder(seq, at)
	for name, v := range Account() {
		b.SetAccount(name, v)
	}
	for _, opt := range opts {
		opt(b)
	}

	snap, err := b.Build()
	if err != nil {
		t.Fatalf("build snapshot seq %d: %v", seq, err)
	}
	return snap
}

// ComparisonRule builds a single-primitive rule comparing one market
// field against a bound.
func ComparisonRule(id string, action rule.Action, priority int, field, op string, value float64) rule.Definition {
	return rule.Definition{
		ID:       id,
		Category: rule.CategoryRisk,
		Priority: priority,
		Action:   action,
		Primitives: []rule.PrimitiveRef{
			{
				ID:   "check",
				Kind: "comparison",
				Params: rule.Object{
					"left":  rule.Str(field),
					"op":    rule.Str(op),
					"right": rule.Float(value),
				},
			},
		},
	}
}

// Stateful attaches violation tracking to a rule.
func Stateful(def rule.Definition, lookback, cooldown time.Duration, maxEscalation int) rule.Definition {
	def.Stateful = &rule.StatefulSpec{
		Lookback:      lookback,
		Cooldown:      cooldown,
		MaxEscalation: maxEscalation,
	}
	return def
}
