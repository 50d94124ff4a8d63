// Package snapshot provides the immutable evaluation context: a frozen,
// versioned view of account, market and derived data for exactly one
// evaluation cycle.
//
// A Snapshot is constructed once per cycle through a Builder and never
// mutated afterwards. Every evaluator in a cycle sees the identical
// snapshot, which is what makes evaluation deterministic and replayable:
// the same snapshot, rules and prior state always produce the same
// outcome. A new cycle requires a new Snapshot.
package snapshot
