// Package primitive implements the atomic conditions rules are built
// from: named evaluators dispatched through a registry by kind.
//
// Every evaluator is a pure function of (params, snapshot). Identical
// inputs always yield an identical Result, which enables the per-cycle
// result cache and makes replay byte-for-byte reproducible. Evaluators
// never write state; temporal behavior lives in the fsm package.
//
// Seven builtin kinds cover the playbook vocabulary: comparison,
// account_comparison, set_membership, accumulation, rate_limit,
// sequence and temporal_gate.
package primitive
