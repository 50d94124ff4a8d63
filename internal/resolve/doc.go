// Package resolve combines primitive results into one action per rule,
// then combines all rule actions into the single enforced action for
// the cycle.
//
// Per-rule combination uses short-circuit all/any/none semantics over
// boolean results plus threshold terms over numeric results. Cross-rule
// resolution uses the total order BLOCK > MODIFY > WARN > ALLOW, with
// ties broken by priority tier (lower wins) and then rule ID
// (lexicographic), so any set of rule actions resolves to exactly one
// dominant action, deterministically. The precedence rationale is built
// from the actual comparison chain so the audit trail shows why the
// winner won.
package resolve
