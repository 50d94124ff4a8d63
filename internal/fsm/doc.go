// Package fsm evaluates the stateful side of rules: conditions whose
// answer depends on history, like cooldowns after a stop-loss and
// escalation under repeated violations.
//
// The resolver is pure: prior state comes in as an explicit argument
// and the updated state goes back out for the caller to persist. There
// is no hidden mutable field, so resolving the same (rule, subject,
// snapshot, prior state, violation) inputs always produces the same
// result and the same successor state - the property replay depends on.
//
// Phases and transitions form a total function: every (phase, trigger)
// pair has exactly one successor. Automatic return to Normal happens
// only through cooldown expiry; any other reset is an explicit external
// operation.
package fsm
