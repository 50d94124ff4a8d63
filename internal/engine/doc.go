// Package engine orchestrates a single evaluation cycle: stateless
// primitive evaluation over a frozen snapshot, state resolution for
// stateful rules, and constraint resolution into one aggregate
// outcome. The engine owns the cycle's logical clock and token, and
// is the only component that touches the state store.
package engine
