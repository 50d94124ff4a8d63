package snapshot

import (
	"github.com/tmom/playbook/internal/rule"
)

// Event is a single entry in the ordered trade event log
// (e.g., "entry", "stop_loss", "loss").
type Event struct {
	At   int64  `json:"at"` // unix seconds
	Name string `json:"name"`
}

// Snapshot is the immutable evaluation context for one cycle.
//
// All fields are private and reachable only through read-only accessors;
// slice and map results are copies, so no caller can mutate the snapshot
// after construction. Two snapshots are comparable by Seq for audit
// correlation.
type Snapshot struct {
	seq int64
	at  int64 // unix seconds

	account map[string]rule.Value
	market  map[string]rule.Value
	derived map[string]float64

	history map[string][]int64 // metric name -> ascending unix timestamps
	events  []Event            // ascending by At

	hash string
}

// Seq returns the monotonic sequence id of this snapshot.
func (s *Snapshot) Seq() int64 { return s.seq }

// At returns the snapshot timestamp (unix seconds).
func (s *Snapshot) At() int64 { return s.at }

// Hash returns the content-addressed identity of the snapshot,
// computed once at build time over its canonical JSON form.
func (s *Snapshot) Hash() string { return s.hash }

// Field looks up a market field, falling back to derived metrics.
// This mirrors how rules name their inputs: "price" and "drawdown_pct"
// live in the same namespace from a rule author's point of view.
func (s *Snapshot) Field(name string) (rule.Value, bool) {
	if v, ok := s.market[name]; ok {
		return v, true
	}
	if f, ok := s.derived[name]; ok {
		return rule.Float(f), true
	}
	return nil, false
}

// Account looks up a broker account field.
func (s *Snapshot) Account(name string) (rule.Value, bool) {
	v, ok := s.account[name]
	return v, ok
}

// Derived looks up a derived metric by name.
func (s *Snapshot) Derived(name string) (float64, bool) {
	f, ok := s.derived[name]
	return f, ok
}

// History returns a copy of the timestamp series for a metric
// (e.g., "trades"). Timestamps are ascending unix seconds.
func (s *Snapshot) History(metric string) []int64 {
	src, ok := s.history[metric]
	if !ok {
		return nil
	}
	out := make([]int64, len(src))
	copy(out, src)
	return out
}

// Events returns a copy of the ordered trade event log.
func (s *Snapshot) Events() []Event {
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// AccountFields returns the names of all present account fields.
// Used by structural validation and diagnostics, not by evaluators.
func (s *Snapshot) AccountFields() []string {
	names := make([]string, 0, len(s.account))
	for k := range s.account {
		names = append(names, k)
	}
	return names
}
