package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/tmom/playbook/internal/rule"
	"github.com/tmom/playbook/internal/snapshot"
)

// Scenario defines a conformance test scenario: a playbook evaluated
// against an ordered sequence of snapshots, with expectations on each
// cycle's aggregate outcome. One scenario models one trading session.
type Scenario struct {
	// Name uniquely identifies this scenario; it also names the golden
	// file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Playbook is the path to the CUE playbook directory, relative to
	// the scenario file location. Empty means rules are supplied in Go
	// by the caller.
	Playbook string `yaml:"playbook,omitempty"`

	// Subject is the entity the stateful rules track.
	Subject string `yaml:"subject,omitempty"`

	// Safety includes the built-in account safety rules ahead of the
	// playbook.
	Safety bool `yaml:"safety,omitempty"`

	// Cycles is the snapshot sequence, evaluated in order against one
	// shared state store.
	Cycles []CycleStep `yaml:"cycles"`

	// Rules holds the compiled definitions when Playbook is empty.
	// Not read from YAML.
	Rules []rule.Definition `yaml:"-"`

	dir string // scenario file directory, for resolving Playbook
}

// CycleStep is one evaluation cycle: the snapshot to evaluate and the
// expected aggregate.
type CycleStep struct {
	Snapshot SnapshotDoc   `yaml:"snapshot"`
	Expect   *ExpectClause `yaml:"expect,omitempty"`
}

// SnapshotDoc is the YAML shape of one snapshot.
type SnapshotDoc struct {
	Seq     int64              `yaml:"seq"`
	At      int64              `yaml:"at"`
	Account map[string]any     `yaml:"account"`
	Market  map[string]any     `yaml:"market"`
	Derived map[string]float64 `yaml:"derived,omitempty"`
	History map[string][]int64 `yaml:"history,omitempty"`
	Events  []EventDoc         `yaml:"events,omitempty"`
}

// EventDoc is one timestamped event in a snapshot.
type EventDoc struct {
	At   int64  `yaml:"at"`
	Name string `yaml:"name"`
}

// ExpectClause specifies the expected aggregate for one cycle. Only
// specified fields are validated.
type ExpectClause struct {
	// Action is the expected aggregate action (ALLOW, WARN, MODIFY,
	// BLOCK).
	Action string `yaml:"action"`

	// DominantRule is the expected winning rule id.
	DominantRule string `yaml:"dominant_rule,omitempty"`

	// Fired lists rule ids expected to have fired, exactly.
	Fired []string `yaml:"fired,omitempty"`

	// Uncertain asserts the conservative-degradation flag.
	Uncertain *bool `yaml:"uncertain,omitempty"`

	// Phases maps rule id to the expected post-cycle FSM phase.
	Phases map[string]string `yaml:"phases,omitempty"`
}

// LoadScenario reads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("scenario %s: name is required", path)
	}
	if len(sc.Cycles) == 0 {
		return nil, fmt.Errorf("scenario %s: at least one cycle is required", path)
	}
	sc.dir = filepath.Dir(path)
	return &sc, nil
}

// LoadScenarios reads every *.yaml scenario under dir, sorted by file
// name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	scenarios := make([]*Scenario, 0, len(matches))
	for _, path := range matches {
		sc, err := LoadScenario(path)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

// buildSnapshot converts a SnapshotDoc into the immutable snapshot the
// engine consumes.
func buildSnapshot(doc SnapshotDoc, required []string) (*snapshot.Snapshot, error) {
	b := snapshot.NewBuilder(doc.Seq, doc.At).RequireAccount(required...)

	for _, name := range sortedDocKeys(doc.Account) {
		v, err := rule.FromGo(doc.Account[name])
		if err != nil {
			return nil, fmt.Errorf("account field %q: %w", name, err)
		}
		b.SetAccount(name, v)
	}
	for _, name := range sortedDocKeys(doc.Market) {
		v, err := rule.FromGo(doc.Market[name])
		if err != nil {
			return nil, fmt.Errorf("market field %q: %w", name, err)
		}
		b.SetMarket(name, v)
	}
	for name, v := range doc.Derived {
		b.SetDerived(name, v)
	}
	for metric, times := range doc.History {
		b.AddHistory(metric, times...)
	}
	for _, ev := range doc.Events {
		b.AddEvent(ev.At, ev.Name)
	}

	return b.Build()
}

func sortedDocKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
