package cli

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/tmom/playbook/internal/rule"
	"github.com/tmom/playbook/internal/ruleset"
	"github.com/tmom/playbook/internal/snapshot"
)

// snapshotFile is the YAML shape of a snapshot on disk.
type snapshotFile struct {
	Seq     int64              `yaml:"seq"`
	At      int64              `yaml:"at"`
	Subject string             `yaml:"subject"`
	Account map[string]any     `yaml:"account"`
	Market  map[string]any     `yaml:"market"`
	Derived map[string]float64 `yaml:"derived"`
	History map[string][]int64 `yaml:"history"`
	Events  []struct {
		At   int64  `yaml:"at"`
		Name string `yaml:"name"`
	} `yaml:"events"`
}

// LoadSnapshot reads a YAML snapshot file and builds the immutable
// snapshot from it. The required broker account fields are enforced
// here so a malformed file fails before any rule sees it. Returns the
// snapshot and the file's subject (may be empty).
func LoadSnapshot(path string) (*snapshot.Snapshot, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read snapshot: %w", err)
	}

	var file snapshotFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, "", fmt.Errorf("parse snapshot: %w", err)
	}

	b := snapshot.NewBuilder(file.Seq, file.At).
		RequireAccount(ruleset.RequiredAccountFields...)

	// Sorted insertion keeps builder error messages stable.
	for _, name := range sortedKeys(file.Account) {
		v, err := rule.FromGo(file.Account[name])
		if err != nil {
			return nil, "", fmt.Errorf("account field %q: %w", name, err)
		}
		b.SetAccount(name, v)
	}
	for _, name := range sortedKeys(file.Market) {
		v, err := rule.FromGo(file.Market[name])
		if err != nil {
			return nil, "", fmt.Errorf("market field %q: %w", name, err)
		}
		b.SetMarket(name, v)
	}
	for name, v := range file.Derived {
		b.SetDerived(name, v)
	}
	for metric, times := range file.History {
		b.AddHistory(metric, times...)
	}
	for _, ev := range file.Events {
		b.AddEvent(ev.At, ev.Name)
	}

	snap, err := b.Build()
	if err != nil {
		return nil, "", err
	}
	return snap, file.Subject, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
