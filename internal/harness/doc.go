// Package harness runs conformance scenarios: YAML-described snapshot
// sequences evaluated against a playbook, with per-cycle expectations
// and golden-file trace comparison. Scenarios are the executable
// answer to "what does this playbook do across a session".
package harness
