// Package ruleset loads trading playbooks from CUE files, compiles
// them into rule definitions, and validates the result against the
// primitive registry. It also carries the built-in account safety
// rules every playbook runs with.
package ruleset
