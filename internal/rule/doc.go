// Package rule defines the shared vocabulary of the playbook engine:
// rule definitions, enforcement actions, the sealed Value types used for
// primitive parameters, and the canonical JSON serialization used for
// content-addressed hashing.
//
// Canonical JSON here follows RFC 8785 conventions (UTF-16 key ordering,
// NFC-normalized strings, no HTML escaping) so that the same logical
// value always hashes to the same identity, across processes and across
// replays. Unlike stricter IR designs, floats are permitted - prices,
// ratios and thresholds are inherently fractional - but they are encoded
// in shortest round-trip form and NaN/Inf are rejected outright.
package rule
