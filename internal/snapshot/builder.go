package snapshot

import (
	"fmt"
	"sort"

	"github.com/tmom/playbook/internal/rule"
)

// Derived metric names computed by the builder when their account
// inputs are present. They share the market/derived namespace that
// rules read through Snapshot.Field.
const (
	MetricDrawdownPct = "drawdown_pct"
	MetricExposurePct = "exposure_pct"
)

// Builder assembles a Snapshot from externally supplied account, market
// and history data. Build validates required fields, computes derived
// metrics once, deep-copies everything and seals the result.
//
// A Builder is single-use: Build returns a fresh immutable Snapshot and
// the builder should be discarded.
type Builder struct {
	seq int64
	at  int64

	account map[string]rule.Value
	market  map[string]rule.Value
	derived map[string]float64

	history map[string][]int64
	events  []Event

	requiredAccount []string
}

// NewBuilder creates a Builder for the cycle identified by seq,
// timestamped at unix seconds.
func NewBuilder(seq, at int64) *Builder {
	return &Builder{
		seq:     seq,
		at:      at,
		account: make(map[string]rule.Value),
		market:  make(map[string]rule.Value),
		derived: make(map[string]float64),
		history: make(map[string][]int64),
	}
}

// RequireAccount declares account fields that must be present at Build.
// The global safety rules declare their inputs this way so a snapshot
// missing them fails construction instead of silently evaluating.
func (b *Builder) RequireAccount(fields ...string) *Builder {
	b.requiredAccount = append(b.requiredAccount, fields...)
	return b
}

// SetAccount sets a broker account field.
func (b *Builder) SetAccount(name string, v rule.Value) *Builder {
	b.account[name] = v
	return b
}

// SetMarket sets a market data field (price, vwap, atr_14, session, ...).
func (b *Builder) SetMarket(name string, v rule.Value) *Builder {
	b.market[name] = v
	return b
}

// SetDerived sets an externally computed derived metric
// (e.g., daily_realized_pnl from the fills aggregator).
func (b *Builder) SetDerived(name string, v float64) *Builder {
	b.derived[name] = v
	return b
}

// AddHistory appends timestamps to a named metric series.
func (b *Builder) AddHistory(metric string, at ...int64) *Builder {
	b.history[metric] = append(b.history[metric], at...)
	return b
}

// AddEvent appends an entry to the trade event log.
func (b *Builder) AddEvent(at int64, name string) *Builder {
	b.events = append(b.events, Event{At: at, Name: name})
	return b
}

// Build validates, computes derived metrics, and seals the snapshot.
// Returns *BuildError on missing required fields, non-positive clock
// inputs, or derived-metric computation failure (division by zero).
func (b *Builder) Build() (*Snapshot, error) {
	if b.at <= 0 {
		return nil, &BuildError{Code: ErrCodeBadClock, Message: fmt.Sprintf("snapshot timestamp must be positive, got %d", b.at)}
	}
	if b.seq < 0 {
		return nil, &BuildError{Code: ErrCodeBadClock, Message: fmt.Sprintf("snapshot seq must be non-negative, got %d", b.seq)}
	}

	var missing []string
	for _, f := range b.requiredAccount {
		if _, ok := b.account[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &BuildError{
			Code:    ErrCodeMissingFields,
			Message: "required account fields absent",
			Fields:  missing,
		}
	}

	derived := make(map[string]float64, len(b.derived)+2)
	for k, v := range b.derived {
		derived[k] = v
	}
	if err := b.computeDerived(derived); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		seq:     b.seq,
		at:      b.at,
		account: copyValueMap(b.account),
		market:  copyValueMap(b.market),
		derived: derived,
		history: copyHistory(b.history),
		events:  copyEvents(b.events),
	}

	hash, err := snap.contentHash()
	if err != nil {
		return nil, &BuildError{Code: ErrCodeBadValue, Message: fmt.Sprintf("snapshot not hashable: %v", err)}
	}
	snap.hash = hash

	return snap, nil
}

// computeDerived fills in metrics derivable from account fields.
// Explicitly supplied values win over computed ones. A zero denominator
// fails construction: a ratio over nothing is a data bug upstream, and
// evaluating against a guessed value would poison every rule downstream.
func (b *Builder) computeDerived(derived map[string]float64) error {
	equity, hasEquity := accountFloat(b.account, "equity")
	peak, hasPeak := accountFloat(b.account, "peak_equity")

	if _, set := derived[MetricDrawdownPct]; !set && hasEquity && hasPeak {
		if peak == 0 {
			return &BuildError{
				Code:    ErrCodeDerivedMetric,
				Message: "drawdown_pct: peak_equity is zero",
				Fields:  []string{"peak_equity"},
			}
		}
		derived[MetricDrawdownPct] = (peak - equity) / peak * 100
	}

	position, hasPosition := accountFloat(b.account, "position_value")
	if _, set := derived[MetricExposurePct]; !set && hasPosition && hasEquity {
		if equity == 0 {
			return &BuildError{
				Code:    ErrCodeDerivedMetric,
				Message: "exposure_pct: equity is zero",
				Fields:  []string{"equity"},
			}
		}
		derived[MetricExposurePct] = position / equity * 100
	}

	return nil
}

func accountFloat(m map[string]rule.Value, name string) (float64, bool) {
	v, ok := m[name]
	if !ok {
		return 0, false
	}
	return rule.AsFloat(v)
}

// contentHash computes the canonical identity of the snapshot content.
func (s *Snapshot) contentHash() (string, error) {
	histObj := make(rule.Object, len(s.history))
	for metric, series := range s.history {
		arr := make(rule.Array, len(series))
		for i, at := range series {
			arr[i] = rule.Int(at)
		}
		histObj[metric] = arr
	}

	eventArr := make(rule.Array, len(s.events))
	for i, ev := range s.events {
		eventArr[i] = rule.Object{"at": rule.Int(ev.At), "name": rule.Str(ev.Name)}
	}

	derivedObj := make(rule.Object, len(s.derived))
	for k, v := range s.derived {
		derivedObj[k] = rule.Float(v)
	}

	return rule.HashCanonical(rule.DomainSnapshot, rule.Object{
		"seq":     rule.Int(s.seq),
		"at":      rule.Int(s.at),
		"account": rule.Object(s.account),
		"market":  rule.Object(s.market),
		"derived": derivedObj,
		"history": histObj,
		"events":  eventArr,
	})
}

func copyValueMap(src map[string]rule.Value) map[string]rule.Value {
	dst := make(map[string]rule.Value, len(src))
	for k, v := range src {
		dst[k] = copyValue(v)
	}
	return dst
}

// copyValue deep-copies composite values so no caller retains a
// mutable alias into the sealed snapshot.
func copyValue(v rule.Value) rule.Value {
	switch val := v.(type) {
	case rule.Array:
		out := make(rule.Array, len(val))
		for i, elem := range val {
			out[i] = copyValue(elem)
		}
		return out
	case rule.Object:
		out := make(rule.Object, len(val))
		for k, elem := range val {
			out[k] = copyValue(elem)
		}
		return out
	default:
		// Str, Int, Float, Bool are value types.
		return v
	}
}

func copyHistory(src map[string][]int64) map[string][]int64 {
	dst := make(map[string][]int64, len(src))
	for metric, series := range src {
		s := make([]int64, len(series))
		copy(s, series)
		sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
		dst[metric] = s
	}
	return dst
}

func copyEvents(src []Event) []Event {
	dst := make([]Event, len(src))
	copy(dst, src)
	sort.SliceStable(dst, func(i, j int) bool { return dst[i].At < dst[j].At })
	return dst
}
