package primitive

import (
	"errors"

	"github.com/tmom/playbook/internal/rule"
	"github.com/tmom/playbook/internal/snapshot"
)

// Cache wraps a Registry for the lifetime of one evaluation cycle.
//
// Results are memoized by the content hash of (kind, params): every
// rule that references the same primitive instance receives the same
// sub-result, errors included. The cache is cycle-scoped and must not
// outlive its snapshot - a new cycle gets a new Cache.
//
// Not safe for concurrent use. The engine evaluates a cycle from one
// goroutine, which is also what keeps evaluation order deterministic.
type Cache struct {
	reg     *Registry
	results map[string]cached
}

type cached struct {
	res Result
	err error
}

// NewCache creates a cache over the given registry.
func NewCache(reg *Registry) *Cache {
	return &Cache{
		reg:     reg,
		results: make(map[string]cached),
	}
}

// Evaluate dispatches through the registry, memoizing by params hash.
// On a cache hit the stored result is returned with Ref rewritten to
// the caller's reference id; everything else is identical by
// construction.
func (c *Cache) Evaluate(ref rule.PrimitiveRef, snap *snapshot.Snapshot) (Result, error) {
	hash, hashErr := rule.ParamsHash(ref.Kind, ref.Params)
	if hashErr != nil {
		// Unhashable params fail validation in the registry; let the
		// registry produce the typed error.
		return c.reg.Evaluate(ref, snap)
	}

	if entry, ok := c.results[hash]; ok {
		if entry.err != nil {
			return Result{}, withRef(entry.err, ref.ID)
		}
		res := entry.res
		res.Ref = ref.ID
		return res, nil
	}

	res, err := c.reg.Evaluate(ref, snap)
	c.results[hash] = cached{res: res, err: err}
	return res, err
}

// withRef returns a copy of a memoized EvaluationError carrying the
// caller's ref id. The cached error keeps the first caller's ref, so
// later callers sharing the same params must not see it.
func withRef(err error, refID string) error {
	var ee *EvaluationError
	if errors.As(err, &ee) {
		cp := *ee
		cp.Ref = refID
		return &cp
	}
	return err
}

// Len returns the number of distinct primitive instances evaluated so
// far in this cycle. Diagnostics only.
func (c *Cache) Len() int {
	return len(c.results)
}
