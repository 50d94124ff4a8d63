package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TokenGenerator produces the token that names one evaluation cycle.
// Tokens appear in the aggregate outcome and the audit log; they must
// be unique per cycle but carry no ordering semantics (the clock does
// that).
type TokenGenerator interface {
	NewToken() string
}

// UUIDv7Generator produces time-ordered UUID tokens. This is the
// production generator.
type UUIDv7Generator struct{}

func (UUIDv7Generator) NewToken() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator replays a predetermined token sequence. Tests and
// replay verification use it to reproduce recorded cycles exactly.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	next   int
}

// NewFixedGenerator returns a generator that yields the given tokens
// in order and panics when they run out. Exhaustion means the caller
// evaluated more cycles than were recorded, which is a test bug.
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

func (g *FixedGenerator) NewToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next >= len(g.tokens) {
		panic(fmt.Sprintf("fixed token generator exhausted after %d tokens", len(g.tokens)))
	}
	t := g.tokens[g.next]
	g.next++
	return t
}
