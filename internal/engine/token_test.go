package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}

	a := g.NewToken()
	b := g.NewToken()

	assert.NotEqual(t, a, b)
	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("one", "two")

	assert.Equal(t, "one", g.NewToken())
	assert.Equal(t, "two", g.NewToken())
	assert.Panics(t, func() { g.NewToken() }, "exhaustion is a test bug, not a silent wraparound")
}
