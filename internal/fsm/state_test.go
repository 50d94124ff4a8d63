package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhase_Valid(t *testing.T) {
	for _, p := range []Phase{PhaseNormal, PhaseWarned, PhaseCooldown, PhaseEscalated} {
		assert.True(t, p.Valid(), "%s", p)
	}
	assert.False(t, Phase("").Valid())
	assert.False(t, Phase("sideways").Valid())
}

func TestKey_String(t *testing.T) {
	k := Key{RuleID: "max_drawdown", Subject: "acct-1"}
	assert.Equal(t, "max_drawdown/acct-1", k.String())
}

func TestEntityState_IsZero(t *testing.T) {
	assert.True(t, EntityState{}.IsZero())
	assert.False(t, Initial().IsZero(), "Initial carries an explicit phase")
	assert.False(t, EntityState{Violations: 1}.IsZero())
}

func TestEntityState_CloneIsolatesSlice(t *testing.T) {
	s := EntityState{Phase: PhaseWarned, RecentViolations: []int64{10, 20}}
	c := s.clone()
	c.RecentViolations[0] = 99
	assert.Equal(t, int64(10), s.RecentViolations[0])
}
