package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueEntry_Freeze(t *testing.T) {
	e := QueueEntry{DurationMs: 10000, ProgressMs: 1000}
	e.StartAt(5000)

	e.Freeze(7000)
	assert.Equal(t, int64(3000), e.ProgressMs)
	assert.Nil(t, e.PlayingSinceMs)

	// Freezing again later adds nothing.
	e.Freeze(60000)
	assert.Equal(t, int64(3000), e.ProgressMs)
}

func TestQueueEntry_EffectivePosition(t *testing.T) {
	e := QueueEntry{DurationMs: 10000, ProgressMs: 2000}
	assert.Equal(t, int64(2000), e.EffectivePosition(123456))
	assert.False(t, e.Advancing())

	e.StartAt(100)
	assert.True(t, e.Advancing())
	assert.Equal(t, int64(2500), e.EffectivePosition(600))
	assert.Equal(t, int64(10000), e.EffectivePosition(1_000_000))
}

func TestState_AwaitingQuorum(t *testing.T) {
	assert.True(t, StateStarting.AwaitingQuorum())
	assert.True(t, StateMidroll.AwaitingQuorum())
	assert.False(t, StatePlaying.AwaitingQuorum())
	assert.False(t, StatePaused.AwaitingQuorum())
	assert.False(t, StateIdle.AwaitingQuorum())
}

func TestEnumsValid(t *testing.T) {
	assert.True(t, ControlOperators.Valid())
	assert.False(t, ControlMode("anyone").Valid())
	assert.True(t, AdSyncStartingOnly.Valid())
	assert.False(t, AdSyncMode("always").Valid())
	assert.True(t, StateMidroll.Valid())
	assert.False(t, State("stopped").Valid())
}

func TestActiveMembers(t *testing.T) {
	members := []Membership{
		{UserID: "a", Active: true},
		{UserID: "b", Active: false},
		{UserID: "c", Active: true},
	}
	active := ActiveMembers(members)
	assert.Len(t, active, 2)
	assert.Equal(t, "a", active[0].UserID)
	assert.Equal(t, "c", active[1].UserID)
	assert.True(t, RoleOperator.Privileged())
	assert.False(t, RoleParticipant.Privileged())
}
