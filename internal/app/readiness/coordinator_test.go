package readiness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/roomsync/internal/app/playback"
	"github.com/osa030/roomsync/internal/domain/room"
)

const t0 = int64(1_700_000_000_000)

func startingSnapshot() playback.Snapshot {
	return playback.Snapshot{
		Room: room.Room{ID: "r", State: room.StateStarting, CurrentEntryID: "a", AdSyncMode: room.AdSyncOff},
		Entries: []room.QueueEntry{
			{ID: "a", Status: room.EntryCurrent, Position: 1, DurationMs: 20000},
		},
	}
}

func members(ready ...bool) []room.Membership {
	ms := make([]room.Membership, len(ready))
	for i, r := range ready {
		ms[i] = room.Membership{UserID: string(rune('a' + i)), Active: true, Ready: r, Role: room.RoleParticipant}
	}
	return ms
}

func TestQuorum_ExactlyOnLastReady(t *testing.T) {
	c := NewCoordinator(playback.NewMachine(playback.Config{CompletionMargin: time.Second}))
	snap := startingSnapshot()
	ms := members(false, false, false)

	for i := 0; i < 3; i++ {
		ms[i].Ready = true
		d, err := c.OnReport(snap, ms, Report{UserID: ms[i].UserID, WasReady: false, Ready: true}, t0)
		require.NoError(t, err)

		if i < 2 {
			assert.Equal(t, ActionNone, d.Action, "report %d must not release", i+1)
			continue
		}
		assert.Equal(t, ActionRelease, d.Action)
		assert.Equal(t, playback.TriggerQuorum, d.Trigger)
		assert.Equal(t, room.StatePlaying, d.Outcome.Room.State)
	}
}

func TestQuorumReached(t *testing.T) {
	snap := startingSnapshot()

	tests := []struct {
		name     string
		state    room.State
		hasEntry bool
		members  []room.Membership
		want     bool
	}{
		{name: "all ready", state: room.StateStarting, hasEntry: true, members: members(true, true), want: true},
		{name: "one not ready", state: room.StateStarting, hasEntry: true, members: members(true, false), want: false},
		{name: "midroll all ready", state: room.StateMidroll, hasEntry: true, members: members(true), want: true},
		{name: "playing never waits", state: room.StatePlaying, hasEntry: true, members: members(true), want: false},
		{name: "no entry", state: room.StateStarting, hasEntry: false, members: members(true), want: false},
		{name: "no active members", state: room.StateStarting, hasEntry: true, members: nil, want: false},
		{
			name:     "inactive members do not block",
			state:    room.StateStarting,
			hasEntry: true,
			members: []room.Membership{
				{UserID: "a", Active: true, Ready: true},
				{UserID: "gone", Active: false, Ready: false},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := snap.Room
			r.State = tt.state
			assert.Equal(t, tt.want, QuorumReached(r, tt.hasEntry, tt.members))
		})
	}
}

func TestShouldEnterMidroll(t *testing.T) {
	tests := []struct {
		name     string
		mode     room.AdSyncMode
		state    room.State
		role     room.Role
		wasReady bool
		ready    bool
		want     bool
	}{
		{name: "off", mode: room.AdSyncOff, state: room.StatePlaying, role: room.RoleOwner, wasReady: true, want: false},
		{name: "pause_all participant", mode: room.AdSyncPauseAll, state: room.StatePlaying, role: room.RoleParticipant, wasReady: true, want: true},
		{name: "pause_all during starting", mode: room.AdSyncPauseAll, state: room.StateStarting, role: room.RoleParticipant, wasReady: true, want: true},
		{name: "pause_all while paused", mode: room.AdSyncPauseAll, state: room.StatePaused, role: room.RoleParticipant, wasReady: true, want: false},
		{name: "operators_only participant", mode: room.AdSyncOperatorsOnly, state: room.StatePlaying, role: room.RoleParticipant, wasReady: true, want: false},
		{name: "operators_only operator", mode: room.AdSyncOperatorsOnly, state: room.StatePlaying, role: room.RoleOperator, wasReady: true, want: true},
		{name: "starting_only while playing", mode: room.AdSyncStartingOnly, state: room.StatePlaying, role: room.RoleOwner, wasReady: true, want: false},
		{name: "starting_only while starting", mode: room.AdSyncStartingOnly, state: room.StateStarting, role: room.RoleParticipant, wasReady: true, want: true},
		{name: "no flip", mode: room.AdSyncPauseAll, state: room.StatePlaying, role: room.RoleOwner, wasReady: false, want: false},
		{name: "becoming ready", mode: room.AdSyncPauseAll, state: room.StatePlaying, role: room.RoleOwner, wasReady: false, ready: true, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := room.Room{State: tt.state, AdSyncMode: tt.mode}
			assert.Equal(t, tt.want, ShouldEnterMidroll(r, tt.role, tt.wasReady, tt.ready))
		})
	}
}

func TestOnReport_Midroll(t *testing.T) {
	c := NewCoordinator(playback.NewMachine(playback.Config{CompletionMargin: time.Second}))
	since := t0
	snap := playback.Snapshot{
		Room: room.Room{ID: "r", State: room.StatePlaying, CurrentEntryID: "a", AdSyncMode: room.AdSyncPauseAll},
		Entries: []room.QueueEntry{
			{ID: "a", Status: room.EntryCurrent, DurationMs: 20000, PlayingSinceMs: &since},
		},
	}
	ms := members(false, true)

	d, err := c.OnReport(snap, ms, Report{UserID: "a", Role: room.RoleParticipant, WasReady: true, Ready: false}, t0+6000)
	require.NoError(t, err)
	assert.Equal(t, ActionMidroll, d.Action)
	assert.Equal(t, room.StateMidroll, d.Outcome.Room.State)
	assert.True(t, d.Outcome.ResetReadiness)
	cur, ok := d.Outcome.Current()
	require.True(t, ok)
	assert.Equal(t, int64(6000), cur.ProgressMs)
}

func TestResetAll(t *testing.T) {
	ms := []room.Membership{
		{UserID: "a", Active: true, Ready: true},
		{UserID: "b", Active: false, Ready: true},
	}
	reset := ResetAll(ms)
	assert.False(t, reset[0].Ready)
	assert.True(t, reset[1].Ready, "inactive members are left alone")
	assert.True(t, ms[0].Ready, "input is not modified")
}
