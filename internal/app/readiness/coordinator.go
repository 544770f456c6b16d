// Package readiness decides when a room waiting for its members may start
// playing, and when a member dropping out of readiness means an ad break.
package readiness

import (
	"github.com/osa030/roomsync/internal/app/playback"
	"github.com/osa030/roomsync/internal/domain/room"
)

// Action is what a readiness evaluation asks the caller to commit.
type Action int

const (
	ActionNone    Action = iota // Nothing to do
	ActionRelease               // Quorum reached, start playing
	ActionMidroll               // Ready flag dropped, enter midroll
)

// String returns the string representation of the action.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRelease:
		return "release"
	case ActionMidroll:
		return "midroll"
	default:
		return "unknown"
	}
}

// Report is one member's readiness change.
type Report struct {
	UserID   string
	Role     room.Role
	WasReady bool
	Ready    bool
}

// Decision is the result of evaluating a room after a readiness change.
type Decision struct {
	Action  Action
	Outcome playback.Outcome
	Trigger playback.Trigger
}

// Coordinator evaluates quorum and midroll signals on top of the state machine.
type Coordinator struct {
	machine *playback.Machine
}

// NewCoordinator creates a new readiness coordinator.
func NewCoordinator(machine *playback.Machine) *Coordinator {
	return &Coordinator{machine: machine}
}

// ShouldEnterMidroll reports whether a ready→not-ready flip is an ad signal
// under the room's ad-sync policy.
func ShouldEnterMidroll(r room.Room, reporter room.Role, wasReady, ready bool) bool {
	if !wasReady || ready {
		return false
	}
	if r.State != room.StatePlaying && r.State != room.StateStarting {
		return false
	}

	switch r.AdSyncMode {
	case room.AdSyncPauseAll:
		return true
	case room.AdSyncOperatorsOnly:
		return reporter.Privileged()
	case room.AdSyncStartingOnly:
		return r.State == room.StateStarting
	default:
		return false
	}
}

// QuorumReached reports whether every active member is ready while the room
// waits for them. Inactive members never block the quorum.
func QuorumReached(r room.Room, hasEntry bool, members []room.Membership) bool {
	if !r.State.AwaitingQuorum() || !hasEntry {
		return false
	}
	active := 0
	for _, m := range members {
		if !m.Active {
			continue
		}
		if !m.Ready {
			return false
		}
		active++
	}
	return active > 0
}

// OnReport evaluates the room after a member's ready flag changed. members
// must already reflect the report.
func (c *Coordinator) OnReport(snap playback.Snapshot, members []room.Membership, report Report, nowMs int64) (Decision, error) {
	if ShouldEnterMidroll(snap.Room, report.Role, report.WasReady, report.Ready) {
		out, err := c.machine.Midroll(snap, nowMs)
		if err != nil {
			return Decision{}, err
		}
		if out.Changed {
			return Decision{Action: ActionMidroll, Outcome: out, Trigger: playback.TriggerMidroll}, nil
		}
		return Decision{Action: ActionNone}, nil
	}
	return c.Evaluate(snap, members, playback.TriggerQuorum, nowMs)
}

// Evaluate releases the room if the quorum is complete. It is also used after
// membership changes, where a departure can complete the quorum.
func (c *Coordinator) Evaluate(snap playback.Snapshot, members []room.Membership, trigger playback.Trigger, nowMs int64) (Decision, error) {
	_, hasEntry := snap.Current()
	if !QuorumReached(snap.Room, hasEntry, members) {
		return Decision{Action: ActionNone}, nil
	}

	out, err := c.machine.Release(snap, nowMs)
	if err != nil {
		return Decision{}, err
	}
	if !out.Changed {
		return Decision{Action: ActionNone}, nil
	}
	return Decision{Action: ActionRelease, Outcome: out, Trigger: trigger}, nil
}

// ResetAll clears the ready flag of every active member, as done on each
// entry into starting or midroll.
func ResetAll(members []room.Membership) []room.Membership {
	result := make([]room.Membership, len(members))
	copy(result, members)
	for i := range result {
		if result[i].Active {
			result[i].Ready = false
		}
	}
	return result
}
