// Package playback implements the room playback state machine.
//
// Every transition is a pure function of a persisted Snapshot, the input and
// the current wall clock in milliseconds. Callers load the snapshot, apply a
// transition and commit the returned Outcome.
package playback

// Trigger tells clients what caused a playback update.
type Trigger string

const (
	TriggerUser       Trigger = "user"       // Explicit control message
	TriggerQuorum     Trigger = "quorum"     // Every active member reported ready
	TriggerTimer      Trigger = "timer"      // Fallback timer forced the transition
	TriggerCompletion Trigger = "completion" // Probe found the entry at its end
	TriggerMidroll    Trigger = "midroll"    // Ad interstitial detected
	TriggerPresence   Trigger = "presence"   // Membership change released the quorum
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}

// TimerAction tells the caller what to do with the room's fallback timer.
type TimerAction int

const (
	TimerKeep   TimerAction = iota // Leave any pending timer alone
	TimerArm                       // Entered a quorum wait, schedule the fallback
	TimerDisarm                    // Left the quorum wait, cancel the fallback
)

// String returns the string representation of the timer action.
func (a TimerAction) String() string {
	switch a {
	case TimerKeep:
		return "keep"
	case TimerArm:
		return "arm"
	case TimerDisarm:
		return "disarm"
	default:
		return "unknown"
	}
}
