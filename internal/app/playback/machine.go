package playback

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/roomsync/internal/domain/room"
	"github.com/osa030/roomsync/internal/domain/vclock"
)

// Errors
var (
	ErrNoEntry     = errors.New("no current entry")
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrInvalidSeek = errors.New("seek needs exactly one of progress_ms or delta_ms")
)

// Config holds state machine configuration.
type Config struct {
	CompletionMargin time.Duration // Distance from the end that counts as completed
}

// Machine computes room transitions. It holds no room state and is safe for
// concurrent use.
type Machine struct {
	config Config
}

// NewMachine creates a new state machine.
func NewMachine(config Config) *Machine {
	return &Machine{config: config}
}

// SeekRequest describes an absolute or relative seek.
type SeekRequest struct {
	TargetMs *int64
	DeltaMs  *int64
	Play     bool
}

// transition tracks the working copy and the rows it touched.
type transition struct {
	snap    *Snapshot
	now     int64
	out     Outcome
	touched []string
}

func begin(s Snapshot, nowMs int64) *transition {
	return &transition{snap: s.clone(), now: nowMs}
}

func (t *transition) touch(e *room.QueueEntry) {
	for _, id := range t.touched {
		if id == e.ID {
			return
		}
	}
	t.touched = append(t.touched, e.ID)
}

func (t *transition) finish(changed bool) Outcome {
	t.out.Room = t.snap.Room
	t.out.Changed = changed
	t.out.Entries = t.out.Entries[:0]
	for _, id := range t.touched {
		for _, e := range t.snap.Entries {
			if e.ID == id {
				t.out.Entries = append(t.out.Entries, e)
				break
			}
		}
	}
	if cur, ok := t.snap.Current(); ok {
		t.out.PositionMs = cur.EffectivePosition(t.now)
	}
	return t.out
}

// Play starts, confirms or resumes playback.
//
// With no current entry the queue head is selected and the room waits for
// readiness. A starting room starts playing, a paused room resumes from its
// frozen position. Any other state is returned unchanged.
func (m *Machine) Play(s Snapshot, nowMs int64) (Outcome, error) {
	t := begin(s, nowMs)

	cur, ok := t.snap.Current()
	if !ok {
		next, found := t.snap.Next("")
		if !found {
			return Outcome{}, ErrQueueEmpty
		}
		t.enterStarting(next)
		return t.finish(true), nil
	}

	switch t.snap.Room.State {
	case room.StateStarting, room.StatePaused:
		t.startPlaying(cur)
		return t.finish(true), nil
	case room.StateIdle:
		t.enterStarting(cur)
		return t.finish(true), nil
	default:
		return t.finish(false), nil
	}
}

// Release ends a quorum wait: a starting or midroll room starts playing from
// the entry's frozen position. Used by both the readiness quorum and the
// fallback timer so that they produce identical results.
func (m *Machine) Release(s Snapshot, nowMs int64) (Outcome, error) {
	t := begin(s, nowMs)

	cur, ok := t.snap.Current()
	if !ok {
		return Outcome{}, ErrNoEntry
	}
	if !t.snap.Room.State.AwaitingQuorum() {
		return t.finish(false), nil
	}
	t.startPlaying(cur)
	return t.finish(true), nil
}

// Pause freezes the effective position. Pausing a paused room is a no-op.
func (m *Machine) Pause(s Snapshot, nowMs int64) (Outcome, error) {
	t := begin(s, nowMs)

	cur, ok := t.snap.Current()
	if !ok {
		return Outcome{}, ErrNoEntry
	}
	if t.snap.Room.State == room.StatePaused && !cur.Advancing() {
		return t.finish(false), nil
	}

	cur.Freeze(nowMs)
	t.touch(cur)
	t.snap.Room.State = room.StatePaused
	t.out.Timer = TimerDisarm
	return t.finish(true), nil
}

// Seek moves the current entry to an absolute or relative position.
// Relative seeks are computed from the effective position, not the stored base.
func (m *Machine) Seek(s Snapshot, nowMs int64, req SeekRequest) (Outcome, error) {
	if (req.TargetMs == nil) == (req.DeltaMs == nil) {
		return Outcome{}, ErrInvalidSeek
	}

	t := begin(s, nowMs)

	cur, ok := t.snap.Current()
	if !ok {
		return Outcome{}, ErrNoEntry
	}

	var target int64
	if req.DeltaMs != nil {
		target = cur.EffectivePosition(nowMs) + *req.DeltaMs
	} else {
		target = *req.TargetMs
	}
	target = vclock.Clamp(target, cur.DurationMs)

	cur.ProgressMs = target
	if req.Play {
		cur.StartAt(nowMs)
		t.snap.Room.State = room.StatePlaying
	} else {
		cur.PlayingSinceMs = nil
		t.snap.Room.State = room.StatePaused
	}
	t.touch(cur)
	t.out.Timer = TimerDisarm
	return t.finish(true), nil
}

// Restart plays the current entry from the beginning.
func (m *Machine) Restart(s Snapshot, nowMs int64) (Outcome, error) {
	t := begin(s, nowMs)

	cur, ok := t.snap.Current()
	if !ok {
		return Outcome{}, ErrNoEntry
	}

	cur.ProgressMs = 0
	t.startPlaying(cur)
	return t.finish(true), nil
}

// Skip retires the current entry and selects the next one.
func (m *Machine) Skip(s Snapshot, nowMs int64) (Outcome, error) {
	t := begin(s, nowMs)

	cur, ok := t.snap.Current()
	if !ok {
		return Outcome{}, ErrNoEntry
	}
	t.advance(cur)
	return t.finish(true), nil
}

// ContinueNext is the privileged manual advance. With a current entry it
// behaves like Skip; after a completion without auto-advance it selects the
// queue head.
func (m *Machine) ContinueNext(s Snapshot, nowMs int64) (Outcome, error) {
	t := begin(s, nowMs)

	if cur, ok := t.snap.Current(); ok {
		t.advance(cur)
		return t.finish(true), nil
	}

	next, found := t.snap.Next("")
	if !found {
		return Outcome{}, ErrQueueEmpty
	}
	t.enterStarting(next)
	return t.finish(true), nil
}

// Probe checks whether the current entry reached its end and, if so,
// completes it. Automatic completion shares the advance logic with Skip.
func (m *Machine) Probe(s Snapshot, nowMs int64) (Outcome, error) {
	t := begin(s, nowMs)

	cur, ok := t.snap.Current()
	if !ok {
		return Outcome{}, ErrNoEntry
	}

	pos := cur.EffectivePosition(nowMs)
	if !vclock.NearEnd(cur.DurationMs, pos, m.config.CompletionMargin.Milliseconds()) {
		return t.finish(false), nil
	}

	t.out.Completed = true
	if t.snap.Room.AutoadvanceOnEnd {
		t.advance(cur)
		return t.finish(true), nil
	}

	t.retire(cur)
	t.snap.Room.CurrentEntryID = ""
	t.snap.Room.State = room.StateIdle
	t.out.Timer = TimerDisarm
	_, t.out.Continuation = t.snap.Next("")
	return t.finish(true), nil
}

// Midroll freezes the clock and waits for a new readiness round.
// Only a playing or starting room can enter midroll.
func (m *Machine) Midroll(s Snapshot, nowMs int64) (Outcome, error) {
	t := begin(s, nowMs)

	cur, ok := t.snap.Current()
	if !ok {
		return Outcome{}, ErrNoEntry
	}
	state := t.snap.Room.State
	if state != room.StatePlaying && state != room.StateStarting {
		return t.finish(false), nil
	}

	cur.Freeze(nowMs)
	t.touch(cur)
	t.snap.Room.State = room.StateMidroll
	t.out.ResetReadiness = true
	t.out.Timer = TimerArm
	return t.finish(true), nil
}

// IsComplete reports whether the entry is within the completion margin.
func (m *Machine) IsComplete(e room.QueueEntry, nowMs int64) bool {
	return vclock.NearEnd(e.DurationMs, e.EffectivePosition(nowMs), m.config.CompletionMargin.Milliseconds())
}

func (t *transition) enterStarting(e *room.QueueEntry) {
	e.Status = room.EntryCurrent
	e.PlayingSinceMs = nil
	t.touch(e)
	t.snap.Room.CurrentEntryID = e.ID
	t.snap.Room.State = room.StateStarting
	t.out.ResetReadiness = true
	t.out.Timer = TimerArm
}

func (t *transition) startPlaying(e *room.QueueEntry) {
	e.StartAt(t.now)
	t.touch(e)
	t.snap.Room.State = room.StatePlaying
	t.out.Timer = TimerDisarm
}

func (t *transition) advance(cur *room.QueueEntry) {
	retiredID := cur.ID
	t.retire(cur)

	if next, found := t.snap.Next(retiredID); found {
		t.enterStarting(next)
		return
	}
	t.snap.Room.CurrentEntryID = ""
	t.snap.Room.State = room.StateIdle
	t.out.Timer = TimerDisarm
}

// retire rotates the entry to the tail or soft-deletes it.
func (t *transition) retire(e *room.QueueEntry) {
	e.WatchCount++
	e.ProgressMs = 0
	e.PlayingSinceMs = nil
	if t.snap.Room.RotateOnRetire {
		e.Position = t.snap.maxPosition() + 1
		e.Status = room.EntryQueued
	} else {
		deletedAt := t.now
		e.Status = room.EntryPlayed
		e.DeletedAtMs = &deletedAt
	}
	t.touch(e)
	t.out.Moved = append(t.out.Moved, ItemMoved{ID: e.ID, Position: e.Position, Status: e.Status})
}
