package playback

import "github.com/osa030/roomsync/internal/domain/room"

// ItemMoved describes a queue entry whose position or status changed.
type ItemMoved struct {
	ID       string
	Position int
	Status   room.EntryStatus
}

// Outcome is the result of a transition. Nothing is persisted until the
// caller commits Room and Entries.
type Outcome struct {
	Room    room.Room
	Entries []room.QueueEntry // rows that changed, in the order they were touched
	Moved   []ItemMoved

	Changed        bool
	ResetReadiness bool        // bulk-reset ready flags of active members
	Timer          TimerAction // fallback timer intent
	Completed      bool        // probe found the current entry at its end
	Continuation   bool        // entry retired without auto-advance, a next entry is waiting
	PositionMs     int64       // effective position of the current entry after the transition
}

// Current returns the entry the room points at after the transition.
func (o *Outcome) Current() (room.QueueEntry, bool) {
	if !o.Room.HasCurrent() {
		return room.QueueEntry{}, false
	}
	for _, e := range o.Entries {
		if e.ID == o.Room.CurrentEntryID {
			return e, true
		}
	}
	return room.QueueEntry{}, false
}
