package playback

import "github.com/osa030/roomsync/internal/domain/room"

// Snapshot is the persisted state a transition works on: the room and the
// live (not soft-deleted) entries of its queue.
type Snapshot struct {
	Room    room.Room
	Entries []room.QueueEntry
}

// Current resolves the room's current entry against the entry table.
func (s *Snapshot) Current() (*room.QueueEntry, bool) {
	if !s.Room.HasCurrent() {
		return nil, false
	}
	for i := range s.Entries {
		e := &s.Entries[i]
		if e.ID == s.Room.CurrentEntryID && !e.Retired() {
			return e, true
		}
	}
	return nil, false
}

// Next returns the queued entry with the lowest position, skipping excludeID.
func (s *Snapshot) Next(excludeID string) (*room.QueueEntry, bool) {
	var best *room.QueueEntry
	for i := range s.Entries {
		e := &s.Entries[i]
		if e.ID == excludeID || e.Retired() || e.Status != room.EntryQueued {
			continue
		}
		if best == nil || e.Position < best.Position {
			best = e
		}
	}
	return best, best != nil
}

func (s *Snapshot) maxPosition() int {
	maxPos := 0
	for _, e := range s.Entries {
		if !e.Retired() && e.Position > maxPos {
			maxPos = e.Position
		}
	}
	return maxPos
}

func (s *Snapshot) clone() *Snapshot {
	entries := make([]room.QueueEntry, len(s.Entries))
	copy(entries, s.Entries)
	for i := range entries {
		if entries[i].PlayingSinceMs != nil {
			v := *entries[i].PlayingSinceMs
			entries[i].PlayingSinceMs = &v
		}
	}
	return &Snapshot{Room: s.Room, Entries: entries}
}
