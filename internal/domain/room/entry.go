package room

import "github.com/osa030/roomsync/internal/domain/vclock"

// EntryStatus is the lifecycle status of a queue entry.
type EntryStatus string

const (
	EntryQueued  EntryStatus = "queued"
	EntryCurrent EntryStatus = "current"
	EntryPlayed  EntryStatus = "played" // soft-deleted after retirement
)

// QueueEntry is one media item in a room's queue.
type QueueEntry struct {
	ID             string      `gorm:"primaryKey;size:64"`
	RoomID         string      `gorm:"size:64;not null;index:idx_entry_room_pos"`
	MediaID        string      `gorm:"size:128;not null"`
	Title          string      `gorm:"size:256"`
	Position       int         `gorm:"not null;index:idx_entry_room_pos"`
	Status         EntryStatus `gorm:"size:16;not null"`
	DurationMs     int64       `gorm:"not null"`
	ProgressMs     int64       `gorm:"not null"`
	PlayingSinceMs *int64
	WatchCount     int `gorm:"not null"`
	DeletedAtMs    *int64
}

// Retired reports whether the entry has been soft-deleted.
func (e *QueueEntry) Retired() bool {
	return e.DeletedAtMs != nil
}

// Advancing reports whether the entry's clock is running.
func (e *QueueEntry) Advancing() bool {
	return e.PlayingSinceMs != nil
}

// EffectivePosition returns the virtual clock position at nowMs.
func (e *QueueEntry) EffectivePosition(nowMs int64) int64 {
	return vclock.Position(e.ProgressMs, e.PlayingSinceMs, e.DurationMs, nowMs)
}

// Freeze folds the elapsed time into ProgressMs and stops the clock.
// Freezing an already frozen entry changes nothing.
func (e *QueueEntry) Freeze(nowMs int64) {
	e.ProgressMs = e.EffectivePosition(nowMs)
	e.PlayingSinceMs = nil
}

// StartAt sets a fresh advancing baseline at nowMs.
func (e *QueueEntry) StartAt(nowMs int64) {
	since := nowMs
	e.PlayingSinceMs = &since
}
