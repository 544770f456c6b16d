// Package room provides the Room, Membership, User and QueueEntry domain entities.
//
// Entities reference each other by id only. A room's current entry is an id
// resolved against the entry table at read time, never a live pointer.
package room

import "time"

// State represents the room playback state.
type State string

const (
	StateIdle     State = "idle"     // Nothing selected
	StateStarting State = "starting" // Entry selected, waiting for readiness quorum
	StatePlaying  State = "playing"  // Clock advancing
	StatePaused   State = "paused"   // Clock frozen by a member
	StateMidroll  State = "midroll"  // Clock frozen for an ad interstitial, waiting for quorum
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateStarting, StatePlaying, StatePaused, StateMidroll:
		return true
	}
	return false
}

// AwaitingQuorum reports whether the state waits for every active member to be ready.
func (s State) AwaitingQuorum() bool {
	return s == StateStarting || s == StateMidroll
}

// ControlMode decides who may drive playback.
type ControlMode string

const (
	ControlOwnerOnly ControlMode = "owner_only"
	ControlOperators ControlMode = "operators"
	ControlEveryone  ControlMode = "everyone"
)

// Valid reports whether m is a known control mode.
func (m ControlMode) Valid() bool {
	switch m {
	case ControlOwnerOnly, ControlOperators, ControlEveryone:
		return true
	}
	return false
}

// AdSyncMode decides which ready→not-ready flips are read as a midroll signal.
type AdSyncMode string

const (
	AdSyncOff           AdSyncMode = "off"
	AdSyncPauseAll      AdSyncMode = "pause_all"
	AdSyncOperatorsOnly AdSyncMode = "operators_only"
	AdSyncStartingOnly  AdSyncMode = "starting_only"
)

// Valid reports whether m is a known ad-sync mode.
func (m AdSyncMode) Valid() bool {
	switch m {
	case AdSyncOff, AdSyncPauseAll, AdSyncOperatorsOnly, AdSyncStartingOnly:
		return true
	}
	return false
}

// Room is a shared playback session.
type Room struct {
	ID               string      `gorm:"primaryKey;size:64"`
	Code             string      `gorm:"uniqueIndex;size:32;not null"`
	OwnerID          string      `gorm:"size:64;not null"`
	State            State       `gorm:"size:16;not null"`
	ControlMode      ControlMode `gorm:"size:16;not null"`
	AdSyncMode       AdSyncMode  `gorm:"size:16;not null"`
	AutoadvanceOnEnd bool        `gorm:"not null"`
	RotateOnRetire   bool        `gorm:"not null"` // retired entries go to the tail instead of being soft-deleted
	CurrentEntryID   string      `gorm:"size:64"`  // empty when nothing is selected
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasCurrent reports whether the room references a current entry.
func (r *Room) HasCurrent() bool {
	return r.CurrentEntryID != ""
}
