package session

import (
	"github.com/osa030/roomsync/internal/app/playback"
	"github.com/osa030/roomsync/internal/domain/room"
)

// Outbound message types.
const (
	MsgPlaybackUpdate        = "playback.update"
	MsgItemMoved             = "queue.item_moved"
	MsgItemAdded             = "queue.item_added"
	MsgPresenceUpdate        = "presence.update"
	MsgReadinessUpdate       = "readiness.update"
	MsgVerifyConnection      = "presence.verify_connection"
	MsgContinuationAvailable = "playback.continuation_available"
	MsgRoomSnapshot          = "room.snapshot"
	MsgError                 = "error"
)

// EntryPayload describes a queue entry.
type EntryPayload struct {
	ID             string           `json:"id"`
	MediaID        string           `json:"media_id"`
	Title          string           `json:"title"`
	Position       int              `json:"position"`
	Status         room.EntryStatus `json:"status"`
	DurationMs     int64            `json:"duration_ms"`
	ProgressMs     int64            `json:"progress_ms"`
	PlayingSinceMs *int64           `json:"playing_since_ms"`
	WatchCount     int              `json:"watch_count"`
}

func entryPayload(e *room.QueueEntry) *EntryPayload {
	if e == nil {
		return nil
	}
	return &EntryPayload{
		ID:             e.ID,
		MediaID:        e.MediaID,
		Title:          e.Title,
		Position:       e.Position,
		Status:         e.Status,
		DurationMs:     e.DurationMs,
		ProgressMs:     e.ProgressMs,
		PlayingSinceMs: e.PlayingSinceMs,
		WatchCount:     e.WatchCount,
	}
}

// PlaybackUpdate is broadcast after every committed transition.
type PlaybackUpdate struct {
	State          room.State    `json:"state"`
	PlayingSinceMs *int64        `json:"playing_since_ms"`
	ProgressMs     int64         `json:"progress_ms"`
	CurrentEntry   *EntryPayload `json:"current_entry"`
	ActorID        string        `json:"actor_id,omitempty"`
	Trigger        string        `json:"trigger"`
}

// ItemMoved is broadcast when an entry is rotated or retired.
type ItemMoved struct {
	ID       string           `json:"id"`
	Position int              `json:"position"`
	Status   room.EntryStatus `json:"status"`
}

// MemberPayload describes a membership.
type MemberPayload struct {
	UserID string    `json:"user_id"`
	Role   room.Role `json:"role"`
	Ready  bool      `json:"ready"`
}

// PresenceUpdate lists the room's active members and their ready flags.
type PresenceUpdate struct {
	Members []MemberPayload `json:"members"`
}

// ReadinessUpdate is broadcast when a member's ready flag changes.
type ReadinessUpdate struct {
	UserID string `json:"user_id"`
	Ready  bool   `json:"ready"`
}

// VerifyConnection asks a user's live connections to answer for a dropped one.
type VerifyConnection struct {
	DisconnectedID string `json:"disconnected_id"`
}

// ContinuationAvailable signals that an entry ended and a privileged member
// may continue with the next one.
type ContinuationAvailable struct {
	RetiredID string `json:"retired_id"`
}

// ErrorPayload is sent to the caller only.
type ErrorPayload struct {
	Trigger string `json:"trigger"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RoomView is the full state of a room as seen by a member.
type RoomView struct {
	ID               string           `json:"id"`
	Code             string           `json:"code"`
	OwnerID          string           `json:"owner_id"`
	State            room.State       `json:"state"`
	ControlMode      room.ControlMode `json:"control_mode"`
	AdSyncMode       room.AdSyncMode  `json:"ad_sync_mode"`
	AutoadvanceOnEnd bool             `json:"autoadvance_on_end"`
	CurrentEntryID   string           `json:"current_entry_id,omitempty"`
	PositionMs       int64            `json:"position_ms"`
	ServerTimeMs     int64            `json:"server_time_ms"`
	Queue            []EntryPayload   `json:"queue"`
	Members          []MemberPayload  `json:"members"`
}

func buildView(snap playback.Snapshot, members []room.Membership, nowMs int64) *RoomView {
	r := snap.Room
	view := &RoomView{
		ID:               r.ID,
		Code:             r.Code,
		OwnerID:          r.OwnerID,
		State:            r.State,
		ControlMode:      r.ControlMode,
		AdSyncMode:       r.AdSyncMode,
		AutoadvanceOnEnd: r.AutoadvanceOnEnd,
		CurrentEntryID:   r.CurrentEntryID,
		ServerTimeMs:     nowMs,
		Queue:            make([]EntryPayload, 0, len(snap.Entries)),
		Members:          memberPayloads(members),
	}
	if cur, ok := snap.Current(); ok {
		view.PositionMs = cur.EffectivePosition(nowMs)
	}
	for i := range snap.Entries {
		view.Queue = append(view.Queue, *entryPayload(&snap.Entries[i]))
	}
	return view
}

func memberPayloads(members []room.Membership) []MemberPayload {
	result := make([]MemberPayload, 0, len(members))
	for _, m := range room.ActiveMembers(members) {
		result = append(result, MemberPayload{UserID: m.UserID, Role: m.Role, Ready: m.Ready})
	}
	return result
}
