package session

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/roomsync/internal/app/filter"
	"github.com/osa030/roomsync/internal/app/metadata"
	"github.com/osa030/roomsync/internal/app/playback"
	"github.com/osa030/roomsync/internal/domain/room"
	"github.com/osa030/roomsync/internal/infra/store"
)

const (
	roomCodeLength   = 6
	roomCodeAttempts = 5
)

// RoomOptions configures a new room. Zero values select the defaults.
type RoomOptions struct {
	ControlMode      room.ControlMode
	AdSyncMode       room.AdSyncMode
	AutoadvanceOnEnd bool
	RotateOnRetire   bool
}

func (o *RoomOptions) normalize() error {
	if o.ControlMode == "" {
		o.ControlMode = room.ControlEveryone
	}
	if o.AdSyncMode == "" {
		o.AdSyncMode = room.AdSyncOff
	}
	if !o.ControlMode.Valid() {
		return errors.Newf("invalid control mode: %s", o.ControlMode)
	}
	if !o.AdSyncMode.Valid() {
		return errors.Newf("invalid ad sync mode: %s", o.AdSyncMode)
	}
	return nil
}

func newRoomCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:roomCodeLength])
}

// CreateRoom creates an idle room owned by ownerID. The owner becomes an
// active member on join.
func (m *Manager) CreateRoom(ctx context.Context, ownerID, ownerName string, opts RoomOptions) (*RoomView, error) {
	if ownerID == "" {
		return nil, reject(CodeInvalidRequest, errors.Mark(errors.New("owner is required"), ErrInvalidRequest))
	}
	if err := opts.normalize(); err != nil {
		return nil, reject(CodeInvalidRequest, errors.Mark(err, ErrInvalidRequest))
	}

	var view *RoomView
	err := m.inTx(ctx, func(tx *store.Tx) error {
		code, err := m.freeRoomCode(tx)
		if err != nil {
			return err
		}

		nowMs := m.nowMs()
		r := &room.Room{
			ID:               uuid.New().String(),
			Code:             code,
			OwnerID:          ownerID,
			State:            room.StateIdle,
			ControlMode:      opts.ControlMode,
			AdSyncMode:       opts.AdSyncMode,
			AutoadvanceOnEnd: opts.AutoadvanceOnEnd,
			RotateOnRetire:   opts.RotateOnRetire,
		}
		if err := tx.CreateRoom(r); err != nil {
			return err
		}
		if _, err := tx.GetUser(ownerID); errors.Is(err, store.ErrNotFound) {
			if err := tx.SaveUser(&room.User{ID: ownerID, Name: ownerName}); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		owner := room.Membership{
			RoomID:     r.ID,
			UserID:     ownerID,
			Role:       room.RoleOwner,
			LastSeenMs: nowMs,
			JoinedAt:   m.now(),
		}
		if err := tx.SaveMembership(&owner); err != nil {
			return err
		}

		view = buildView(playback.Snapshot{Room: *r}, []room.Membership{owner}, nowMs)
		return nil
	})
	if err != nil {
		return nil, err
	}

	zlog.Info().Msgf("room created: room_id=%s code=%s owner=%s control_mode=%s ad_sync_mode=%s",
		view.ID, view.Code, ownerID, view.ControlMode, view.AdSyncMode)
	return view, nil
}

func (m *Manager) freeRoomCode(tx *store.Tx) (string, error) {
	for i := 0; i < roomCodeAttempts; i++ {
		code := newRoomCode()
		_, err := tx.GetRoomByCode(code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errors.New("failed to allocate a room code")
}

// Join makes userID an active member of the room with the given code and
// subscribes connID to it. It returns the room as the member now sees it.
func (m *Manager) Join(ctx context.Context, userID, userName, connID, code string) (*RoomView, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, reject(CodeInvalidRequest, errors.Mark(errors.New("room code is required"), ErrInvalidRequest))
	}

	var view *RoomView
	err := m.inTx(ctx, func(tx *store.Tx) error {
		found, err := tx.GetRoomByCode(code)
		if err != nil {
			return err
		}
		rt, err := m.load(ctx, tx, found.ID, "", "")
		if err != nil {
			return err
		}

		nowMs := m.nowMs()
		membership, err := tx.GetMembership(found.ID, userID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			role := room.RoleParticipant
			if found.OwnerID == userID {
				role = room.RoleOwner
			}
			membership = &room.Membership{RoomID: found.ID, UserID: userID, Role: role, JoinedAt: m.now()}
		case err != nil:
			return err
		}

		rejoin := membership.Active
		membership.Active = true
		membership.LastSeenMs = nowMs
		if !rejoin {
			membership.Ready = false
		}
		if err := tx.SaveMembership(membership); err != nil {
			return err
		}
		if err := tx.SaveUser(&room.User{ID: userID, Name: userName, Active: true}); err != nil {
			return err
		}

		rt.members = upsertMember(rt.members, *membership)
		view = buildView(rt.snap, rt.members, nowMs)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if connID != "" {
		m.bus.JoinRoom(connID, view.ID)
	}
	zlog.Info().Msgf("member joined: room_id=%s user_id=%s conn_id=%s", view.ID, userID, connID)
	m.broadcast(ctx, view.ID, MsgPresenceUpdate, PresenceUpdate{Members: view.Members})
	return view, nil
}

func upsertMember(members []room.Membership, updated room.Membership) []room.Membership {
	for i := range members {
		if members[i].UserID == updated.UserID {
			members[i] = updated
			return members
		}
	}
	return append(members, updated)
}

// Leave deactivates userID's membership. A departure can complete the
// readiness quorum of the remaining members.
func (m *Manager) Leave(ctx context.Context, userID, roomID string) error {
	var evicted []eviction
	err := m.inTx(ctx, func(tx *store.Tx) error {
		evicted = nil
		rt, err := m.load(ctx, tx, roomID, userID, filter.ActionPresence)
		if err != nil {
			return err
		}
		evicted, err = m.evict(ctx, tx, []room.Membership{*rt.self})
		return err
	})
	if err != nil {
		return err
	}

	m.publishEvictions(ctx, evicted)
	return nil
}

// Snapshot returns the room as a member sees it.
func (m *Manager) Snapshot(ctx context.Context, userID, roomID string) (*RoomView, error) {
	var view *RoomView
	err := m.inTx(ctx, func(tx *store.Tx) error {
		rt, err := m.load(ctx, tx, roomID, userID, filter.ActionPresence)
		if err != nil {
			return err
		}
		view = buildView(rt.snap, rt.members, m.nowMs())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// EnqueueRequest adds media to a room's queue. Without a positive duration
// the metadata providers are asked for one.
type EnqueueRequest struct {
	MediaID    string
	Title      string
	DurationMs int64
}

// Enqueue appends an entry to the tail of the queue.
func (m *Manager) Enqueue(ctx context.Context, userID, roomID string, req EnqueueRequest) (*EntryPayload, error) {
	if strings.TrimSpace(req.MediaID) == "" {
		return nil, reject(CodeInvalidRequest, errors.Mark(errors.New("media_id is required"), ErrInvalidRequest))
	}

	if err := m.inTx(ctx, func(tx *store.Tx) error {
		_, err := m.load(ctx, tx, roomID, userID, filter.ActionEnqueue)
		return err
	}); err != nil {
		return nil, err
	}

	if req.DurationMs <= 0 {
		info, err := m.lookup(ctx, req)
		if err != nil {
			return nil, err
		}
		req.DurationMs = info.DurationMs
		if req.Title == "" {
			req.Title = info.Title
		}
	}

	var entry room.QueueEntry
	err := m.inTx(ctx, func(tx *store.Tx) error {
		rt, err := m.load(ctx, tx, roomID, userID, filter.ActionEnqueue)
		if err != nil {
			return err
		}

		position := 0
		for _, e := range rt.snap.Entries {
			if e.Position >= position {
				position = e.Position + 1
			}
		}
		entry = room.QueueEntry{
			ID:         uuid.New().String(),
			RoomID:     roomID,
			MediaID:    req.MediaID,
			Title:      req.Title,
			Position:   position,
			Status:     room.EntryQueued,
			DurationMs: req.DurationMs,
		}
		return tx.CreateEntry(&entry)
	})
	if err != nil {
		return nil, err
	}

	payload := entryPayload(&entry)
	zlog.Info().Msgf("entry enqueued: room_id=%s entry_id=%s media_id=%s position=%d duration_ms=%d user_id=%s",
		roomID, entry.ID, entry.MediaID, entry.Position, entry.DurationMs, userID)
	m.broadcast(ctx, roomID, MsgItemAdded, payload)
	return payload, nil
}

func (m *Manager) lookup(ctx context.Context, req EnqueueRequest) (*metadata.Info, error) {
	if m.metadata == nil || m.metadata.Len() == 0 {
		return nil, reject(CodeDurationRequired, ErrDurationRequired)
	}
	info, err := m.metadata.Lookup(ctx, metadata.Ref{MediaID: req.MediaID, Title: req.Title})
	if err != nil {
		return nil, reject(CodeMetadataNotFound, err)
	}
	if info.DurationMs <= 0 {
		return nil, reject(CodeDurationRequired, ErrDurationRequired)
	}
	zlog.Debug().Msgf("media resolved: media_id=%s title=%s duration_ms=%d source=%s",
		req.MediaID, info.Title, info.DurationMs, info.Source)
	return info, nil
}
