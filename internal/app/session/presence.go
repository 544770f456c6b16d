package session

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/roomsync/internal/app/notification"
	"github.com/osa030/roomsync/internal/app/playback"
	"github.com/osa030/roomsync/internal/domain/room"
	"github.com/osa030/roomsync/internal/infra/store"
)

// Connect registers a new connection of userID.
func (m *Manager) Connect(ctx context.Context, userID, connID string, stream notification.Stream) {
	m.bus.Subscribe(connID, userID, stream)
	m.metrics.ConnectionOpened()
	if err := m.presence.Connect(ctx, userID, connID); err != nil {
		zlog.Warn().Msgf("failed to record connection: user_id=%s conn_id=%s error=%v", userID, connID, err)
	}
	zlog.Debug().Msgf("connection opened: user_id=%s conn_id=%s", userID, connID)
}

// Disconnect handles a closed connection. A user's last connection removes
// them from every room at once; otherwise the remaining connections are
// asked to confirm the user is still there.
func (m *Manager) Disconnect(ctx context.Context, userID, connID string) {
	m.bus.Unsubscribe(connID)
	m.metrics.ConnectionClosed()
	removed := m.presence.Disconnect(ctx, userID, connID)
	zlog.Debug().Msgf("connection closed: user_id=%s conn_id=%s removed=%t", userID, connID, removed)
}

// VerificationResponse records that one of the user's live connections
// answered the probe for disconnectedID.
func (m *Manager) VerificationResponse(ctx context.Context, userID, disconnectedID string) error {
	if disconnectedID == "" {
		return reject(CodeInvalidRequest, errors.Mark(errors.New("disconnected_id is required"), ErrInvalidRequest))
	}
	return m.presence.Verify(ctx, userID, disconnectedID)
}

// ProbeConnections sends a verification request to every connection of userID.
func (m *Manager) ProbeConnections(ctx context.Context, userID, disconnectedID string) error {
	return m.bus.ToUser(ctx, userID, "", MsgVerifyConnection, VerifyConnection{DisconnectedID: disconnectedID})
}

// Touch records activity of userID in a room and keeps the connection alive.
func (m *Manager) Touch(ctx context.Context, userID, connID, roomID string) error {
	err := m.inTx(ctx, func(tx *store.Tx) error {
		membership, err := tx.GetMembership(roomID, userID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !membership.Active) {
			return reject(CodeNotMember, errors.Newf("heartbeat from non-member %s", userID))
		}
		if err != nil {
			return err
		}
		return tx.Touch(roomID, userID, m.nowMs())
	})
	if err != nil {
		return err
	}

	if err := m.presence.Refresh(ctx, userID, connID); err != nil {
		zlog.Warn().Msgf("failed to refresh connection: user_id=%s conn_id=%s error=%v", userID, connID, err)
	}
	return nil
}

// removeUser deactivates every membership of a user whose connections are gone.
func (m *Manager) removeUser(ctx context.Context, userID string) {
	var evicted []eviction
	err := m.inTx(ctx, func(tx *store.Tx) error {
		evicted = nil
		memberships, err := tx.ListUserMemberships(userID)
		if err != nil {
			return err
		}
		evicted, err = m.evict(ctx, tx, memberships)
		return err
	})
	if err != nil {
		zlog.Error().Msgf("failed to remove user: user_id=%s error=%v", userID, err)
		return
	}

	zlog.Info().Msgf("user removed: user_id=%s rooms=%d", userID, len(evicted))
	m.publishEvictions(ctx, evicted)
}

// SweepStale evicts memberships whose last activity is older than cutoffMs.
// It runs on the heartbeat slot holder.
func (m *Manager) SweepStale(ctx context.Context, cutoffMs int64) (int, error) {
	var (
		evicted []eviction
		count   int
	)
	err := m.inTx(ctx, func(tx *store.Tx) error {
		evicted, count = nil, 0
		stale, err := tx.ListStaleMemberships(cutoffMs)
		if err != nil {
			return err
		}
		count = len(stale)
		evicted, err = m.evict(ctx, tx, stale)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to sweep stale memberships")
	}

	m.metrics.StaleSwept(count)
	m.publishEvictions(ctx, evicted)
	return count, nil
}

// eviction is the post-commit work for one room that lost members.
type eviction struct {
	roomID  string
	userIDs []string
	members []room.Membership
	change  *change
}

// evict deactivates memberships, deactivates users left without any active
// membership, and re-evaluates the quorum of every affected room.
func (m *Manager) evict(ctx context.Context, tx *store.Tx, memberships []room.Membership) ([]eviction, error) {
	if len(memberships) == 0 {
		return nil, nil
	}

	var (
		roomIDs []string
		byRoom  = make(map[string][]string)
		users   = make(map[string]struct{})
	)
	for i := range memberships {
		ms := memberships[i]
		ms.Active = false
		ms.Ready = false
		if err := tx.SaveMembership(&ms); err != nil {
			return nil, err
		}
		if _, ok := byRoom[ms.RoomID]; !ok {
			roomIDs = append(roomIDs, ms.RoomID)
		}
		byRoom[ms.RoomID] = append(byRoom[ms.RoomID], ms.UserID)
		users[ms.UserID] = struct{}{}
	}

	for userID := range users {
		if err := m.deactivateIfIdle(tx, userID); err != nil {
			return nil, err
		}
	}

	nowMs := m.nowMs()
	result := make([]eviction, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		rt, err := m.load(ctx, tx, roomID, "", "")
		if err != nil {
			return nil, err
		}

		dec, err := m.readiness.Evaluate(rt.snap, rt.members, playback.TriggerPresence, nowMs)
		if err != nil {
			return nil, err
		}
		ch, err := m.commit(tx, rt, dec.Outcome, dec.Trigger, "")
		if err != nil {
			return nil, err
		}
		result = append(result, eviction{
			roomID:  roomID,
			userIDs: byRoom[roomID],
			members: rt.members,
			change:  ch,
		})
	}
	return result, nil
}

func (m *Manager) deactivateIfIdle(tx *store.Tx, userID string) error {
	n, err := tx.CountActiveMemberships(userID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	u, err := tx.GetUser(userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !u.Active {
		return nil
	}
	u.Active = false
	return tx.SaveUser(u)
}

func (m *Manager) publishEvictions(ctx context.Context, evicted []eviction) {
	for _, ev := range evicted {
		for _, userID := range ev.userIDs {
			m.bus.LeaveRoomUser(ctx, userID, ev.roomID)
			zlog.Info().Msgf("member left: room_id=%s user_id=%s", ev.roomID, userID)
		}
		m.broadcastPresence(ctx, ev.roomID, ev.members)
		m.publish(ctx, ev.change)
	}
}
