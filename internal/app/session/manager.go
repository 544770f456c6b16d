// Package session provides the room session manager. Every inbound operation
// passes the permission filters, runs the state machine inside a durable
// transaction and, after commit, arms or cancels the fallback timer and
// broadcasts the result.
package session

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/roomsync/internal/app/filter"
	"github.com/osa030/roomsync/internal/app/metadata"
	"github.com/osa030/roomsync/internal/app/notification"
	"github.com/osa030/roomsync/internal/app/playback"
	"github.com/osa030/roomsync/internal/app/presence"
	"github.com/osa030/roomsync/internal/app/readiness"
	"github.com/osa030/roomsync/internal/app/timer"
	"github.com/osa030/roomsync/internal/domain/room"
	"github.com/osa030/roomsync/internal/infra/config"
	"github.com/osa030/roomsync/internal/infra/coord"
	"github.com/osa030/roomsync/internal/infra/metrics"
	"github.com/osa030/roomsync/internal/infra/store"
)

// Deps are the collaborators of a Manager.
type Deps struct {
	Config   *config.Config
	Store    *store.Store
	Coord    coord.Store // nil disables cross-process presence and timers
	Bus      *notification.Manager
	Metadata *metadata.ProviderChain // nil requires callers to send durations
	Metrics  *metrics.Metrics
	Filters  *filter.Chain // nil selects the default filters
}

// Manager manages rooms.
type Manager struct {
	config   *config.Config
	store    *store.Store
	bus      *notification.Manager
	metadata *metadata.ProviderChain
	metrics  *metrics.Metrics
	filters  *filter.Chain

	machine   *playback.Machine
	readiness *readiness.Coordinator
	timer     *timer.FallbackTimer
	presence  *presence.Tracker

	now func() time.Time
}

// NewManager creates a new session manager.
func NewManager(deps Deps) (*Manager, error) {
	if deps.Config == nil || deps.Store == nil || deps.Bus == nil {
		return nil, errors.New("session manager needs config, store and bus")
	}

	filters := deps.Filters
	if filters == nil {
		var err error
		filters, err = filter.NewChainFromNames(filter.DefaultFilters)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create filter chain")
		}
	}

	cfg := deps.Config
	machine := playback.NewMachine(playback.Config{
		CompletionMargin: cfg.Playback.CompletionMargin(),
	})

	m := &Manager{
		config:    cfg,
		store:     deps.Store,
		bus:       deps.Bus,
		metadata:  deps.Metadata,
		metrics:   deps.Metrics,
		filters:   filters,
		machine:   machine,
		readiness: readiness.NewCoordinator(machine),
		timer: timer.New(deps.Coord, timer.Config{
			Delay:  cfg.Playback.FallbackDelay(),
			Margin: cfg.Playback.FallbackMargin(),
		}, deps.Metrics),
		now: time.Now,
	}
	m.timer.OnFire(m.onTimerFired)
	m.presence = presence.NewTracker(deps.Coord, presence.Config{
		GraceWindow:     cfg.Presence.GraceWindow(),
		VerificationTTL: cfg.Presence.VerificationTTL(),
		ConnectionTTL:   cfg.Presence.ConnectionTTL(),
	}, m, m.removeUser)

	return m, nil
}

// Close stops pending timers and presence re-checks.
func (m *Manager) Close() {
	m.timer.Close()
	m.presence.Close()
}

func (m *Manager) nowMs() int64 {
	return m.now().UnixMilli()
}

// inTx runs fn through the store's retrying transaction and records the outcome.
func (m *Manager) inTx(ctx context.Context, fn func(tx *store.Tx) error) error {
	start := time.Now()
	err := m.store.InTx(ctx, fn)

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, store.ErrContention):
		result = "contention"
	default:
		var rejected *Error
		if errors.As(err, &rejected) {
			result = "rejected"
		} else {
			result = "error"
		}
	}
	m.metrics.Transaction(result, time.Since(start))
	return err
}

// roomTx is the state loaded for one room inside a transaction.
type roomTx struct {
	snap    playback.Snapshot
	members []room.Membership
	self    *room.Membership // nil for system operations or non-members
}

// load reads the room, its queue and its members, and runs the filter chain
// for userID. An empty userID skips the filters.
func (m *Manager) load(ctx context.Context, tx *store.Tx, roomID, userID string, action filter.Action) (*roomTx, error) {
	r, err := tx.GetRoom(roomID)
	if err != nil {
		return nil, err
	}
	entries, err := tx.ListEntries(roomID)
	if err != nil {
		return nil, err
	}
	members, err := tx.ListMemberships(roomID)
	if err != nil {
		return nil, err
	}

	rt := &roomTx{
		snap:    playback.Snapshot{Room: *r, Entries: entries},
		members: members,
	}
	if userID == "" {
		return rt, nil
	}

	for i := range members {
		if members[i].UserID == userID {
			rt.self = &members[i]
			break
		}
	}
	result := m.filters.Execute(ctx, filter.Request{Action: action, UserID: userID}, r, rt.self)
	if !result.Accepted {
		return nil, reject(result.Code, errors.Newf("%s rejected for user %s", action, userID))
	}
	return rt, nil
}

// change is a committed transition waiting to be published.
type change struct {
	roomID  string
	out     playback.Outcome
	trigger playback.Trigger
	actorID string
	current *room.QueueEntry
	members []room.Membership // after commit; nil when membership did not change
}

// commit persists a transition. Unchanged outcomes write nothing.
func (m *Manager) commit(tx *store.Tx, rt *roomTx, out playback.Outcome, trigger playback.Trigger, actorID string) (*change, error) {
	if !out.Changed {
		return nil, nil
	}

	r := out.Room
	if err := tx.SaveRoom(&r); err != nil {
		return nil, err
	}
	if len(out.Entries) > 0 {
		if err := tx.SaveEntries(out.Entries); err != nil {
			return nil, err
		}
	}

	ch := &change{
		roomID:  r.ID,
		out:     out,
		trigger: trigger,
		actorID: actorID,
		current: currentEntry(out, rt.snap),
	}
	if out.ResetReadiness {
		if err := tx.ResetReady(r.ID); err != nil {
			return nil, err
		}
		rt.members = readiness.ResetAll(rt.members)
		ch.members = rt.members
	}
	return ch, nil
}

func currentEntry(out playback.Outcome, before playback.Snapshot) *room.QueueEntry {
	if !out.Room.HasCurrent() {
		return nil
	}
	if e, ok := out.Current(); ok {
		return &e
	}
	for i := range before.Entries {
		if before.Entries[i].ID == out.Room.CurrentEntryID {
			e := before.Entries[i]
			return &e
		}
	}
	return nil
}

// publish runs the post-commit side effects of a transition.
func (m *Manager) publish(ctx context.Context, ch *change) {
	if ch == nil {
		return
	}
	out := ch.out

	switch out.Timer {
	case playback.TimerArm:
		if err := m.timer.Schedule(ctx, ch.roomID); err != nil {
			if errors.Is(err, coord.ErrUnavailable) {
				zlog.Warn().Msgf("fallback timer not armed, coordination store unavailable: room_id=%s error=%v", ch.roomID, err)
			} else {
				zlog.Error().Msgf("failed to schedule fallback timer: room_id=%s error=%v", ch.roomID, err)
			}
		}
	case playback.TimerDisarm:
		if err := m.timer.Cancel(ctx, ch.roomID); err != nil {
			zlog.Warn().Msgf("failed to cancel fallback timer: room_id=%s error=%v", ch.roomID, err)
		}
	}

	m.metrics.Transition(ch.trigger.String(), string(out.Room.State))
	zlog.Info().Msgf("room transition: room_id=%s state=%s trigger=%s actor=%s current=%s",
		ch.roomID, out.Room.State, ch.trigger, ch.actorID, out.Room.CurrentEntryID)

	for _, mv := range out.Moved {
		m.broadcast(ctx, ch.roomID, MsgItemMoved, ItemMoved{ID: mv.ID, Position: mv.Position, Status: mv.Status})
	}

	update := PlaybackUpdate{
		State:        out.Room.State,
		CurrentEntry: entryPayload(ch.current),
		ActorID:      ch.actorID,
		Trigger:      ch.trigger.String(),
	}
	if ch.current != nil {
		update.PlayingSinceMs = ch.current.PlayingSinceMs
		update.ProgressMs = ch.current.ProgressMs
	}
	m.broadcast(ctx, ch.roomID, MsgPlaybackUpdate, update)

	if ch.members != nil {
		m.broadcastPresence(ctx, ch.roomID, ch.members)
	}
	if out.Continuation && len(out.Moved) > 0 {
		m.broadcast(ctx, ch.roomID, MsgContinuationAvailable, ContinuationAvailable{RetiredID: out.Moved[0].ID})
	}
}

func (m *Manager) broadcast(ctx context.Context, roomID, msgType string, data any) {
	if err := m.bus.ToRoom(ctx, roomID, msgType, data); err != nil {
		zlog.Error().Msgf("failed to broadcast: room_id=%s type=%s error=%v", roomID, msgType, err)
	}
}

func (m *Manager) broadcastPresence(ctx context.Context, roomID string, members []room.Membership) {
	m.broadcast(ctx, roomID, MsgPresenceUpdate, PresenceUpdate{Members: memberPayloads(members)})
}

// Message returns the caller-facing message for an error.
func (m *Manager) Message(err error) (code, message string) {
	code = Code(err)
	return code, m.config.GetMessage(code)
}
