package session

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/roomsync/internal/app/filter"
	"github.com/osa030/roomsync/internal/app/playback"
	"github.com/osa030/roomsync/internal/app/readiness"
	"github.com/osa030/roomsync/internal/domain/room"
	"github.com/osa030/roomsync/internal/infra/store"
)

// Op is a playback control operation.
type Op string

const (
	OpPlay         Op = "play"
	OpPause        Op = "pause"
	OpSeek         Op = "seek"
	OpRestart      Op = "restart"
	OpSkip         Op = "skip"
	OpContinueNext Op = "continue_next"
	OpProbe        Op = "probe"
)

// Valid reports whether op is a known operation.
func (op Op) Valid() bool {
	switch op {
	case OpPlay, OpPause, OpSeek, OpRestart, OpSkip, OpContinueNext, OpProbe:
		return true
	default:
		return false
	}
}

func (op Op) action() filter.Action {
	switch op {
	case OpContinueNext:
		return filter.ActionContinueNext
	case OpProbe:
		return filter.ActionProbe
	default:
		return filter.ActionControl
	}
}

// ControlRequest is a control operation. Seek is used by OpSeek only.
type ControlRequest struct {
	Op   Op
	Seek playback.SeekRequest
}

// ControlResult reports the room after a control operation.
type ControlResult struct {
	State      room.State
	Changed    bool
	Completed  bool // probe found the entry at its end
	PositionMs int64
}

func (m *Manager) run(req ControlRequest, snap playback.Snapshot, nowMs int64) (playback.Outcome, error) {
	switch req.Op {
	case OpPlay:
		return m.machine.Play(snap, nowMs)
	case OpPause:
		return m.machine.Pause(snap, nowMs)
	case OpSeek:
		return m.machine.Seek(snap, nowMs, req.Seek)
	case OpRestart:
		return m.machine.Restart(snap, nowMs)
	case OpSkip:
		return m.machine.Skip(snap, nowMs)
	case OpContinueNext:
		return m.machine.ContinueNext(snap, nowMs)
	case OpProbe:
		return m.machine.Probe(snap, nowMs)
	default:
		return playback.Outcome{}, reject(CodeInvalidRequest, errors.Newf("unknown control operation: %s", req.Op))
	}
}

// Control applies a playback control operation on behalf of userID.
func (m *Manager) Control(ctx context.Context, userID, roomID string, req ControlRequest) (*ControlResult, error) {
	if !req.Op.Valid() {
		return nil, reject(CodeInvalidRequest, errors.Newf("unknown control operation: %s", req.Op))
	}

	var (
		ch     *change
		result ControlResult
	)
	err := m.inTx(ctx, func(tx *store.Tx) error {
		ch = nil
		rt, err := m.load(ctx, tx, roomID, userID, req.Op.action())
		if err != nil {
			return err
		}

		nowMs := m.nowMs()
		out, err := m.run(req, rt.snap, nowMs)
		if err != nil {
			return err
		}

		trigger := playback.TriggerUser
		if out.Completed {
			trigger = playback.TriggerCompletion
		}
		ch, err = m.commit(tx, rt, out, trigger, userID)
		if err != nil {
			return err
		}

		result = ControlResult{
			State:      out.Room.State,
			Changed:    out.Changed,
			Completed:  out.Completed,
			PositionMs: out.PositionMs,
		}
		if !out.Changed {
			result.State = rt.snap.Room.State
		}
		return nil
	})
	if err != nil {
		zlog.Debug().Msgf("control rejected: room_id=%s user_id=%s op=%s error=%v", roomID, userID, req.Op, err)
		return nil, err
	}

	m.publish(ctx, ch)
	return &result, nil
}

// ReportReadiness records a member's ready flag and releases the room when
// the quorum completes. A ready member dropping out may start a midroll.
func (m *Manager) ReportReadiness(ctx context.Context, userID, roomID string, ready bool) error {
	var (
		ch      *change
		flipped bool
	)
	err := m.inTx(ctx, func(tx *store.Tx) error {
		ch, flipped = nil, false
		rt, err := m.load(ctx, tx, roomID, userID, filter.ActionReadiness)
		if err != nil {
			return err
		}

		nowMs := m.nowMs()
		wasReady := rt.self.Ready
		rt.self.Ready = ready
		rt.self.LastSeenMs = nowMs
		if err := tx.SaveMembership(rt.self); err != nil {
			return err
		}
		flipped = wasReady != ready

		dec, err := m.readiness.OnReport(rt.snap, rt.members, readiness.Report{
			UserID:   userID,
			Role:     rt.self.Role,
			WasReady: wasReady,
			Ready:    ready,
		}, nowMs)
		if err != nil {
			return err
		}
		if dec.Action == readiness.ActionNone {
			return nil
		}

		ch, err = m.commit(tx, rt, dec.Outcome, dec.Trigger, userID)
		return err
	})
	if err != nil {
		return err
	}

	if flipped {
		m.broadcast(ctx, roomID, MsgReadinessUpdate, ReadinessUpdate{UserID: userID, Ready: ready})
	}
	m.publish(ctx, ch)
	return nil
}

// onTimerFired releases a room still waiting for quorum when its fallback
// timer expires.
func (m *Manager) onTimerFired(ctx context.Context, roomID string) {
	var ch *change
	err := m.inTx(ctx, func(tx *store.Tx) error {
		ch = nil
		rt, err := m.load(ctx, tx, roomID, "", "")
		if err != nil {
			return err
		}
		if !rt.snap.Room.State.AwaitingQuorum() {
			return nil
		}

		out, err := m.machine.Release(rt.snap, m.nowMs())
		if err != nil {
			return err
		}
		ch, err = m.commit(tx, rt, out, playback.TriggerTimer, "")
		return err
	})
	if err != nil {
		if errors.Is(err, playback.ErrNoEntry) {
			zlog.Debug().Msgf("fallback timer found no entry: room_id=%s", roomID)
			return
		}
		zlog.Error().Msgf("fallback timer transition failed: room_id=%s error=%v", roomID, err)
		return
	}
	if ch == nil {
		zlog.Debug().Msgf("fallback timer found room no longer waiting: room_id=%s", roomID)
		return
	}
	m.publish(ctx, ch)
}
