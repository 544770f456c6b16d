// Package ws serves the room protocol over WebSocket: clients send JSON
// envelopes, the session manager handles them, and broadcasts come back
// through the notification bus.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/roomsync/internal/app/notification"
	"github.com/osa030/roomsync/internal/app/playback"
	"github.com/osa030/roomsync/internal/app/session"
	"github.com/osa030/roomsync/internal/infra/metrics"
)

// Inbound message types.
const (
	MsgControlPlay          = "control.play"
	MsgControlPause         = "control.pause"
	MsgControlSeek          = "control.seek"
	MsgControlRestart       = "control.restart"
	MsgControlSkip          = "control.skip"
	MsgControlContinueNext  = "control.continue_next"
	MsgControlProbe         = "control.probe"
	MsgReadinessReport      = "readiness.report"
	MsgPresenceJoin         = "presence.join"
	MsgPresenceLeave        = "presence.leave"
	MsgPresenceHeartbeat    = "presence.heartbeat"
	MsgVerificationResponse = "presence.verification_response"
	MsgQueueAdd             = "queue.add"
	MsgRoomSnapshot         = "room.snapshot"

	// MsgProbeResult answers control.probe to the caller.
	MsgProbeResult = "control.probe_result"
)

var controlOps = map[string]session.Op{
	MsgControlPlay:         session.OpPlay,
	MsgControlPause:        session.OpPause,
	MsgControlSeek:         session.OpSeek,
	MsgControlRestart:      session.OpRestart,
	MsgControlSkip:         session.OpSkip,
	MsgControlContinueNext: session.OpContinueNext,
	MsgControlProbe:        session.OpProbe,
}

// Inbound is a client message.
type Inbound struct {
	Type   string          `json:"type"`
	RoomID string          `json:"room_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type seekData struct {
	ProgressMs *int64 `json:"progress_ms"`
	DeltaMs    *int64 `json:"delta_ms"`
	Play       bool   `json:"play"`
}

type readyData struct {
	Ready bool `json:"ready"`
}

type joinData struct {
	Code string `json:"code"`
}

type verificationData struct {
	DisconnectedID string `json:"disconnected_id"`
}

type enqueueData struct {
	MediaID    string `json:"media_id"`
	Title      string `json:"title"`
	DurationMs int64  `json:"duration_ms"`
}

// ProbeResult is the caller-only answer to control.probe.
type ProbeResult struct {
	State      string `json:"state"`
	Completed  bool   `json:"completed"`
	PositionMs int64  `json:"position_ms"`
}

// Handler upgrades HTTP requests to room connections.
type Handler struct {
	session  *session.Manager
	bus      *notification.Manager
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	timeout  time.Duration
}

// NewHandler creates a WebSocket handler. allowedOrigins empty accepts any origin.
func NewHandler(mgr *session.Manager, bus *notification.Manager, m *metrics.Metrics, allowedOrigins []string, timeout time.Duration) *Handler {
	h := &Handler{
		session: mgr,
		bus:     bus,
		metrics: m,
		timeout: timeout,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Serve handles GET /ws. RequireAuth must run first.
func (h *Handler) Serve(c *gin.Context) {
	userID := c.GetString(ctxUserID)
	userName := c.GetString(ctxUserName)

	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Warn().Msgf("websocket upgrade failed: user_id=%s error=%v", userID, err)
		return
	}

	conn := newConn(uuid.New().String(), userID, userName, wsConn)
	ctx := context.Background()
	h.session.Connect(ctx, userID, conn.id, conn)
	zlog.Info().Msgf("client connected: user_id=%s conn_id=%s remote=%s", userID, conn.id, c.ClientIP())

	go conn.writePump()
	conn.readPump(func(data []byte) {
		h.dispatch(ctx, conn, data)
	})

	h.session.Disconnect(ctx, userID, conn.id)
	zlog.Info().Msgf("client disconnected: user_id=%s conn_id=%s", userID, conn.id)
}

// dispatch handles one client message. Failures and panics become an error
// reply to this connection only.
func (h *Handler) dispatch(parent context.Context, c *Conn, data []byte) {
	var msg Inbound
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("handler panic: conn_id=%s type=%s panic=%v", c.id, msg.Type, r)
			h.replyError(parent, c, msg, errors.Newf("panic: %v", r))
		}
	}()

	if err := json.Unmarshal(data, &msg); err != nil {
		h.replyError(parent, c, msg, errors.Mark(errors.Wrap(err, "malformed message"), session.ErrInvalidRequest))
		return
	}

	ctx, cancel := context.WithTimeout(parent, h.timeout)
	defer cancel()

	if err := h.handle(ctx, c, msg); err != nil {
		h.replyError(parent, c, msg, err)
	}
}

func (h *Handler) handle(ctx context.Context, c *Conn, msg Inbound) error {
	if op, ok := controlOps[msg.Type]; ok {
		return h.control(ctx, c, msg, op)
	}

	switch msg.Type {
	case MsgReadinessReport:
		var d readyData
		if err := decode(msg.Data, &d); err != nil {
			return err
		}
		return h.session.ReportReadiness(ctx, c.userID, msg.RoomID, d.Ready)

	case MsgPresenceJoin:
		var d joinData
		if err := decode(msg.Data, &d); err != nil {
			return err
		}
		view, err := h.session.Join(ctx, c.userID, c.userName, c.id, d.Code)
		if err != nil {
			return err
		}
		return h.bus.ToConn(ctx, c.id, view.ID, session.MsgRoomSnapshot, view)

	case MsgPresenceLeave:
		return h.session.Leave(ctx, c.userID, msg.RoomID)

	case MsgPresenceHeartbeat:
		return h.session.Touch(ctx, c.userID, c.id, msg.RoomID)

	case MsgVerificationResponse:
		var d verificationData
		if err := decode(msg.Data, &d); err != nil {
			return err
		}
		return h.session.VerificationResponse(ctx, c.userID, d.DisconnectedID)

	case MsgQueueAdd:
		var d enqueueData
		if err := decode(msg.Data, &d); err != nil {
			return err
		}
		_, err := h.session.Enqueue(ctx, c.userID, msg.RoomID, session.EnqueueRequest{
			MediaID:    d.MediaID,
			Title:      d.Title,
			DurationMs: d.DurationMs,
		})
		return err

	case MsgRoomSnapshot:
		view, err := h.session.Snapshot(ctx, c.userID, msg.RoomID)
		if err != nil {
			return err
		}
		return h.bus.ToConn(ctx, c.id, msg.RoomID, session.MsgRoomSnapshot, view)

	default:
		return errors.Mark(errors.Newf("unknown message type: %q", msg.Type), session.ErrInvalidRequest)
	}
}

func (h *Handler) control(ctx context.Context, c *Conn, msg Inbound, op session.Op) error {
	req := session.ControlRequest{Op: op}
	if op == session.OpSeek {
		var d seekData
		if err := decode(msg.Data, &d); err != nil {
			return err
		}
		req.Seek = playback.SeekRequest{TargetMs: d.ProgressMs, DeltaMs: d.DeltaMs, Play: d.Play}
	}

	result, err := h.session.Control(ctx, c.userID, msg.RoomID, req)
	if err != nil {
		return err
	}
	if op == session.OpProbe {
		return h.bus.ToConn(ctx, c.id, msg.RoomID, MsgProbeResult, ProbeResult{
			State:      string(result.State),
			Completed:  result.Completed,
			PositionMs: result.PositionMs,
		})
	}
	return nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Mark(errors.Wrap(err, "malformed data"), session.ErrInvalidRequest)
	}
	return nil
}

func (h *Handler) replyError(ctx context.Context, c *Conn, msg Inbound, err error) {
	code, message := h.session.Message(err)
	h.metrics.ErrorReply(code)

	if code == session.CodeInternal || code == session.CodeStoreContention {
		zlog.Error().Msgf("request failed: conn_id=%s user_id=%s type=%s code=%s error=%v", c.id, c.userID, msg.Type, code, err)
	} else {
		zlog.Debug().Msgf("request rejected: conn_id=%s user_id=%s type=%s code=%s error=%v", c.id, c.userID, msg.Type, code, err)
	}

	payload := session.ErrorPayload{Trigger: msg.Type, Code: code, Message: message}
	if sendErr := h.bus.ToConn(ctx, c.id, msg.RoomID, session.MsgError, payload); sendErr != nil {
		zlog.Warn().Msgf("failed to send error reply: conn_id=%s error=%v", c.id, sendErr)
	}
}
