package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"github.com/osa030/roomsync/internal/api/ws"
	"github.com/osa030/roomsync/internal/app/notification"
	"github.com/osa030/roomsync/internal/app/session"
)

// client talks to one server with one connection token.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(base, token string) *client {
	return &client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var payload session.ErrorPayload
		if json.NewDecoder(resp.Body).Decode(&payload) == nil && payload.Code != "" {
			return errors.Newf("%s: %s", payload.Code, payload.Message)
		}
		return errors.Newf("unexpected status: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "failed to decode response")
}

// roomConn is an open WebSocket connection.
type roomConn struct {
	ws *websocket.Conn
}

func (c *client) dial(ctx context.Context) (*roomConn, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return nil, errors.Wrap(err, "invalid server address")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {c.token}}.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect")
	}
	return &roomConn{ws: conn}, nil
}

func (r *roomConn) Close() error {
	_ = r.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return r.ws.Close()
}

func (r *roomConn) send(msgType, roomID string, data any) error {
	msg := map[string]any{"type": msgType}
	if roomID != "" {
		msg["room_id"] = roomID
	}
	if data != nil {
		msg["data"] = data
	}
	return errors.Wrapf(r.ws.WriteJSON(msg), "failed to send %s", msgType)
}

// next reads one envelope, or returns ok=false when the deadline passes.
func (r *roomConn) next(deadline time.Time) (*notification.Envelope, bool, error) {
	if err := r.ws.SetReadDeadline(deadline); err != nil {
		return nil, false, err
	}
	var env notification.Envelope
	if err := r.ws.ReadJSON(&env); err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "connection closed")
	}
	return &env, true, nil
}

// await reads until an envelope of one of types arrives. An error envelope
// is returned as an error. ok is false when nothing arrived within wait.
func (r *roomConn) await(wait time.Duration, types ...string) (*notification.Envelope, bool, error) {
	deadline := time.Now().Add(wait)
	for {
		env, ok, err := r.next(deadline)
		if err != nil || !ok {
			return nil, ok, err
		}
		if env.Type == session.MsgError {
			var payload session.ErrorPayload
			if err := json.Unmarshal(env.Data, &payload); err != nil {
				return nil, false, errors.Wrap(err, "malformed error reply")
			}
			return nil, false, errors.Newf("%s: %s", payload.Code, payload.Message)
		}
		for _, t := range types {
			if env.Type == t {
				return env, true, nil
			}
		}
	}
}

// join enters the room with code and returns the room as seen after joining.
func (r *roomConn) join(code string, wait time.Duration) (*session.RoomView, error) {
	if err := r.send(ws.MsgPresenceJoin, "", map[string]string{"code": code}); err != nil {
		return nil, err
	}
	env, ok, err := r.await(wait, session.MsgRoomSnapshot)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("timed out waiting for the room snapshot")
	}
	var view session.RoomView
	if err := json.Unmarshal(env.Data, &view); err != nil {
		return nil, errors.Wrap(err, "malformed snapshot")
	}
	return &view, nil
}

func printView(view *session.RoomView) {
	fmt.Printf("Room %s (code %s)\n", view.ID, view.Code)
	fmt.Printf("  State: %s\n", view.State)
	fmt.Printf("  Control: %s, ad sync: %s, autoadvance: %v\n", view.ControlMode, view.AdSyncMode, view.AutoadvanceOnEnd)
	if view.CurrentEntryID != "" {
		fmt.Printf("  Current: %s at %dms\n", view.CurrentEntryID, view.PositionMs)
	}
	fmt.Printf("  Queue (%d):\n", len(view.Queue))
	for _, e := range view.Queue {
		fmt.Printf("    #%d %s %q [%s] %d/%dms\n", e.Position, e.ID, e.Title, e.Status, e.ProgressMs, e.DurationMs)
	}
	fmt.Printf("  Members (%d):\n", len(view.Members))
	for _, m := range view.Members {
		fmt.Printf("    %s (%s) ready=%v\n", m.UserID, m.Role, m.Ready)
	}
}

func printEnvelope(env *notification.Envelope) {
	fmt.Printf("[%s] %s %s\n", time.Now().Format("15:04:05.000"), env.Type, string(env.Data))
}
