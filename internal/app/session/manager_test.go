package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/creasty/defaults"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/roomsync/internal/app/metadata"
	"github.com/osa030/roomsync/internal/app/notification"
	"github.com/osa030/roomsync/internal/app/playback"
	"github.com/osa030/roomsync/internal/domain/room"
	"github.com/osa030/roomsync/internal/infra/config"
	"github.com/osa030/roomsync/internal/infra/coord"
	"github.com/osa030/roomsync/internal/infra/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingStream struct {
	mu  sync.Mutex
	got []*notification.Envelope
}

func (s *recordingStream) Send(env *notification.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, env)
	return nil
}

func (s *recordingStream) ofType(msgType string) []*notification.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*notification.Envelope
	for _, env := range s.got {
		if env.Type == msgType {
			result = append(result, env)
		}
	}
	return result
}

type fixture struct {
	m     *Manager
	db    *store.Store
	coord *coord.MemoryStore
	bus   *notification.Manager
	clock *fakeClock
}

type fixtureOption func(*config.Config, *Deps)

func withFallbackDelay(ms int) fixtureOption {
	return func(cfg *config.Config, _ *Deps) {
		cfg.Playback.FallbackDelayMs = ms
	}
}

func setup(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := store.Open(store.Config{Driver: "sqlite", DSN: dsn, MaxOpenConns: 1, BaseDelay: time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	cfg := &config.Config{}
	require.NoError(t, defaults.Set(cfg))
	cfg.Playback.FallbackDelayMs = 10000
	cfg.Presence.GraceWindowMs = 150

	cs := coord.NewMemoryStore()
	bus := notification.NewManager(cs, nil, time.Second)
	deps := Deps{Config: cfg, Store: db, Coord: cs, Bus: bus}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	m, err := NewManager(deps)
	require.NoError(t, err)
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	m.now = clock.Now

	t.Cleanup(func() {
		m.Close()
		bus.Close()
		_ = db.Close()
	})
	return &fixture{m: m, db: db, coord: cs, bus: bus, clock: clock}
}

func (f *fixture) createRoom(t *testing.T, owner string, opts RoomOptions) *RoomView {
	t.Helper()
	view, err := f.m.CreateRoom(context.Background(), owner, owner, opts)
	require.NoError(t, err)
	return view
}

// join connects userID on a fresh connection and joins the room.
func (f *fixture) join(t *testing.T, userID, code string) (string, *recordingStream) {
	t.Helper()
	ctx := context.Background()
	connID := uuid.NewString()
	stream := &recordingStream{}
	f.m.Connect(ctx, userID, connID, stream)
	_, err := f.m.Join(ctx, userID, userID, connID, code)
	require.NoError(t, err)
	return connID, stream
}

func (f *fixture) enqueue(t *testing.T, userID, roomID, mediaID string, durationMs int64) *EntryPayload {
	t.Helper()
	entry, err := f.m.Enqueue(context.Background(), userID, roomID, EnqueueRequest{MediaID: mediaID, Title: mediaID, DurationMs: durationMs})
	require.NoError(t, err)
	return entry
}

func (f *fixture) control(t *testing.T, userID, roomID string, op Op) *ControlResult {
	t.Helper()
	result, err := f.m.Control(context.Background(), userID, roomID, ControlRequest{Op: op})
	require.NoError(t, err)
	return result
}

func (f *fixture) snapshot(t *testing.T, userID, roomID string) *RoomView {
	t.Helper()
	view, err := f.m.Snapshot(context.Background(), userID, roomID)
	require.NoError(t, err)
	return view
}

func (f *fixture) entry(t *testing.T, id string) room.QueueEntry {
	t.Helper()
	var e *room.QueueEntry
	require.NoError(t, f.db.InTx(context.Background(), func(tx *store.Tx) error {
		var err error
		e, err = tx.GetEntry(id)
		return err
	}))
	return *e
}

func (f *fixture) membership(t *testing.T, roomID, userID string) room.Membership {
	t.Helper()
	var ms *room.Membership
	require.NoError(t, f.db.InTx(context.Background(), func(tx *store.Tx) error {
		var err error
		ms, err = tx.GetMembership(roomID, userID)
		return err
	}))
	return *ms
}

func decode[T any](t *testing.T, env *notification.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestManager_EndToEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r := f.createRoom(t, "owner", RoomOptions{AutoadvanceOnEnd: true})
	_, stream := f.join(t, "owner", r.Code)
	a := f.enqueue(t, "owner", r.ID, "A", 20000)
	b := f.enqueue(t, "owner", r.ID, "B", 15000)

	result := f.control(t, "owner", r.ID, OpPlay)
	assert.Equal(t, room.StateStarting, result.State)
	view := f.snapshot(t, "owner", r.ID)
	assert.Equal(t, a.ID, view.CurrentEntryID)
	assert.Equal(t, int64(0), view.PositionMs)
	assert.True(t, f.m.timer.Pending(r.ID))

	t0 := f.clock.Now().UnixMilli()
	require.NoError(t, f.m.ReportReadiness(ctx, "owner", r.ID, true))
	view = f.snapshot(t, "owner", r.ID)
	assert.Equal(t, room.StatePlaying, view.State)
	current := f.entry(t, a.ID)
	require.NotNil(t, current.PlayingSinceMs)
	assert.Equal(t, t0, *current.PlayingSinceMs)
	assert.False(t, f.m.timer.Pending(r.ID))

	f.clock.Advance(19000 * time.Millisecond)
	result = f.control(t, "owner", r.ID, OpProbe)
	assert.True(t, result.Completed)
	assert.Equal(t, room.StateStarting, result.State)

	retired := f.entry(t, a.ID)
	assert.Equal(t, 1, retired.WatchCount)
	assert.True(t, retired.Retired())

	view = f.snapshot(t, "owner", r.ID)
	assert.Equal(t, b.ID, view.CurrentEntryID)
	assert.Equal(t, room.StateStarting, view.State)
	for _, member := range view.Members {
		assert.False(t, member.Ready, member.UserID)
	}

	updates := stream.ofType(MsgPlaybackUpdate)
	require.NotEmpty(t, updates)
	last := decode[PlaybackUpdate](t, updates[len(updates)-1])
	assert.Equal(t, playback.TriggerCompletion.String(), last.Trigger)
	assert.Equal(t, room.StateStarting, last.State)
	require.NotNil(t, last.CurrentEntry)
	assert.Equal(t, b.ID, last.CurrentEntry.ID)

	moved := stream.ofType(MsgItemMoved)
	require.Len(t, moved, 1)
	assert.Equal(t, a.ID, decode[ItemMoved](t, moved[0]).ID)
}

func TestManager_QuorumOnLastReady(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r := f.createRoom(t, "u1", RoomOptions{})
	for _, u := range []string{"u1", "u2", "u3"} {
		f.join(t, u, r.Code)
	}
	f.enqueue(t, "u1", r.ID, "A", 60000)
	f.control(t, "u1", r.ID, OpPlay)

	require.NoError(t, f.m.ReportReadiness(ctx, "u1", r.ID, true))
	require.NoError(t, f.m.ReportReadiness(ctx, "u2", r.ID, true))
	assert.Equal(t, room.StateStarting, f.snapshot(t, "u1", r.ID).State)

	require.NoError(t, f.m.ReportReadiness(ctx, "u3", r.ID, true))
	assert.Equal(t, room.StatePlaying, f.snapshot(t, "u1", r.ID).State)
}

func TestManager_ReadinessBroadcastsFlips(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r := f.createRoom(t, "u1", RoomOptions{})
	_, stream := f.join(t, "u1", r.Code)
	f.join(t, "u2", r.Code)
	f.enqueue(t, "u1", r.ID, "A", 60000)
	f.control(t, "u1", r.ID, OpPlay)

	require.NoError(t, f.m.ReportReadiness(ctx, "u2", r.ID, true))
	require.NoError(t, f.m.ReportReadiness(ctx, "u2", r.ID, true))

	updates := stream.ofType(MsgReadinessUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, ReadinessUpdate{UserID: "u2", Ready: true}, decode[ReadinessUpdate](t, updates[0]))
}

func TestManager_FallbackTimer(t *testing.T) {
	t.Run("fires when quorum never completes", func(t *testing.T) {
		f := setup(t, withFallbackDelay(60))
		r := f.createRoom(t, "u1", RoomOptions{})
		_, stream := f.join(t, "u1", r.Code)
		f.join(t, "u2", r.Code)
		f.enqueue(t, "u1", r.ID, "A", 60000)
		f.control(t, "u1", r.ID, OpPlay)

		assert.Eventually(t, func() bool {
			return f.snapshot(t, "u1", r.ID).State == room.StatePlaying
		}, 2*time.Second, 10*time.Millisecond)

		updates := stream.ofType(MsgPlaybackUpdate)
		require.NotEmpty(t, updates)
		last := decode[PlaybackUpdate](t, updates[len(updates)-1])
		assert.Equal(t, playback.TriggerTimer.String(), last.Trigger)
	})

	t.Run("cancelled timer changes nothing", func(t *testing.T) {
		f := setup(t, withFallbackDelay(60))
		r := f.createRoom(t, "u1", RoomOptions{})
		f.join(t, "u1", r.Code)
		f.join(t, "u2", r.Code)
		f.enqueue(t, "u1", r.ID, "A", 60000)
		f.control(t, "u1", r.ID, OpPlay)
		f.control(t, "u1", r.ID, OpPause)

		time.Sleep(200 * time.Millisecond)
		assert.Equal(t, room.StatePaused, f.snapshot(t, "u1", r.ID).State)
		assert.False(t, f.m.timer.Pending(r.ID))
	})
}

func TestManager_Midroll(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r := f.createRoom(t, "u1", RoomOptions{AdSyncMode: room.AdSyncPauseAll})
	f.join(t, "u1", r.Code)
	f.join(t, "u2", r.Code)
	a := f.enqueue(t, "u1", r.ID, "A", 60000)
	f.control(t, "u1", r.ID, OpPlay)
	require.NoError(t, f.m.ReportReadiness(ctx, "u1", r.ID, true))
	require.NoError(t, f.m.ReportReadiness(ctx, "u2", r.ID, true))
	require.Equal(t, room.StatePlaying, f.snapshot(t, "u1", r.ID).State)

	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.m.ReportReadiness(ctx, "u2", r.ID, false))

	view := f.snapshot(t, "u1", r.ID)
	assert.Equal(t, room.StateMidroll, view.State)
	assert.Equal(t, int64(5000), view.PositionMs)
	assert.False(t, f.membership(t, r.ID, "u1").Ready)
	assert.Nil(t, f.entry(t, a.ID).PlayingSinceMs)
	assert.True(t, f.m.timer.Pending(r.ID))

	f.clock.Advance(5 * time.Second)
	assert.Equal(t, int64(5000), f.snapshot(t, "u1", r.ID).PositionMs)
}

func TestManager_ControlPermissions(t *testing.T) {
	tests := []struct {
		name     string
		mode     room.ControlMode
		user     string
		op       Op
		wantCode string
	}{
		{name: "non-member", mode: room.ControlEveryone, user: "stranger", op: OpPlay, wantCode: CodeNotMember},
		{name: "participant in operators room", mode: room.ControlOperators, user: "guest", op: OpPlay, wantCode: CodeForbidden},
		{name: "participant continue", mode: room.ControlEveryone, user: "guest", op: OpContinueNext, wantCode: CodeForbidden},
		{name: "participant probe", mode: room.ControlOperators, user: "guest", op: OpProbe, wantCode: CodeNoEntry},
		{name: "owner with empty queue", mode: room.ControlOwnerOnly, user: "owner", op: OpPlay, wantCode: CodeQueueEmpty},
		{name: "pause with nothing selected", mode: room.ControlEveryone, user: "guest", op: OpPause, wantCode: CodeNoEntry},
		{name: "unknown op", mode: room.ControlEveryone, user: "owner", op: Op("rewind"), wantCode: CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			r := f.createRoom(t, "owner", RoomOptions{ControlMode: tt.mode})
			f.join(t, "owner", r.Code)
			f.join(t, "guest", r.Code)

			_, err := f.m.Control(context.Background(), tt.user, r.ID, ControlRequest{Op: tt.op})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, Code(err))
			assert.Equal(t, room.StateIdle, f.snapshot(t, "owner", r.ID).State)
		})
	}
}

func TestManager_SeekAndRestart(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r := f.createRoom(t, "u1", RoomOptions{})
	f.join(t, "u1", r.Code)
	a := f.enqueue(t, "u1", r.ID, "A", 30000)
	f.control(t, "u1", r.ID, OpPlay)
	require.NoError(t, f.m.ReportReadiness(ctx, "u1", r.ID, true))

	f.clock.Advance(4 * time.Second)
	delta := int64(-1000)
	_, err := f.m.Control(ctx, "u1", r.ID, ControlRequest{Op: OpSeek, Seek: playback.SeekRequest{DeltaMs: &delta}})
	require.NoError(t, err)
	view := f.snapshot(t, "u1", r.ID)
	assert.Equal(t, room.StatePaused, view.State)
	assert.Equal(t, int64(3000), view.PositionMs)

	_, err = f.m.Control(ctx, "u1", r.ID, ControlRequest{Op: OpSeek})
	assert.Equal(t, CodeInvalidSeek, Code(err))

	f.control(t, "u1", r.ID, OpRestart)
	assert.Equal(t, int64(0), f.entry(t, a.ID).ProgressMs)
	assert.Equal(t, room.StatePlaying, f.snapshot(t, "u1", r.ID).State)
}

func TestManager_ContinuationWithoutAutoadvance(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r := f.createRoom(t, "owner", RoomOptions{})
	_, stream := f.join(t, "owner", r.Code)
	f.join(t, "guest", r.Code)
	f.enqueue(t, "owner", r.ID, "A", 10000)
	b := f.enqueue(t, "owner", r.ID, "B", 10000)
	f.control(t, "owner", r.ID, OpPlay)
	require.NoError(t, f.m.ReportReadiness(ctx, "owner", r.ID, true))
	require.NoError(t, f.m.ReportReadiness(ctx, "guest", r.ID, true))

	f.clock.Advance(10 * time.Second)
	result := f.control(t, "guest", r.ID, OpProbe)
	assert.True(t, result.Completed)
	assert.Equal(t, room.StateIdle, result.State)
	assert.Len(t, stream.ofType(MsgContinuationAvailable), 1)

	_, err := f.m.Control(ctx, "guest", r.ID, ControlRequest{Op: OpContinueNext})
	assert.Equal(t, CodeForbidden, Code(err))

	f.control(t, "owner", r.ID, OpContinueNext)
	view := f.snapshot(t, "owner", r.ID)
	assert.Equal(t, b.ID, view.CurrentEntryID)
	assert.Equal(t, room.StateStarting, view.State)
}

func TestManager_LeaveCompletesQuorum(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r := f.createRoom(t, "u1", RoomOptions{})
	_, stream := f.join(t, "u1", r.Code)
	f.join(t, "u2", r.Code)
	f.enqueue(t, "u1", r.ID, "A", 60000)
	f.control(t, "u1", r.ID, OpPlay)
	require.NoError(t, f.m.ReportReadiness(ctx, "u1", r.ID, true))

	require.NoError(t, f.m.Leave(ctx, "u2", r.ID))

	view := f.snapshot(t, "u1", r.ID)
	assert.Equal(t, room.StatePlaying, view.State)
	require.Len(t, view.Members, 1)
	assert.Equal(t, "u1", view.Members[0].UserID)

	updates := stream.ofType(MsgPlaybackUpdate)
	last := decode[PlaybackUpdate](t, updates[len(updates)-1])
	assert.Equal(t, playback.TriggerPresence.String(), last.Trigger)

	_, err := f.m.Snapshot(ctx, "u2", r.ID)
	assert.Equal(t, CodeNotMember, Code(err))
}

func TestManager_DisconnectOnlyConnection(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r := f.createRoom(t, "u1", RoomOptions{})
	f.join(t, "u1", r.Code)
	connID, _ := f.join(t, "u2", r.Code)

	f.m.Disconnect(ctx, "u2", connID)

	assert.False(t, f.membership(t, r.ID, "u2").Active)
	var u *room.User
	require.NoError(t, f.db.InTx(ctx, func(tx *store.Tx) error {
		var err error
		u, err = tx.GetUser("u2")
		return err
	}))
	assert.False(t, u.Active)
}

func TestManager_DisconnectVerification(t *testing.T) {
	t.Run("answered probe keeps the member", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		r := f.createRoom(t, "u1", RoomOptions{})
		c1, _ := f.join(t, "u1", r.Code)
		_, s2 := f.join(t, "u1", r.Code)

		f.m.Disconnect(ctx, "u1", c1)

		probes := s2.ofType(MsgVerifyConnection)
		require.Len(t, probes, 1)
		probe := decode[VerifyConnection](t, probes[0])
		assert.Equal(t, c1, probe.DisconnectedID)
		require.NoError(t, f.m.VerificationResponse(ctx, "u1", probe.DisconnectedID))

		time.Sleep(400 * time.Millisecond)
		assert.True(t, f.membership(t, r.ID, "u1").Active)
	})

	t.Run("unanswered probe removes after grace window", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		r := f.createRoom(t, "u1", RoomOptions{})
		c1, _ := f.join(t, "u1", r.Code)
		f.join(t, "u1", r.Code)

		f.m.Disconnect(ctx, "u1", c1)
		assert.True(t, f.membership(t, r.ID, "u1").Active)

		assert.Eventually(t, func() bool {
			return !f.membership(t, r.ID, "u1").Active
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestManager_SweepStale(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r := f.createRoom(t, "u1", RoomOptions{})
	f.join(t, "u1", r.Code)
	f.join(t, "u2", r.Code)
	f.enqueue(t, "u1", r.ID, "A", 60000)
	f.control(t, "u1", r.ID, OpPlay)

	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.m.Touch(ctx, "u1", "c1", r.ID))
	require.NoError(t, f.m.ReportReadiness(ctx, "u1", r.ID, true))

	cutoff := f.clock.Now().Add(-time.Minute).UnixMilli()
	n, err := f.m.SweepStale(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.False(t, f.membership(t, r.ID, "u2").Active)
	assert.Equal(t, room.StatePlaying, f.snapshot(t, "u1", r.ID).State)

	n, err = f.m.SweepStale(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestManager_Touch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.createRoom(t, "u1", RoomOptions{})
	f.join(t, "u1", r.Code)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.m.Touch(ctx, "u1", "c1", r.ID))
	assert.Equal(t, f.clock.Now().UnixMilli(), f.membership(t, r.ID, "u1").LastSeenMs)

	err := f.m.Touch(ctx, "stranger", "c2", r.ID)
	assert.Equal(t, CodeNotMember, Code(err))
}

type fakeProvider struct {
	info *metadata.Info
}

func (p *fakeProvider) Lookup(ctx context.Context, ref metadata.Ref) (*metadata.Info, error) {
	if p.info == nil {
		return nil, metadata.ErrUnsupported
	}
	return p.info, nil
}

func (p *fakeProvider) Name() string {
	return "fake"
}

func withMetadata(info *metadata.Info) fixtureOption {
	return func(_ *config.Config, deps *Deps) {
		deps.Metadata = metadata.NewProviderChain([]metadata.ProviderWithMetadata{
			{Provider: &fakeProvider{info: info}, DisplayName: "Fake"},
		}, time.Second)
	}
}

func TestManager_Enqueue(t *testing.T) {
	tests := []struct {
		name       string
		opts       []fixtureOption
		req        EnqueueRequest
		wantCode   string
		wantTitle  string
		wantLength int64
	}{
		{
			name:       "explicit duration",
			req:        EnqueueRequest{MediaID: "m1", Title: "Song", DurationMs: 1000},
			wantTitle:  "Song",
			wantLength: 1000,
		},
		{
			name:       "duration from metadata",
			opts:       []fixtureOption{withMetadata(&metadata.Info{Title: "Resolved", DurationMs: 180000})},
			req:        EnqueueRequest{MediaID: "spotify:track:x"},
			wantTitle:  "Resolved",
			wantLength: 180000,
		},
		{
			name:     "no providers",
			req:      EnqueueRequest{MediaID: "m1"},
			wantCode: CodeDurationRequired,
		},
		{
			name:     "unknown media",
			opts:     []fixtureOption{withMetadata(nil)},
			req:      EnqueueRequest{MediaID: "m1"},
			wantCode: CodeMetadataNotFound,
		},
		{
			name:     "missing media id",
			req:      EnqueueRequest{DurationMs: 1000},
			wantCode: CodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, tt.opts...)
			r := f.createRoom(t, "u1", RoomOptions{})
			_, stream := f.join(t, "u1", r.Code)

			entry, err := f.m.Enqueue(context.Background(), "u1", r.ID, tt.req)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, Code(err))
				assert.Empty(t, stream.ofType(MsgItemAdded))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, entry.Title)
			assert.Equal(t, tt.wantLength, entry.DurationMs)
			assert.Equal(t, room.EntryQueued, entry.Status)
			assert.Len(t, stream.ofType(MsgItemAdded), 1)
		})
	}
}

func TestManager_JoinUnknownRoom(t *testing.T) {
	f := setup(t)
	_, err := f.m.Join(context.Background(), "u1", "u1", "c1", "NOPE00")
	assert.Equal(t, CodeNotFound, Code(err))
}

func TestManager_CreateRoomValidation(t *testing.T) {
	f := setup(t)
	_, err := f.m.CreateRoom(context.Background(), "u1", "u1", RoomOptions{ControlMode: "anarchy"})
	assert.Equal(t, CodeInvalidRequest, Code(err))

	view := f.createRoom(t, "u1", RoomOptions{})
	assert.Len(t, view.Code, roomCodeLength)
	assert.Equal(t, room.ControlEveryone, view.ControlMode)
	assert.Equal(t, room.AdSyncOff, view.AdSyncMode)
	assert.Empty(t, view.Members)
}

func TestManager_Message(t *testing.T) {
	f := setup(t)
	code, msg := f.m.Message(reject(CodeForbidden, assert.AnError))
	assert.Equal(t, CodeForbidden, code)
	assert.Equal(t, f.m.config.Messages.Forbidden, msg)

	code, msg = f.m.Message(assert.AnError)
	assert.Equal(t, CodeInternal, code)
	assert.Equal(t, f.m.config.Messages.DefaultError, msg)
}
