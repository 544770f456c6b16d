package notification

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/roomsync/internal/infra/coord"
)

type recordingStream struct {
	mu    sync.Mutex
	got   []*Envelope
	block chan struct{}
	fail  bool
}

func (s *recordingStream) Send(env *Envelope) error {
	if s.block != nil {
		<-s.block
	}
	if s.fail {
		return errors.New("closed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, env)
	return nil
}

func (s *recordingStream) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, len(s.got))
	for i, env := range s.got {
		types[i] = env.Type
	}
	return types
}

func (s *recordingStream) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestManager_LocalScopes(t *testing.T) {
	m := NewManager(nil, nil, 100*time.Millisecond)
	ctx := context.Background()

	a1, a2, b := &recordingStream{}, &recordingStream{}, &recordingStream{}
	m.Subscribe("a1", "alice", a1)
	m.Subscribe("a2", "alice", a2)
	m.Subscribe("b", "bob", b)
	m.JoinRoom("a1", "r1")
	m.JoinRoom("b", "r1")

	require.NoError(t, m.ToRoom(ctx, "r1", "playback.update", map[string]any{"state": "playing"}))
	require.NoError(t, m.ToUser(ctx, "alice", "r1", "presence.verify_connection", nil))
	require.NoError(t, m.ToConn(ctx, "b", "r1", "error", nil))

	assert.Equal(t, []string{"playback.update", "presence.verify_connection"}, a1.types())
	assert.Equal(t, []string{"presence.verify_connection"}, a2.types())
	assert.Equal(t, []string{"playback.update", "error"}, b.types())

	var data map[string]any
	require.NoError(t, json.Unmarshal(a1.got[0].Data, &data))
	assert.Equal(t, "playing", data["state"])
	assert.Equal(t, "r1", a1.got[0].RoomID)
}

func TestManager_SequenceNumbers(t *testing.T) {
	m := NewManager(nil, nil, 0)
	s := &recordingStream{}
	m.Subscribe("c", "u", s)
	m.JoinRoom("c", "r")

	for i := 0; i < 3; i++ {
		require.NoError(t, m.ToRoom(context.Background(), "r", "x", nil))
	}
	require.Equal(t, 3, s.count())
	assert.Less(t, s.got[0].SequenceNo, s.got[1].SequenceNo)
	assert.Less(t, s.got[1].SequenceNo, s.got[2].SequenceNo)
}

func TestManager_UnsubscribeAndLeave(t *testing.T) {
	m := NewManager(nil, nil, 0)
	s := &recordingStream{}
	m.Subscribe("c", "u", s)
	m.JoinRoom("c", "r1")
	m.JoinRoom("c", "r2")
	assert.ElementsMatch(t, []string{"r1", "r2"}, m.Rooms("c"))

	m.LeaveRoomUser(context.Background(), "u", "r1")
	require.NoError(t, m.ToRoom(context.Background(), "r1", "x", nil))
	assert.Equal(t, 0, s.count())

	m.Unsubscribe("c")
	require.NoError(t, m.ToRoom(context.Background(), "r2", "x", nil))
	assert.Equal(t, 0, s.count())
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestManager_SlowStreamDoesNotBlockOthers(t *testing.T) {
	m := NewManager(nil, nil, 50*time.Millisecond)
	slow := &recordingStream{block: make(chan struct{})}
	defer close(slow.block)
	fast := &recordingStream{}

	m.Subscribe("slow", "u1", slow)
	m.Subscribe("fast", "u2", fast)
	m.JoinRoom("slow", "r")
	m.JoinRoom("fast", "r")

	start := time.Now()
	require.NoError(t, m.ToRoom(context.Background(), "r", "x", nil))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, fast.count())
}

func TestManager_CrossProcess(t *testing.T) {
	store := coord.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m1 := NewManager(store, nil, 0)
	m2 := NewManager(store, nil, 0)
	go m1.Run(ctx)
	go m2.Run(ctx)

	remote := &recordingStream{}
	m2.Subscribe("remote", "alice", remote)
	m2.JoinRoom("remote", "r1")

	local := &recordingStream{}
	m1.Subscribe("local", "bob", local)
	m1.JoinRoom("local", "r1")

	// The relay subscribes asynchronously; resend until it is live.
	require.Eventually(t, func() bool {
		_ = m1.ToUser(ctx, "alice", "r1", "presence.verify_connection", nil)
		return remote.count() > 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "presence.verify_connection", remote.types()[0])
	assert.Equal(t, 0, local.count(), "bob is not addressed")

	before := remote.count()
	require.NoError(t, m1.ToRoom(ctx, "r1", "playback.update", nil))
	require.Eventually(t, func() bool { return remote.count() > before }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, local.count(), "local delivery is not echoed back")
}

func TestManager_CrossProcessLeave(t *testing.T) {
	store := coord.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m1 := NewManager(store, nil, 0)
	m2 := NewManager(store, nil, 0)
	go m1.Run(ctx)
	go m2.Run(ctx)

	remote := &recordingStream{}
	m2.Subscribe("remote", "alice", remote)
	m2.JoinRoom("remote", "r1")

	require.Eventually(t, func() bool {
		_ = m1.ToRoom(ctx, "r1", "playback.update", nil)
		return remote.count() > 0
	}, 2*time.Second, 20*time.Millisecond)

	m1.LeaveRoomUser(ctx, "alice", "r1")
	require.Eventually(t, func() bool { return len(m2.Rooms("remote")) == 0 }, time.Second, 10*time.Millisecond)

	before := remote.count()
	require.NoError(t, m1.ToRoom(ctx, "r1", "playback.update", nil))
	require.NoError(t, m1.ToUser(ctx, "alice", "r1", "presence.verify_connection", nil))
	require.Eventually(t, func() bool { return remote.count() > before }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "presence.verify_connection", remote.types()[remote.count()-1])
	assert.NotContains(t, remote.types()[before:], "playback.update", "left room gets no broadcasts")
}
