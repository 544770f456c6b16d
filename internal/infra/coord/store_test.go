package coord

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
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

func stores(t *testing.T) map[string]struct {
	store   Store
	advance func(time.Duration)
} {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	mem := NewMemoryStore()
	mem.SetClock(clock.Now)

	mr := miniredis.RunT(t)
	rs := NewRedisStore(RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rs.Close() })

	return map[string]struct {
		store   Store
		advance func(time.Duration)
	}{
		"memory": {store: mem, advance: clock.Advance},
		"redis":  {store: rs, advance: mr.FastForward},
	}
}

func TestStore_KeyValue(t *testing.T) {
	for name, tc := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := tc.store

			_, ok, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.SetEX(ctx, "k", "v1", 10*time.Second))
			v, ok, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v1", v)

			// Overwrite replaces the value.
			require.NoError(t, s.SetEX(ctx, "k", "v2", 10*time.Second))
			v, _, _ = s.Get(ctx, "k")
			assert.Equal(t, "v2", v)

			tc.advance(11 * time.Second)
			exists, err := s.Exists(ctx, "k")
			require.NoError(t, err)
			assert.False(t, exists, "expired after TTL")
		})
	}
}

func TestStore_SetNX(t *testing.T) {
	for name, tc := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := tc.store

			ok, err := s.SetNX(ctx, "lease", "a", 5*time.Second)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.SetNX(ctx, "lease", "b", 5*time.Second)
			require.NoError(t, err)
			assert.False(t, ok)

			tc.advance(6 * time.Second)
			ok, err = s.SetNX(ctx, "lease", "b", 5*time.Second)
			require.NoError(t, err)
			assert.True(t, ok, "lease is free again after expiry")
		})
	}
}

func TestStore_Del(t *testing.T) {
	for name, tc := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := tc.store

			require.NoError(t, s.SetEX(ctx, "a", "1", time.Minute))
			n, err := s.Del(ctx, "a", "b")
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			n, err = s.Del(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, int64(0), n, "second delete finds nothing")
		})
	}
}

func TestStore_CompareAndDelete(t *testing.T) {
	for name, tc := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := tc.store

			require.NoError(t, s.SetEX(ctx, "marker", "token-a", time.Minute))

			ok, err := s.CompareAndDelete(ctx, "marker", "token-b")
			require.NoError(t, err)
			assert.False(t, ok, "foreign token leaves the key")

			ok, err = s.CompareAndDelete(ctx, "marker", "token-a")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.CompareAndDelete(ctx, "marker", "token-a")
			require.NoError(t, err)
			assert.False(t, ok, "only one delete wins")
		})
	}
}

func TestStore_Sets(t *testing.T) {
	for name, tc := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := tc.store

			require.NoError(t, s.SAdd(ctx, "conns", "c1", time.Minute))
			require.NoError(t, s.SAdd(ctx, "conns", "c2", time.Minute))
			require.NoError(t, s.SAdd(ctx, "conns", "c2", time.Minute))

			n, err := s.SCard(ctx, "conns")
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			members, err := s.SMembers(ctx, "conns")
			require.NoError(t, err)
			sort.Strings(members)
			assert.Equal(t, []string{"c1", "c2"}, members)

			require.NoError(t, s.SRem(ctx, "conns", "c1"))
			n, _ = s.SCard(ctx, "conns")
			assert.Equal(t, int64(1), n)

			require.NoError(t, s.SRem(ctx, "conns", "c2"))
			exists, err := s.Exists(ctx, "conns")
			require.NoError(t, err)
			assert.False(t, exists, "empty set is removed")

			require.NoError(t, s.SAdd(ctx, "ttl", "x", time.Second))
			tc.advance(2 * time.Second)
			n, _ = s.SCard(ctx, "ttl")
			assert.Equal(t, int64(0), n)
		})
	}
}

func TestStore_PubSub(t *testing.T) {
	for name, tc := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			s := tc.store

			msgs, closeFn, err := s.Subscribe(ctx, "bus")
			require.NoError(t, err)
			defer closeFn()

			require.NoError(t, s.Publish(ctx, "bus", []byte("hello")))

			select {
			case msg := <-msgs:
				assert.Equal(t, "hello", string(msg))
			case <-time.After(2 * time.Second):
				t.Fatal("message not delivered")
			}
		})
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(RedisConfig{Addr: mr.Addr(), Timeout: 200 * time.Millisecond})
	defer s.Close()
	mr.Close()

	err := s.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}
