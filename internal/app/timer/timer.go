// Package timer implements the per-room fallback timer that forces a room
// out of its readiness wait when members never report ready.
//
// The authoritative timer is a marker key in the coordination store holding
// a unique token. Any process may arm or cancel it; only the waiter whose
// token still sits in the marker, and whose delete of the marker succeeds,
// fires.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/roomsync/internal/infra/coord"
	"github.com/osa030/roomsync/internal/infra/metrics"
)

// FireFunc is called once when a room's fallback timer expires.
type FireFunc func(ctx context.Context, roomID string)

// Config holds timer configuration.
type Config struct {
	Delay  time.Duration // how long a room may wait for quorum
	Margin time.Duration // extra marker lifetime past Delay
}

type waiter struct {
	token  string
	cancel context.CancelFunc
}

// FallbackTimer schedules and cancels per-room fallback timers.
type FallbackTimer struct {
	store   coord.Store
	config  Config
	metrics *metrics.Metrics

	mu      sync.Mutex
	fire    FireFunc
	waiters map[string]*waiter
	wg      sync.WaitGroup
	closed  bool
}

// New creates a fallback timer. With a nil store no timer ever starts.
func New(store coord.Store, config Config, m *metrics.Metrics) *FallbackTimer {
	return &FallbackTimer{
		store:   store,
		config:  config,
		metrics: m,
		waiters: make(map[string]*waiter),
	}
}

// OnFire sets the expiry callback.
func (t *FallbackTimer) OnFire(fn FireFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fire = fn
}

// MarkerKey returns the coordination store key of a room's timer.
func MarkerKey(roomID string) string {
	return "timeout:room:" + roomID
}

// Schedule arms the room's timer, replacing any pending one.
func (t *FallbackTimer) Schedule(ctx context.Context, roomID string) error {
	if t.store == nil {
		zlog.Debug().Msgf("fallback timer disabled, no coordination store: room_id=%s", roomID)
		return nil
	}

	token := uuid.New().String()
	if err := t.store.SetEX(ctx, MarkerKey(roomID), token, t.config.Delay+t.config.Margin); err != nil {
		return errors.Wrapf(err, "failed to arm fallback timer for room %s", roomID)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	if prev, ok := t.waiters[roomID]; ok {
		prev.cancel()
	}
	waitCtx, cancel := context.WithCancel(context.Background())
	t.waiters[roomID] = &waiter{token: token, cancel: cancel}
	t.wg.Add(1)
	t.mu.Unlock()

	go t.wait(waitCtx, roomID, token)

	zlog.Debug().Msgf("fallback timer armed: room_id=%s delay=%s", roomID, t.config.Delay)
	return nil
}

// Cancel disarms the room's timer on every process.
func (t *FallbackTimer) Cancel(ctx context.Context, roomID string) error {
	t.mu.Lock()
	if w, ok := t.waiters[roomID]; ok {
		w.cancel()
		delete(t.waiters, roomID)
	}
	t.mu.Unlock()

	if t.store == nil {
		return nil
	}
	if _, err := t.store.Del(ctx, MarkerKey(roomID)); err != nil {
		return errors.Wrapf(err, "failed to cancel fallback timer for room %s", roomID)
	}
	zlog.Debug().Msgf("fallback timer cancelled: room_id=%s", roomID)
	return nil
}

// Pending reports whether this process has a waiter for the room.
func (t *FallbackTimer) Pending(roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.waiters[roomID]
	return ok
}

// Close stops every local waiter. Markers are left to expire.
func (t *FallbackTimer) Close() {
	t.mu.Lock()
	t.closed = true
	for roomID, w := range t.waiters {
		w.cancel()
		delete(t.waiters, roomID)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *FallbackTimer) wait(ctx context.Context, roomID, token string) {
	defer t.wg.Done()

	timer := time.NewTimer(t.config.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	t.mu.Lock()
	if w, ok := t.waiters[roomID]; ok && w.token == token {
		w.cancel()
		delete(t.waiters, roomID)
	}
	fire := t.fire
	t.mu.Unlock()

	fireCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	won, err := t.store.CompareAndDelete(fireCtx, MarkerKey(roomID), token)
	if err != nil {
		t.metrics.TimerWake("error")
		zlog.Warn().Msgf("fallback timer check failed: room_id=%s error=%v", roomID, err)
		return
	}
	if !won {
		// Cancelled or re-armed elsewhere.
		t.metrics.TimerWake("stale")
		zlog.Debug().Msgf("fallback timer superseded: room_id=%s", roomID)
		return
	}

	t.metrics.TimerWake("fired")
	zlog.Info().Msgf("fallback timer fired: room_id=%s", roomID)
	if fire != nil {
		fire(fireCtx, roomID)
	}
}
