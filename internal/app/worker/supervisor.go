package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// Loop is a singleton background loop.
type Loop interface {
	Run(ctx context.Context)
}

// Supervisor starts singleton loops on slot holders only.
type Supervisor struct {
	backend SlotBackend
	slots   int

	started atomic.Bool
	mu      sync.Mutex
	claim   *Claim
	wg      sync.WaitGroup
}

// NewSupervisor creates a supervisor.
func NewSupervisor(backend SlotBackend, slots int) *Supervisor {
	return &Supervisor{backend: backend, slots: slots}
}

// Start claims a slot for task and, on success, runs loop until ctx is done.
// It reports whether the loop is running. Calling it again after a
// successful start does nothing.
func (s *Supervisor) Start(ctx context.Context, task string, loop Loop) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started.Load() {
		return true, nil
	}

	claim, ok, err := s.backend.Claim(ctx, task, s.slots)
	if err != nil {
		return false, err
	}
	if !ok {
		zlog.Info().Msgf("no free slot, not starting loop: task=%s backend=%s slots=%d", task, s.backend.Name(), s.slots)
		return false, nil
	}

	s.claim = &claim
	s.started.Store(true)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		loop.Run(ctx)
	}()

	zlog.Info().Msgf("slot claimed, loop started: task=%s slot=%d backend=%s", task, claim.Slot, claim.Backend)
	return true, nil
}

// Started reports whether this process runs the loop.
func (s *Supervisor) Started() bool {
	return s.started.Load()
}

// Claim returns the held slot, if any.
func (s *Supervisor) Claim() (Claim, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claim == nil {
		return Claim{}, false
	}
	return *s.claim, true
}

// Wait blocks until the loop returns.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Sweeper evicts memberships not seen since cutoffMs and returns how many.
type Sweeper interface {
	SweepStale(ctx context.Context, cutoffMs int64) (int, error)
}

// Heartbeat periodically evicts stale memberships.
type Heartbeat struct {
	sweeper  Sweeper
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// NewHeartbeat creates the heartbeat loop.
func NewHeartbeat(sweeper Sweeper, interval, timeout time.Duration) *Heartbeat {
	return &Heartbeat{
		sweeper:  sweeper,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	zlog.Info().Msgf("heartbeat started: interval=%s timeout=%s", h.interval, h.timeout)
	for {
		select {
		case <-ctx.Done():
			zlog.Info().Msg("heartbeat stopped")
			return
		case <-ticker.C:
			h.Tick(ctx)
		}
	}
}

// Tick runs a single sweep.
func (h *Heartbeat) Tick(ctx context.Context) {
	cutoff := h.now().Add(-h.timeout).UnixMilli()
	n, err := h.sweeper.SweepStale(ctx, cutoff)
	if err != nil {
		zlog.Error().Msgf("heartbeat sweep failed: error=%v", err)
		return
	}
	if n > 0 {
		zlog.Info().Msgf("heartbeat evicted stale memberships: count=%d", n)
	}
}
