// Package presence tracks each user's live connections across processes and
// debounces disconnects of users that hold more than one connection.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/roomsync/internal/infra/coord"
)

// Prober asks a user's remaining connections to confirm they are alive.
type Prober interface {
	ProbeConnections(ctx context.Context, userID, disconnectedID string) error
}

// RemoveFunc removes a user whose connections are gone.
type RemoveFunc func(ctx context.Context, userID string)

// Config holds presence timing.
type Config struct {
	GraceWindow     time.Duration // wait for a verification answer
	VerificationTTL time.Duration // must outlive GraceWindow
	ConnectionTTL   time.Duration // lifetime of a user's connection set
}

// Tracker implements connect, disconnect and verification.
type Tracker struct {
	store    coord.Store
	config   Config
	prober   Prober
	onRemove RemoveFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracker creates a tracker. With a nil store every disconnect removes
// the user immediately.
func NewTracker(store coord.Store, config Config, prober Prober, onRemove RemoveFunc) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		store:    store,
		config:   config,
		prober:   prober,
		onRemove: onRemove,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func connsKey(userID string) string {
	return "presence:conns:" + userID
}

func verifiedKey(userID string) string {
	return "presence:verified:" + userID
}

// Connect records a new live connection.
func (t *Tracker) Connect(ctx context.Context, userID, connID string) error {
	if t.store == nil {
		return nil
	}
	if err := t.store.SAdd(ctx, connsKey(userID), connID, t.config.ConnectionTTL); err != nil {
		return errors.Wrapf(err, "failed to record connection %s", connID)
	}
	return nil
}

// Refresh extends the lifetime of the user's connection set.
func (t *Tracker) Refresh(ctx context.Context, userID, connID string) error {
	if t.store == nil {
		return nil
	}
	return t.store.SAdd(ctx, connsKey(userID), connID, t.config.ConnectionTTL)
}

// Disconnect handles a closed connection. It reports whether the user was
// removed immediately; otherwise a re-check runs after the grace window.
func (t *Tracker) Disconnect(ctx context.Context, userID, connID string) bool {
	remaining, err := t.dropConnection(ctx, userID, connID)
	if err != nil {
		if errors.Is(err, coord.ErrUnavailable) {
			zlog.Warn().Msgf("presence degraded to single connection: user_id=%s error=%v", userID, err)
		} else {
			zlog.Error().Msgf("failed to drop connection: user_id=%s conn_id=%s error=%v", userID, connID, err)
		}
		t.remove(ctx, userID)
		return true
	}
	if len(remaining) == 0 {
		zlog.Debug().Msgf("last connection closed: user_id=%s conn_id=%s", userID, connID)
		t.remove(ctx, userID)
		return true
	}

	if t.prober != nil {
		if err := t.prober.ProbeConnections(ctx, userID, connID); err != nil {
			zlog.Warn().Msgf("connection probe failed: user_id=%s error=%v", userID, err)
		}
	}

	zlog.Debug().Msgf("connection closed, verifying others: user_id=%s conn_id=%s remaining=%d grace=%s",
		userID, connID, len(remaining), t.config.GraceWindow)

	t.wg.Add(1)
	go t.recheck(userID, connID, remaining)
	return false
}

func (t *Tracker) dropConnection(ctx context.Context, userID, connID string) ([]string, error) {
	if t.store == nil {
		return nil, nil
	}
	if err := t.store.SRem(ctx, connsKey(userID), connID); err != nil {
		return nil, err
	}
	return t.store.SMembers(ctx, connsKey(userID))
}

// Verify records that a live connection answered the probe for disconnectedID.
// Answers accumulate per user, so overlapping disconnects each keep their own.
func (t *Tracker) Verify(ctx context.Context, userID, disconnectedID string) error {
	if t.store == nil {
		return nil
	}
	if err := t.store.SAdd(ctx, verifiedKey(userID), disconnectedID, t.config.VerificationTTL); err != nil {
		return errors.Wrap(err, "failed to set verification flag")
	}
	return nil
}

func (t *Tracker) recheck(userID, connID string, before []string) {
	defer t.wg.Done()

	timer := time.NewTimer(t.config.GraceWindow)
	defer timer.Stop()
	select {
	case <-t.ctx.Done():
		return
	case <-timer.C:
	}

	ctx, cancel := context.WithTimeout(t.ctx, 10*time.Second)
	defer cancel()

	keep, err := t.stillPresent(ctx, userID, connID, before)
	if err != nil {
		zlog.Warn().Msgf("presence re-check failed, keeping user: user_id=%s error=%v", userID, err)
		return
	}
	if keep {
		zlog.Debug().Msgf("presence confirmed: user_id=%s conn_id=%s", userID, connID)
		return
	}
	zlog.Info().Msgf("presence not confirmed, removing: user_id=%s conn_id=%s", userID, connID)
	t.remove(ctx, userID)
}

// stillPresent is true when a connection answered the probe or a connection
// unknown at disconnect time has appeared since.
func (t *Tracker) stillPresent(ctx context.Context, userID, connID string, before []string) (bool, error) {
	verified, err := t.store.SMembers(ctx, verifiedKey(userID))
	if err != nil {
		return false, err
	}
	for _, id := range verified {
		if id == connID {
			return true, nil
		}
	}

	current, err := t.store.SMembers(ctx, connsKey(userID))
	if err != nil {
		return false, err
	}
	known := make(map[string]struct{}, len(before))
	for _, id := range before {
		known[id] = struct{}{}
	}
	for _, id := range current {
		if _, ok := known[id]; !ok {
			return true, nil
		}
	}
	return false, nil
}

func (t *Tracker) remove(ctx context.Context, userID string) {
	if t.onRemove != nil {
		t.onRemove(ctx, userID)
	}
}

// Close stops pending re-checks.
func (t *Tracker) Close() {
	t.cancel()
	t.wg.Wait()
}
