// Package worker runs the singleton background loops. Every process runs the
// same startup code; a slot claim decides which of them actually start a loop.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/osa030/roomsync/internal/infra/coord"
)

// Claim is a held slot.
type Claim struct {
	Task    string
	Slot    int
	Backend string
}

// SlotBackend claims one of a fixed number of numbered slots for a task.
type SlotBackend interface {
	// Claim tries each slot once without blocking. ok is false when every slot is taken.
	Claim(ctx context.Context, task string, slots int) (claim Claim, ok bool, err error)
	// Name returns the backend name.
	Name() string
}

// FileBackend claims slots with exclusive advisory locks on local files.
// Locks are held until Close or process exit.
type FileBackend struct {
	dir string

	mu   sync.Mutex
	held []*os.File
}

// NewFileBackend creates a file lock backend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

func (b *FileBackend) Name() string {
	return "file"
}

func (b *FileBackend) lockPath(task string, n int) string {
	return filepath.Join(b.dir, fmt.Sprintf("%s.%d.lock", task, n))
}

func (b *FileBackend) Claim(ctx context.Context, task string, slots int) (Claim, bool, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return Claim{}, false, errors.Wrap(err, "failed to create lock directory")
	}

	for n := 0; n < slots; n++ {
		f, err := os.OpenFile(b.lockPath(task, n), os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return Claim{}, false, errors.Wrap(err, "failed to open lock file")
		}

		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			b.mu.Lock()
			b.held = append(b.held, f)
			b.mu.Unlock()
			return Claim{Task: task, Slot: n, Backend: b.Name()}, true, nil
		}
		f.Close()
		if !errors.Is(err, unix.EWOULDBLOCK) {
			return Claim{}, false, errors.Wrapf(err, "failed to lock slot %d", n)
		}
	}
	return Claim{}, false, nil
}

// Close releases every lock held by this backend.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs error
	for _, f := range b.held {
		errs = errors.CombineErrors(errs, f.Close())
	}
	b.held = nil
	return errs
}

// LeaseBackend claims slots with set-if-absent keys in the coordination store.
// Leases are not renewed; a crashed holder frees its slot when the TTL expires.
type LeaseBackend struct {
	store  coord.Store
	ttl    time.Duration
	holder string
}

// NewLeaseBackend creates a lease backend.
func NewLeaseBackend(store coord.Store, ttl time.Duration) *LeaseBackend {
	return &LeaseBackend{store: store, ttl: ttl, holder: uuid.New().String()}
}

func (b *LeaseBackend) Name() string {
	return "lease"
}

// LeaseKey returns the coordination store key of a slot lease.
func LeaseKey(task string, n int) string {
	return fmt.Sprintf("slot:%s:%d", task, n)
}

func (b *LeaseBackend) Claim(ctx context.Context, task string, slots int) (Claim, bool, error) {
	for n := 0; n < slots; n++ {
		ok, err := b.store.SetNX(ctx, LeaseKey(task, n), b.holder, b.ttl)
		if err != nil {
			return Claim{}, false, errors.Wrapf(err, "failed to claim lease %d", n)
		}
		if ok {
			return Claim{Task: task, Slot: n, Backend: b.Name()}, true, nil
		}
	}
	return Claim{}, false, nil
}

// noneBackend never grants a slot.
type noneBackend struct{}

func (noneBackend) Name() string { return "none" }

func (noneBackend) Claim(ctx context.Context, task string, slots int) (Claim, bool, error) {
	return Claim{}, false, nil
}

// ProbeBackend picks a backend once: a writable lock directory selects file
// locks, else a reachable coordination store selects leases, else no slot is
// ever granted.
func ProbeBackend(ctx context.Context, lockDir string, store coord.Store, leaseTTL time.Duration) SlotBackend {
	if lockDir != "" && writable(lockDir) {
		zlog.Info().Msgf("slot backend selected: backend=file dir=%s", lockDir)
		return NewFileBackend(lockDir)
	}
	if store != nil {
		err := store.Ping(ctx)
		if err == nil {
			zlog.Info().Msgf("slot backend selected: backend=lease ttl=%s", leaseTTL)
			return NewLeaseBackend(store, leaseTTL)
		}
		zlog.Warn().Msgf("coordination store unreachable for slot leases: error=%v", err)
	}
	zlog.Warn().Msg("no slot backend available, background loops will not start")
	return noneBackend{}
}

func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
