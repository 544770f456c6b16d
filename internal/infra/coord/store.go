// Package coord provides the coordination store: a small key/value surface
// with TTLs, atomic set-if-absent, sets and pub/sub, used for every signal
// that has to cross process boundaries.
package coord

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrUnavailable marks errors caused by an unreachable coordination store.
var ErrUnavailable = errors.New("coordination store unavailable")

// Store is the coordination store contract.
type Store interface {
	// Get returns the value of key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetEX sets key to value with a TTL, overwriting any previous value.
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key only if it does not exist. Reports whether it was set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Exists reports whether key exists.
	Exists(ctx context.Context, key string) (bool, error)
	// Del deletes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)
	// CompareAndDelete deletes key only while it holds value, atomically.
	// Reports whether the key was deleted.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	// SAdd adds member to the set at key and refreshes the set's TTL.
	SAdd(ctx context.Context, key, member string, ttl time.Duration) error
	// SRem removes member from the set at key.
	SRem(ctx context.Context, key, member string) error
	// SCard returns the set's cardinality.
	SCard(ctx context.Context, key string) (int64, error)
	// SMembers returns the set's members.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Publish sends payload to every subscriber of channel, on any process.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers messages published on channel until ctx is done or
	// the returned close function is called.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases the store's resources.
	Close() error
}

func unavailable(err error, op string) error {
	return errors.Mark(errors.Wrapf(err, "coord %s", op), ErrUnavailable)
}
