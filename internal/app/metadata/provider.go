// Package metadata resolves media references to titles and durations
// through a chain of external catalog providers.
package metadata

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/roomsync/internal/infra/spotify"
)

var (
	// ErrUnsupported is returned by a provider that does not handle the reference.
	ErrUnsupported = errors.New("unsupported media reference")
	// ErrNotFound is returned when no provider knows the media's duration.
	ErrNotFound = errors.New("media metadata not found")
)

// Ref identifies the media to look up.
type Ref struct {
	MediaID string
	Title   string // free-form hint, "Artist - Track" for catalog searches
}

// Info is the resolved metadata.
type Info struct {
	Title      string
	DurationMs int64
	Source     string // display name of the provider that answered
}

// Provider is the interface for metadata providers.
type Provider interface {
	// Lookup resolves ref. It returns ErrUnsupported when ref is not for this provider.
	Lookup(ctx context.Context, ref Ref) (*Info, error)

	// Name returns the provider type (used in config).
	Name() string
}

// SpotifyClient defines the Spotify operations needed by the spotify provider.
type SpotifyClient interface {
	GetTrack(ctx context.Context, ref string) (*spotify.TrackInfo, error)
}
