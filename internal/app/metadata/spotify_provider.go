package metadata

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/roomsync/internal/infra/spotify"
)

// SpotifyProvider resolves Spotify track URIs and URLs.
type SpotifyProvider struct {
	spotify SpotifyClient
}

// NewSpotifyProvider creates a new SpotifyProvider.
func NewSpotifyProvider(client SpotifyClient) (*SpotifyProvider, error) {
	if client == nil {
		return nil, errors.New("spotify client is required")
	}
	return &SpotifyProvider{spotify: client}, nil
}

func (p *SpotifyProvider) Lookup(ctx context.Context, ref Ref) (*Info, error) {
	if !spotify.IsTrackRef(ref.MediaID) {
		return nil, ErrUnsupported
	}
	t, err := p.spotify.GetTrack(ctx, ref.MediaID)
	if err != nil {
		return nil, err
	}
	return &Info{Title: t.Title(), DurationMs: t.DurationMs}, nil
}

func (p *SpotifyProvider) Name() string {
	return "spotify"
}
