package metadata

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/roomsync/internal/infra/lastfm"
)

// LastFmClient defines the interface for Last.fm operations.
type LastFmClient interface {
	GetTrackInfo(ctx context.Context, artistName, trackName string) (*lastfm.TrackInfo, error)
}

type LastFmProviderConfig struct {
	APIKey    string `yaml:"api_key" mapstructure:"api_key" validate:"required"`
	Separator string `yaml:"separator" mapstructure:"separator" default:" - "`
	TimeoutMs int    `yaml:"timeout_ms" mapstructure:"timeout_ms" default:"5000" validate:"gt=0"`
}

// LastFmProvider resolves "Artist - Track" titles through Last.fm track.getInfo.
type LastFmProvider struct {
	lastfm LastFmClient
	config *LastFmProviderConfig
}

func decodeLastFmSettings(settings map[string]any) (*LastFmProviderConfig, error) {
	if len(settings) == 0 {
		return nil, errors.New("settings are required")
	}

	var config LastFmProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return &config, nil
}

// NewLastFmProvider creates a new LastFmProvider from provider settings.
func NewLastFmProvider(settings map[string]any) (*LastFmProvider, error) {
	config, err := decodeLastFmSettings(settings)
	if err != nil {
		return nil, err
	}

	client, err := lastfm.New(lastfm.Config{
		APIKey:  config.APIKey,
		Timeout: msDuration(config.TimeoutMs),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create last.fm client")
	}

	return &LastFmProvider{lastfm: client, config: config}, nil
}

// splitTitle splits "Artist - Track" on the configured separator.
func (p *LastFmProvider) splitTitle(ref Ref) (artist, track string, ok bool) {
	source := ref.Title
	if rest, found := strings.CutPrefix(ref.MediaID, "lastfm:"); found {
		source = rest
	}
	artist, track, ok = strings.Cut(source, p.config.Separator)
	artist = strings.TrimSpace(artist)
	track = strings.TrimSpace(track)
	return artist, track, ok && artist != "" && track != ""
}

func (p *LastFmProvider) Lookup(ctx context.Context, ref Ref) (*Info, error) {
	artist, track, ok := p.splitTitle(ref)
	if !ok {
		return nil, ErrUnsupported
	}

	info, err := p.lastfm.GetTrackInfo(ctx, artist, track)
	if err != nil {
		if errors.Is(err, lastfm.ErrTrackNotFound) {
			return nil, errors.Mark(err, ErrNotFound)
		}
		return nil, err
	}
	if info.DurationMs <= 0 {
		return nil, errors.Mark(errors.Newf("last.fm has no duration for %s - %s", artist, track), ErrNotFound)
	}

	title := ref.Title
	if info.Artist != "" && info.Name != "" {
		title = info.Artist + p.config.Separator + info.Name
	}
	return &Info{Title: title, DurationMs: info.DurationMs}, nil
}

func (p *LastFmProvider) Name() string {
	return "lastfm"
}
