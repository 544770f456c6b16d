// Package lastfm provides a client for the Last.fm API.
package lastfm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// ErrTrackNotFound is returned when Last.fm does not know the track.
var ErrTrackNotFound = errors.New("track not found")

// Last.fm error code for an unknown track.
const errCodeInvalidParameters = 6

// Client is a Last.fm API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	// Cache for track info, keyed by artist and track name
	infoCache map[string]TrackInfo
	cacheMu   sync.RWMutex
}

// Config represents Last.fm client configuration.
type Config struct {
	APIKey  string
	Timeout time.Duration
}

// TrackInfo represents the track metadata Last.fm returns.
type TrackInfo struct {
	Name       string
	Artist     string
	DurationMs int64 // 0 when Last.fm has no duration
}

// getInfoResponse represents the response from track.getInfo API.
type getInfoResponse struct {
	Track struct {
		Name     string `json:"name"`
		Duration string `json:"duration"`
		Artist   struct {
			Name string `json:"name"`
		} `json:"artist"`
	} `json:"track"`
}

// apiError represents an error response from Last.fm API.
type apiError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// New creates a new Last.fm client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("last.fm API key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    "https://ws.audioscrobbler.com/2.0/",
		httpClient: &http.Client{Timeout: timeout},
		infoCache:  make(map[string]TrackInfo),
	}, nil
}

// GetTrackInfo retrieves track metadata from Last.fm.
// Reference: https://www.last.fm/api/show/track.getInfo
func (c *Client) GetTrackInfo(ctx context.Context, artistName, trackName string) (*TrackInfo, error) {
	if trackName == "" || artistName == "" {
		return nil, errors.New("track name and artist name are required")
	}

	cacheKey := fmt.Sprintf("trackinfo:%s:%s", artistName, trackName)
	c.cacheMu.RLock()
	if info, ok := c.infoCache[cacheKey]; ok {
		c.cacheMu.RUnlock()
		zlog.Debug().Msgf("using cached track info: %s - %s", artistName, trackName)
		return &info, nil
	}
	c.cacheMu.RUnlock()

	params := url.Values{}
	params.Set("method", "track.getInfo")
	params.Set("api_key", c.apiKey)
	params.Set("artist", artistName)
	params.Set("track", trackName)
	params.Set("format", "json")
	params.Set("autocorrect", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != 0 {
		if apiErr.Error == errCodeInvalidParameters {
			return nil, errors.Mark(errors.Newf("last.fm: %s", apiErr.Message), ErrTrackNotFound)
		}
		return nil, errors.Errorf("last.fm API error %d: %s", apiErr.Error, apiErr.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("last.fm API status %d", resp.StatusCode)
	}

	var response getInfoResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, "failed to parse response")
	}

	info := TrackInfo{
		Name:   response.Track.Name,
		Artist: response.Track.Artist.Name,
	}
	if response.Track.Duration != "" {
		d, err := strconv.ParseInt(response.Track.Duration, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid duration %q", response.Track.Duration)
		}
		info.DurationMs = d
	}

	c.cacheMu.Lock()
	c.infoCache[cacheKey] = info
	c.cacheMu.Unlock()
	zlog.Debug().Msgf("cached track info: %s - %s duration_ms=%d", artistName, trackName, info.DurationMs)

	return &info, nil
}
