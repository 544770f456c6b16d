// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Store    StoreConfig    `yaml:"store"`
	Coord    CoordConfig    `yaml:"coord"`
	Playback PlaybackConfig `yaml:"playback"`
	Presence PresenceConfig `yaml:"presence"`
	Worker   WorkerConfig   `yaml:"worker"`
	Metadata MetadataConfig `yaml:"metadata"`
	Messages MessagesConfig `yaml:"messages"`
	Spotify  SpotifyConfig  `yaml:"spotify"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr             string      `yaml:"addr" default:":8080"`
	AllowedOrigins   []string    `yaml:"allowed_origins"`
	SendTimeoutMs    int         `yaml:"send_timeout_ms" default:"1000" validate:"gt=0,lte=30000"`
	HandlerTimeoutMs int         `yaml:"handler_timeout_ms" default:"10000" validate:"gt=0,lte=120000"`
	Hooks            HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AuthConfig represents connection token configuration.
type AuthConfig struct {
	Secret      string `yaml:"secret" validate:"required,min=16"`
	TokenTTLSec int    `yaml:"token_ttl_sec" default:"86400" validate:"gt=0"`
}

// StoreConfig represents durable store configuration.
type StoreConfig struct {
	Driver       string `yaml:"driver" default:"sqlite" validate:"oneof=sqlite postgres"`
	DSN          string `yaml:"dsn" default:"file:roomsync.db?_busy_timeout=5000"`
	MaxOpenConns int    `yaml:"max_open_conns" default:"1" validate:"gt=0"`
	LogLevel     string `yaml:"log_level" default:"silent" validate:"oneof=silent error warn info"`
	MaxAttempts  int    `yaml:"max_attempts" default:"5" validate:"gte=1,lte=20"`
	RetryBaseMs  int    `yaml:"retry_base_ms" default:"20" validate:"gt=0"`
}

// CoordConfig represents coordination store configuration.
type CoordConfig struct {
	Driver    string `yaml:"driver" default:"redis" validate:"oneof=redis memory none"`
	Addr      string `yaml:"addr" default:"localhost:6379"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	TimeoutMs int    `yaml:"timeout_ms" default:"2000" validate:"gt=0"`
}

// PlaybackConfig represents playback timing configuration.
type PlaybackConfig struct {
	CompletionMarginMs int `yaml:"completion_margin_ms" default:"1000" validate:"gte=0,lte=10000"`
	FallbackDelayMs    int `yaml:"fallback_delay_ms" default:"15000" validate:"gt=0,lte=300000"`
	FallbackMarginMs   int `yaml:"fallback_margin_ms" default:"5000" validate:"gte=0,lte=60000"`
}

// PresenceConfig represents disconnect verification configuration.
type PresenceConfig struct {
	GraceWindowMs     int `yaml:"grace_window_ms" default:"3000" validate:"gt=0,lte=60000"`
	VerificationTTLMs int `yaml:"verification_ttl_ms" default:"10000" validate:"gt=0"`
	ConnectionTTLSec  int `yaml:"connection_ttl_sec" default:"86400" validate:"gt=0"`
}

// WorkerConfig represents background worker configuration.
type WorkerConfig struct {
	LockDir              string `yaml:"lock_dir" default:"/tmp/roomsync"`
	Slots                int    `yaml:"slots" default:"1" validate:"gte=1,lte=64"`
	LeaseTTLSec          int    `yaml:"lease_ttl_sec" default:"300" validate:"gt=0"`
	HeartbeatIntervalSec int    `yaml:"heartbeat_interval_sec" default:"15" validate:"gt=0"`
	HeartbeatTimeoutSec  int    `yaml:"heartbeat_timeout_sec" default:"60" validate:"gt=0"`
}

// MetadataConfig represents media metadata lookup configuration.
type MetadataConfig struct {
	TimeoutMs int              `yaml:"timeout_ms" default:"3000" validate:"gt=0"`
	Providers []ProviderConfig `yaml:"providers" validate:"dive"`
}

// ProviderConfig represents a single metadata provider configuration.
type ProviderConfig struct {
	Type        string         `yaml:"type" validate:"required,oneof=spotify lastfm"`
	DisplayName string         `yaml:"display_name" validate:"required"`
	Settings    map[string]any `yaml:"settings"`
}

// MessagesConfig represents caller-facing error messages.
type MessagesConfig struct {
	DefaultError     string `yaml:"default_error" default:"Something went wrong"`
	NotFound         string `yaml:"not_found" default:"Room not found"`
	NotMember        string `yaml:"not_member" default:"You are not a member of this room"`
	Forbidden        string `yaml:"forbidden" default:"You are not allowed to do that"`
	InvalidRequest   string `yaml:"invalid_request" default:"Invalid request"`
	InvalidSeek      string `yaml:"invalid_seek" default:"Seek target is required"`
	NoEntry          string `yaml:"no_entry" default:"Nothing is selected"`
	QueueEmpty       string `yaml:"queue_empty" default:"The queue is empty"`
	StoreContention  string `yaml:"store_contention" default:"The room is busy, try again"`
	CoordUnavailable string `yaml:"coord_unavailable" default:"Coordination is temporarily unavailable"`
	MetadataNotFound string `yaml:"metadata_not_found" default:"Media not found"`
	DurationRequired string `yaml:"duration_required" default:"Media duration is unknown"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("ROOMSYNC_AUTH_SECRET"); v != "" {
		c.Auth.Secret = v
	}
	if v := os.Getenv("ROOMSYNC_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Coord.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Coord.Password = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		for i := range c.Metadata.Providers {
			if c.Metadata.Providers[i].Type == "lastfm" {
				if c.Metadata.Providers[i].Settings == nil {
					c.Metadata.Providers[i].Settings = map[string]any{}
				}
				c.Metadata.Providers[i].Settings["api_key"] = v
				break
			}
		}
	}
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "not_found":
		return c.Messages.NotFound
	case "not_member":
		return c.Messages.NotMember
	case "forbidden":
		return c.Messages.Forbidden
	case "invalid_request":
		return c.Messages.InvalidRequest
	case "invalid_seek":
		return c.Messages.InvalidSeek
	case "no_entry":
		return c.Messages.NoEntry
	case "queue_empty":
		return c.Messages.QueueEmpty
	case "store_contention":
		return c.Messages.StoreContention
	case "coord_unavailable":
		return c.Messages.CoordUnavailable
	case "metadata_not_found":
		return c.Messages.MetadataNotFound
	case "duration_required":
		return c.Messages.DurationRequired
	default:
		return c.Messages.DefaultError
	}
}

// HasProvider reports whether a metadata provider of the given type is configured.
func (c *Config) HasProvider(providerType string) bool {
	for _, p := range c.Metadata.Providers {
		if p.Type == providerType {
			return true
		}
	}
	return false
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if err := c.validateTimingConsistency(); err != nil {
		return err
	}

	if c.HasProvider("spotify") && (c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "") {
		return errors.New("spotify provider requires spotify.client_id and spotify.client_secret")
	}

	return nil
}

// validateTimingConsistency checks that related timeouts are ordered.
func (c *Config) validateTimingConsistency() error {
	if c.Presence.VerificationTTLMs <= c.Presence.GraceWindowMs {
		return errors.Newf("presence.verification_ttl_ms (%d) must be longer than presence.grace_window_ms (%d)",
			c.Presence.VerificationTTLMs, c.Presence.GraceWindowMs)
	}
	if c.Worker.HeartbeatTimeoutSec <= c.Worker.HeartbeatIntervalSec {
		return errors.Newf("worker.heartbeat_timeout_sec (%d) must be longer than worker.heartbeat_interval_sec (%d)",
			c.Worker.HeartbeatTimeoutSec, c.Worker.HeartbeatIntervalSec)
	}
	return nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// CompletionMargin returns the near-end threshold.
func (p PlaybackConfig) CompletionMargin() time.Duration { return ms(p.CompletionMarginMs) }

// FallbackDelay returns how long a room may wait for quorum.
func (p PlaybackConfig) FallbackDelay() time.Duration { return ms(p.FallbackDelayMs) }

// FallbackMargin returns the extra marker lifetime past the delay.
func (p PlaybackConfig) FallbackMargin() time.Duration { return ms(p.FallbackMarginMs) }

func (p PresenceConfig) GraceWindow() time.Duration     { return ms(p.GraceWindowMs) }
func (p PresenceConfig) VerificationTTL() time.Duration { return ms(p.VerificationTTLMs) }
func (p PresenceConfig) ConnectionTTL() time.Duration {
	return time.Duration(p.ConnectionTTLSec) * time.Second
}

func (w WorkerConfig) LeaseTTL() time.Duration { return time.Duration(w.LeaseTTLSec) * time.Second }
func (w WorkerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(w.HeartbeatIntervalSec) * time.Second
}
func (w WorkerConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(w.HeartbeatTimeoutSec) * time.Second
}

func (a AuthConfig) TokenTTL() time.Duration         { return time.Duration(a.TokenTTLSec) * time.Second }
func (s ServerConfig) HandlerTimeout() time.Duration { return ms(s.HandlerTimeoutMs) }
func (s ServerConfig) SendTimeout() time.Duration {
	return ms(s.SendTimeoutMs)
}
func (c CoordConfig) Timeout() time.Duration   { return ms(c.TimeoutMs) }
func (s StoreConfig) RetryBase() time.Duration { return ms(s.RetryBaseMs) }
func (m MetadataConfig) Timeout() time.Duration {
	return ms(m.TimeoutMs)
}
