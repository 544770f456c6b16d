package metadata

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// ProviderWithMetadata wraps a provider with its metadata.
type ProviderWithMetadata struct {
	Provider    Provider
	DisplayName string
}

// ProviderChain tries providers in order until one resolves a duration.
type ProviderChain struct {
	providers []ProviderWithMetadata
	timeout   time.Duration
}

// NewProviderChain creates a new provider chain. A zero timeout means no
// per-provider deadline beyond the caller's context.
func NewProviderChain(providers []ProviderWithMetadata, timeout time.Duration) *ProviderChain {
	return &ProviderChain{
		providers: providers,
		timeout:   timeout,
	}
}

// Len returns the number of providers.
func (c *ProviderChain) Len() int {
	return len(c.providers)
}

// Lookup asks each provider in turn. Unsupported references and provider
// failures fall through to the next provider.
func (c *ProviderChain) Lookup(ctx context.Context, ref Ref) (*Info, error) {
	for i, pm := range c.providers {
		zlog.Debug().Msgf("trying provider: index=%d total=%d name=%s provider_type=%s media_id=%s",
			i+1, len(c.providers), pm.DisplayName, pm.Provider.Name(), ref.MediaID)

		info, err := c.lookupOne(ctx, pm.Provider, ref)
		if err != nil {
			if errors.Is(err, ErrUnsupported) {
				continue
			}
			zlog.Warn().Msgf("provider failed, trying next: provider=%s error=%v", pm.DisplayName, err)
			continue
		}

		info.Source = pm.DisplayName
		zlog.Info().Msgf("provider resolved media: provider=%s media_id=%s duration_ms=%d",
			pm.DisplayName, ref.MediaID, info.DurationMs)
		return info, nil
	}

	return nil, errors.Mark(errors.Newf("no provider resolved media %s", ref.MediaID), ErrNotFound)
}

func (c *ProviderChain) lookupOne(ctx context.Context, p Provider, ref Ref) (*Info, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return p.Lookup(ctx, ref)
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
