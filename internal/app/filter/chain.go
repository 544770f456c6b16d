package filter

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/roomsync/internal/domain/room"
)

// DefaultFilters is the order filters run in unless configured otherwise.
var DefaultFilters = []string{"member_filter", "control_mode_filter", "privileged_filter"}

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// NewChainFromNames builds a chain from registered filter names.
func NewChainFromNames(names []string) (*Chain, error) {
	c := NewChain()
	for _, name := range names {
		factory, ok := registry[name]
		if !ok {
			return nil, errors.Newf("unknown filter: %s", name)
		}
		c.Add(factory())
	}
	return c, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the request.
// Filters are only applied if they declare they apply to the request's action.
func (c *Chain) Execute(ctx context.Context, req Request, r *room.Room, m *room.Membership) Result {
	for _, f := range c.filters {
		if !f.AppliesTo(req.Action) {
			continue
		}

		result := f.Check(ctx, req, r, m)
		if !result.Accepted {
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
