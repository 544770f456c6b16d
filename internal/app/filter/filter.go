// Package filter provides the permission filter chain that guards room operations.
package filter

import (
	"context"

	"github.com/osa030/roomsync/internal/domain/room"
)

// Action classifies an operation for filtering.
type Action string

const (
	ActionControl      Action = "control"       // play, pause, seek, restart, skip
	ActionContinueNext Action = "continue_next" // manual advance after an entry ended
	ActionProbe        Action = "probe"         // completion check
	ActionReadiness    Action = "readiness"
	ActionEnqueue      Action = "enqueue"
	ActionPresence     Action = "presence" // leave, heartbeat
)

// Request represents an operation to be validated.
type Request struct {
	Action Action
	UserID string
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "not_member", "forbidden"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for permission filters.
type Filter interface {
	// Name returns the filter name.
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// AppliesTo returns true if this filter should be applied to the given action.
	AppliesTo(action Action) bool
	// Check performs the filter check. m is nil when the user has never joined the room.
	Check(ctx context.Context, req Request, r *room.Room, m *room.Membership) Result
}

// registry holds registered filter factories.
var registry = make(map[string]func() Filter)

// Register registers a filter factory.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func() Filter {
	return registry
}
