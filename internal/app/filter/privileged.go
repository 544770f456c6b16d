package filter

import (
	"context"

	"github.com/osa030/roomsync/internal/domain/room"
)

// PrivilegedFilter restricts continue_next to owners and operators,
// whatever the control mode.
type PrivilegedFilter struct{}

func (f *PrivilegedFilter) Name() string {
	return "privileged_filter"
}

func (f *PrivilegedFilter) Description() string {
	return "Requires owner or operator role"
}

func (f *PrivilegedFilter) ReturnCodes() []string {
	return []string{"forbidden"}
}

func (f *PrivilegedFilter) AppliesTo(action Action) bool {
	return action == ActionContinueNext
}

func (f *PrivilegedFilter) Check(ctx context.Context, req Request, r *room.Room, m *room.Membership) Result {
	if m == nil || !m.Role.Privileged() {
		return Reject("forbidden")
	}
	return Accept()
}

func init() {
	Register("privileged_filter", func() Filter {
		return &PrivilegedFilter{}
	})
}
