package filter

import (
	"context"

	"github.com/osa030/roomsync/internal/domain/room"
)

// ControlModeFilter applies the room's control mode to playback controls.
type ControlModeFilter struct{}

func (f *ControlModeFilter) Name() string {
	return "control_mode_filter"
}

func (f *ControlModeFilter) Description() string {
	return "Checks the caller's role against the room's control mode"
}

func (f *ControlModeFilter) ReturnCodes() []string {
	return []string{"forbidden"}
}

func (f *ControlModeFilter) AppliesTo(action Action) bool {
	return action == ActionControl || action == ActionEnqueue
}

func (f *ControlModeFilter) Check(ctx context.Context, req Request, r *room.Room, m *room.Membership) Result {
	if m == nil {
		return Reject("forbidden")
	}
	switch r.ControlMode {
	case room.ControlEveryone:
		return Accept()
	case room.ControlOperators:
		if m.Role.Privileged() {
			return Accept()
		}
	case room.ControlOwnerOnly:
		if m.Role == room.RoleOwner || r.OwnerID == req.UserID {
			return Accept()
		}
	}
	return Reject("forbidden")
}

func init() {
	Register("control_mode_filter", func() Filter {
		return &ControlModeFilter{}
	})
}
