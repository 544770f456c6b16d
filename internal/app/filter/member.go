package filter

import (
	"context"

	"github.com/osa030/roomsync/internal/domain/room"
)

// MemberFilter checks that the caller holds an active membership.
type MemberFilter struct{}

func (f *MemberFilter) Name() string {
	return "member_filter"
}

func (f *MemberFilter) Description() string {
	return "Checks that the caller is an active member of the room"
}

func (f *MemberFilter) ReturnCodes() []string {
	return []string{"not_member"}
}

func (f *MemberFilter) AppliesTo(action Action) bool {
	return true
}

func (f *MemberFilter) Check(ctx context.Context, req Request, r *room.Room, m *room.Membership) Result {
	if m == nil || !m.Active || m.UserID != req.UserID {
		return Reject("not_member")
	}
	return Accept()
}

func init() {
	Register("member_filter", func() Filter {
		return &MemberFilter{}
	})
}
