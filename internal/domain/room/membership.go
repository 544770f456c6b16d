package room

import "time"

// Role is a member's privilege level within a room.
type Role string

const (
	RoleOwner       Role = "owner"
	RoleOperator    Role = "operator"
	RoleParticipant Role = "participant"
)

// Privileged reports whether the role may use operator-level controls.
func (r Role) Privileged() bool {
	return r == RoleOwner || r == RoleOperator
}

// Membership binds a user to a room.
// Ready is only meaningful while the room is starting or in midroll.
type Membership struct {
	RoomID     string `gorm:"primaryKey;size:64"`
	UserID     string `gorm:"primaryKey;size:64;index"`
	Role       Role   `gorm:"size:16;not null"`
	Ready      bool   `gorm:"not null"`
	Active     bool   `gorm:"not null;index"`
	LastSeenMs int64  `gorm:"not null;index"`
	JoinedAt   time.Time
}

// User is a person that can hold memberships.
type User struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128"`
	Active    bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActiveMembers filters memberships down to active ones.
func ActiveMembers(members []Membership) []Membership {
	result := make([]Membership, 0, len(members))
	for _, m := range members {
		if m.Active {
			result = append(result, m)
		}
	}
	return result
}
