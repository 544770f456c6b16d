package store

import (
	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/osa030/roomsync/internal/domain/room"
)

// Tx is a unit of work against the durable store.
type Tx struct {
	db *gorm.DB
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Mark(errors.Newf("%s not found", what), ErrNotFound)
	}
	return errors.Wrapf(err, "failed to load %s", what)
}

// GetRoom loads a room and locks its row for the rest of the transaction
// where the database supports row locks.
func (t *Tx) GetRoom(id string) (*room.Room, error) {
	var r room.Room
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&r, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "room")
	}
	return &r, nil
}

// GetRoomByCode loads a room by its join code.
func (t *Tx) GetRoomByCode(code string) (*room.Room, error) {
	var r room.Room
	if err := t.db.First(&r, "code = ?", code).Error; err != nil {
		return nil, notFound(err, "room")
	}
	return &r, nil
}

// CreateRoom inserts a new room.
func (t *Tx) CreateRoom(r *room.Room) error {
	if err := t.db.Create(r).Error; err != nil {
		return errors.Wrap(err, "failed to create room")
	}
	return nil
}

// SaveRoom writes every column of r.
func (t *Tx) SaveRoom(r *room.Room) error {
	if err := t.db.Save(r).Error; err != nil {
		return errors.Wrap(err, "failed to save room")
	}
	return nil
}

// ListEntries returns the room's live (not soft-deleted) entries by position.
func (t *Tx) ListEntries(roomID string) ([]room.QueueEntry, error) {
	var entries []room.QueueEntry
	err := t.db.
		Where("room_id = ? AND deleted_at_ms IS NULL", roomID).
		Order("position ASC").
		Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list entries")
	}
	return entries, nil
}

// GetEntry loads one entry, including soft-deleted ones.
func (t *Tx) GetEntry(id string) (*room.QueueEntry, error) {
	var e room.QueueEntry
	if err := t.db.First(&e, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "entry")
	}
	return &e, nil
}

// CreateEntry inserts a new entry.
func (t *Tx) CreateEntry(e *room.QueueEntry) error {
	if err := t.db.Create(e).Error; err != nil {
		return errors.Wrap(err, "failed to create entry")
	}
	return nil
}

// SaveEntries upserts entries by id.
func (t *Tx) SaveEntries(entries []room.QueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&entries).Error
	if err != nil {
		return errors.Wrap(err, "failed to save entries")
	}
	return nil
}

// GetMembership loads the membership of user in room.
func (t *Tx) GetMembership(roomID, userID string) (*room.Membership, error) {
	var m room.Membership
	if err := t.db.First(&m, "room_id = ? AND user_id = ?", roomID, userID).Error; err != nil {
		return nil, notFound(err, "membership")
	}
	return &m, nil
}

// ListMemberships returns every membership of the room, active or not.
func (t *Tx) ListMemberships(roomID string) ([]room.Membership, error) {
	var members []room.Membership
	err := t.db.Where("room_id = ?", roomID).Order("joined_at ASC, user_id ASC").Find(&members).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memberships")
	}
	return members, nil
}

// ListUserMemberships returns the user's active memberships across rooms.
func (t *Tx) ListUserMemberships(userID string) ([]room.Membership, error) {
	var members []room.Membership
	err := t.db.Where("user_id = ? AND active = ?", userID, true).Find(&members).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list user memberships")
	}
	return members, nil
}

// SaveMembership upserts a membership by (room, user).
func (t *Tx) SaveMembership(m *room.Membership) error {
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		UpdateAll: true,
	}).Create(m).Error
	if err != nil {
		return errors.Wrap(err, "failed to save membership")
	}
	return nil
}

// ResetReady clears the ready flag of every active membership in the room.
func (t *Tx) ResetReady(roomID string) error {
	err := t.db.Model(&room.Membership{}).
		Where("room_id = ? AND active = ?", roomID, true).
		Update("ready", false).Error
	if err != nil {
		return errors.Wrap(err, "failed to reset readiness")
	}
	return nil
}

// Touch records activity for a membership.
func (t *Tx) Touch(roomID, userID string, nowMs int64) error {
	res := t.db.Model(&room.Membership{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("last_seen_ms", nowMs)
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to touch membership")
	}
	if res.RowsAffected == 0 {
		return errors.Mark(errors.New("membership not found"), ErrNotFound)
	}
	return nil
}

// ListStaleMemberships returns active memberships last seen before cutoffMs.
func (t *Tx) ListStaleMemberships(cutoffMs int64) ([]room.Membership, error) {
	var members []room.Membership
	err := t.db.
		Where("active = ? AND last_seen_ms < ?", true, cutoffMs).
		Order("room_id ASC, user_id ASC").
		Find(&members).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stale memberships")
	}
	return members, nil
}

// CountActiveMemberships returns how many rooms the user is active in.
func (t *Tx) CountActiveMemberships(userID string) (int64, error) {
	var n int64
	err := t.db.Model(&room.Membership{}).
		Where("user_id = ? AND active = ?", userID, true).
		Count(&n).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count memberships")
	}
	return n, nil
}

// GetUser loads a user.
func (t *Tx) GetUser(id string) (*room.User, error) {
	var u room.User
	if err := t.db.First(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

// SaveUser upserts a user by id.
func (t *Tx) SaveUser(u *room.User) error {
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "active", "updated_at"}),
	}).Create(u).Error
	if err != nil {
		return errors.Wrap(err, "failed to save user")
	}
	return nil
}
