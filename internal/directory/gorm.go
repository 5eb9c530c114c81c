package directory

import (
	"context"
	"errors"

	"meeting-live/internal/db"

	"gorm.io/gorm"
)

// DB reads profiles from directory_entries and meetings from meetings.
type DB struct {
	conn *gorm.DB
}

func NewDB(conn *gorm.DB) *DB {
	return &DB{conn: conn}
}

func (d *DB) Lookup(ctx context.Context, participantID string) (Profile, error) {
	var entry db.DirectoryEntry
	err := d.conn.WithContext(ctx).
		Where("participant_id = ?", participantID).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrUnknownParticipant
	}
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		ID:         entry.ParticipantID,
		Name:       entry.Name,
		Department: entry.Department,
		AvatarURL:  entry.AvatarURL,
	}, nil
}

func (d *DB) Exists(ctx context.Context, sessionID uint) (bool, error) {
	var count int64
	err := d.conn.WithContext(ctx).
		Model(&db.Meeting{}).
		Where("id = ?", sessionID).
		Count(&count).Error
	return count > 0, err
}
