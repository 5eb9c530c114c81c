// Package store is the gorm-backed persistence adapter for lottery and poll
// state. Status transitions are conditional updates so concurrent callers
// cannot both win the same transition.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"meeting-live/internal/db"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict means a conditional status update matched no row.
	ErrConflict = errors.New("status precondition failed")
)

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(conn *gorm.DB) *Store {
	return &Store{
		db: conn,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// AppendEvent records a committed transition in the audit log.
func (s *Store) AppendEvent(ctx context.Context, meetingID uint, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	record := db.Event{
		MeetingID: meetingID,
		Type:      eventType,
		Payload:   datatypes.JSON(data),
		CreatedAt: s.now(),
	}
	return translate(s.db.WithContext(ctx).Create(&record).Error)
}

func (s *Store) ListEvents(ctx context.Context, meetingID uint) ([]db.Event, error) {
	var events []db.Event
	err := s.db.WithContext(ctx).
		Where("meeting_id = ?", meetingID).
		Order("id asc").
		Find(&events).Error
	return events, translate(err)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
