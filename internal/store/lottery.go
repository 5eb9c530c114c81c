package store

import (
	"context"
	"errors"

	"meeting-live/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateRound inserts a round. A round created directly as active also becomes
// the meeting's current round in the same transaction.
func (s *Store) CreateRound(ctx context.Context, round *db.Round) error {
	if round.Status == "" {
		round.Status = db.RoundPending
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(round).Error; err != nil {
			return err
		}
		if round.Status != db.RoundActive {
			return nil
		}
		return s.markSession(tx, round.MeetingID, db.SessionPreparing, &round.ID)
	})
	return translate(err)
}

func (s *Store) GetRound(ctx context.Context, roundID uint) (db.Round, error) {
	var round db.Round
	err := s.db.WithContext(ctx).
		Preload("Winners", func(tx *gorm.DB) *gorm.DB { return tx.Order("id asc") }).
		First(&round, roundID).Error
	return round, translate(err)
}

// CurrentRound returns the round the meeting's lottery is on, or nil when the
// lottery is idle or has never been prepared.
func (s *Store) CurrentRound(ctx context.Context, meetingID uint) (*db.Round, error) {
	var state db.LotterySession
	err := s.db.WithContext(ctx).Where("meeting_id = ?", meetingID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if state.Status == db.SessionIdle || state.RoundID == nil {
		return nil, nil
	}
	var round db.Round
	err = s.db.WithContext(ctx).
		Preload("Winners", func(tx *gorm.DB) *gorm.DB { return tx.Order("id asc") }).
		First(&round, *state.RoundID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &round, nil
}

func (s *Store) markSession(tx *gorm.DB, meetingID uint, status string, roundID *uint) error {
	row := db.LotterySession{
		MeetingID: meetingID,
		Status:    status,
		RoundID:   roundID,
		UpdatedAt: s.now(),
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "meeting_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "round_id", "updated_at"}),
	}).Create(&row).Error
}

func (s *Store) ListRounds(ctx context.Context, meetingID uint) ([]db.Round, error) {
	var rounds []db.Round
	err := s.db.WithContext(ctx).
		Preload("Winners", func(tx *gorm.DB) *gorm.DB { return tx.Order("id asc") }).
		Where("meeting_id = ?", meetingID).
		Order("id desc").
		Find(&rounds).Error
	return rounds, translate(err)
}

// ActivateRound moves a pending round to active. Activating an already active
// round is allowed so a recovered session can be prepared again.
func (s *Store) ActivateRound(ctx context.Context, roundID uint) (db.Round, error) {
	var round db.Round
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.Round{}).
			Where("id = ? AND status = ?", roundID, db.RoundPending).
			Updates(map[string]any{"status": db.RoundActive, "updated_at": s.now()})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.First(&round, roundID).Error; err != nil {
			return err
		}
		if round.Status != db.RoundActive {
			return ErrConflict
		}
		return s.markSession(tx, round.MeetingID, db.SessionPreparing, &round.ID)
	})
	return round, translate(err)
}

// DeletePendingRound removes a round that was configured but never prepared.
func (s *Store) DeletePendingRound(ctx context.Context, meetingID, roundID uint) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND meeting_id = ? AND status = ?", roundID, meetingID, db.RoundPending).
		Delete(&db.Round{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&db.Round{}).
		Where("id = ? AND meeting_id = ?", roundID, meetingID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// FinishRound commits a draw: the round flips active -> finished, winners are
// appended and their pool entries flagged. The whole draw is rejected with
// ErrConflict when the round is no longer active.
func (s *Store) FinishRound(ctx context.Context, round db.Round, winners []db.Winner) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		res := tx.Model(&db.Round{}).
			Where("id = ? AND status = ?", round.ID, db.RoundActive).
			Updates(map[string]any{"status": db.RoundFinished, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		if err := s.markSession(tx, round.MeetingID, db.SessionResult, &round.ID); err != nil {
			return err
		}
		if len(winners) == 0 {
			return nil
		}
		if err := tx.Create(&winners).Error; err != nil {
			return err
		}
		ids := make([]string, 0, len(winners))
		for _, winner := range winners {
			ids = append(ids, winner.ParticipantID)
		}
		return tx.Model(&db.PoolEntry{}).
			Where("meeting_id = ? AND participant_id IN ?", round.MeetingID, ids).
			Updates(map[string]any{
				"has_won":          true,
				"winning_round_id": round.ID,
				"updated_at":       now,
			}).Error
	})
	return translate(err)
}

func (s *Store) LoadPool(ctx context.Context, meetingID uint) ([]db.PoolEntry, error) {
	var entries []db.PoolEntry
	err := s.db.WithContext(ctx).
		Where("meeting_id = ? AND status = ?", meetingID, db.PoolJoined).
		Order("joined_at asc, participant_id asc").
		Find(&entries).Error
	return entries, translate(err)
}

func (s *Store) LoadWinners(ctx context.Context, meetingID uint) ([]db.Winner, error) {
	var winners []db.Winner
	err := s.db.WithContext(ctx).
		Where("meeting_id = ?", meetingID).
		Order("id asc").
		Find(&winners).Error
	return winners, translate(err)
}

// UpsertPoolEntry inserts or refreshes a pool entry. has_won and joined_at are
// left untouched on conflict.
func (s *Store) UpsertPoolEntry(ctx context.Context, entry *db.PoolEntry) error {
	now := s.now()
	if entry.JoinedAt.IsZero() {
		entry.JoinedAt = now
	}
	entry.UpdatedAt = now
	entry.Status = db.PoolJoined
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "meeting_id"}, {Name: "participant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "department", "avatar_url", "status", "updated_at"}),
		}).
		Create(entry).Error
	return translate(err)
}

func (s *Store) LeavePool(ctx context.Context, meetingID uint, participantID string) error {
	res := s.db.WithContext(ctx).Model(&db.PoolEntry{}).
		Where("meeting_id = ? AND participant_id = ? AND status = ?", meetingID, participantID, db.PoolJoined).
		Updates(map[string]any{"status": db.PoolLeft, "updated_at": s.now()})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetSession empties the pool, returns an abandoned active round to pending
// and marks the lottery idle. Winners and finished rounds stay as history.
func (s *Store) ResetSession(ctx context.Context, meetingID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("meeting_id = ?", meetingID).Delete(&db.PoolEntry{}).Error; err != nil {
			return err
		}
		err := tx.Model(&db.Round{}).
			Where("meeting_id = ? AND status = ?", meetingID, db.RoundActive).
			Updates(map[string]any{"status": db.RoundPending, "updated_at": s.now()}).Error
		if err != nil {
			return err
		}
		return s.markSession(tx, meetingID, db.SessionIdle, nil)
	})
	return translate(err)
}
