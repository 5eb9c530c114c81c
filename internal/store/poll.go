package store

import (
	"context"
	"errors"
	"time"

	"meeting-live/internal/db"

	"gorm.io/gorm"
)

func orderedOptions(tx *gorm.DB) *gorm.DB {
	return tx.Order("sort_order asc, id asc")
}

func (s *Store) CreatePoll(ctx context.Context, poll *db.Poll) error {
	if poll.Status == "" {
		poll.Status = db.PollDraft
	}
	return translate(s.db.WithContext(ctx).Create(poll).Error)
}

func (s *Store) GetPoll(ctx context.Context, pollID uint) (db.Poll, error) {
	var poll db.Poll
	err := s.db.WithContext(ctx).
		Preload("Options", orderedOptions).
		First(&poll, pollID).Error
	return poll, translate(err)
}

func (s *Store) ListPolls(ctx context.Context, meetingID uint) ([]db.Poll, error) {
	var polls []db.Poll
	err := s.db.WithContext(ctx).
		Preload("Options", orderedOptions).
		Where("meeting_id = ?", meetingID).
		Order("id desc").
		Find(&polls).Error
	return polls, translate(err)
}

// ActivePoll returns the most recently started active poll of a meeting, or nil.
func (s *Store) ActivePoll(ctx context.Context, meetingID uint) (*db.Poll, error) {
	var poll db.Poll
	err := s.db.WithContext(ctx).
		Preload("Options", orderedOptions).
		Where("meeting_id = ? AND status = ?", meetingID, db.PollActive).
		Order("started_at desc, id desc").
		First(&poll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &poll, nil
}

func (s *Store) ListActivePolls(ctx context.Context) ([]db.Poll, error) {
	var polls []db.Poll
	err := s.db.WithContext(ctx).
		Where("status = ?", db.PollActive).
		Order("id asc").
		Find(&polls).Error
	return polls, translate(err)
}

// StartPoll flips draft -> active. Returns false when the poll was not in draft.
func (s *Store) StartPoll(ctx context.Context, pollID uint, startedAt time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&db.Poll{}).
		Where("id = ? AND status = ?", pollID, db.PollDraft).
		Updates(map[string]any{
			"status":     db.PollActive,
			"started_at": startedAt,
			"updated_at": s.now(),
		})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ClosePoll flips active -> closed. Returns false when the poll was not active,
// which is how a second close observes that it lost the race.
func (s *Store) ClosePoll(ctx context.Context, pollID uint, closedAt time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&db.Poll{}).
		Where("id = ? AND status = ?", pollID, db.PollActive).
		Updates(map[string]any{
			"status":     db.PollClosed,
			"closed_at":  closedAt,
			"updated_at": s.now(),
		})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SubmitBallots stores one submission and its ballot rows atomically. A second
// submission by the same voter fails with ErrDuplicate; a poll that is no
// longer active fails with ErrConflict.
func (s *Store) SubmitBallots(ctx context.Context, submission *db.Submission, optionIDs []uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&db.Poll{}).
			Where("id = ? AND status = ?", submission.PollID, db.PollActive).
			Count(&active).Error; err != nil {
			return err
		}
		if active == 0 {
			return ErrConflict
		}
		if submission.CreatedAt.IsZero() {
			submission.CreatedAt = s.now()
		}
		if err := tx.Create(submission).Error; err != nil {
			return err
		}
		ballots := make([]db.Ballot, 0, len(optionIDs))
		for _, optionID := range optionIDs {
			ballots = append(ballots, db.Ballot{
				PollID:       submission.PollID,
				SubmissionID: submission.ID,
				VoterID:      submission.VoterID,
				VoterName:    submission.VoterName,
				OptionID:     optionID,
				CreatedAt:    submission.CreatedAt,
			})
		}
		return tx.Create(&ballots).Error
	})
	return translate(err)
}

func (s *Store) ListBallots(ctx context.Context, pollID uint) ([]db.Ballot, error) {
	var ballots []db.Ballot
	err := s.db.WithContext(ctx).
		Where("poll_id = ?", pollID).
		Order("id asc").
		Find(&ballots).Error
	return ballots, translate(err)
}

// VotedPollIDs reports which of pollIDs the voter has submitted to.
func (s *Store) VotedPollIDs(ctx context.Context, voterID string, pollIDs []uint) (map[uint]bool, error) {
	voted := make(map[uint]bool, len(pollIDs))
	if len(pollIDs) == 0 {
		return voted, nil
	}
	var ids []uint
	err := s.db.WithContext(ctx).Model(&db.Submission{}).
		Where("voter_id = ? AND poll_id IN ?", voterID, pollIDs).
		Pluck("poll_id", &ids).Error
	if err != nil {
		return nil, translate(err)
	}
	for _, id := range ids {
		voted[id] = true
	}
	return voted, nil
}

// ListVoterPolls pages through the polls a voter submitted to, newest poll
// first, and returns the total count alongside the page.
func (s *Store) ListVoterPolls(ctx context.Context, voterID string, offset, limit int) ([]db.Poll, int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&db.Submission{}).
		Where("voter_id = ?", voterID).
		Count(&total).Error
	if err != nil {
		return nil, 0, translate(err)
	}
	var polls []db.Poll
	if total == 0 {
		return polls, 0, nil
	}
	err = s.db.WithContext(ctx).
		Preload("Options", orderedOptions).
		Joins("JOIN poll_submissions ON poll_submissions.poll_id = polls.id").
		Where("poll_submissions.voter_id = ?", voterID).
		Order("polls.created_at desc, polls.id desc").
		Offset(offset).
		Limit(limit).
		Find(&polls).Error
	return polls, total, translate(err)
}

func (s *Store) HasVoted(ctx context.Context, pollID uint, voterID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&db.Submission{}).
		Where("poll_id = ? AND voter_id = ?", pollID, voterID).
		Count(&count).Error
	return count > 0, translate(err)
}
