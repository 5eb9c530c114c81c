package db

import "time"

const (
	PollDraft  = "draft"
	PollActive = "active"
	PollClosed = "closed"
)

type Poll struct {
	ID              uint   `gorm:"primaryKey"`
	MeetingID       uint   `gorm:"index;not null"`
	Title           string `gorm:"size:200;not null"`
	Description     string `gorm:"size:1000;not null;default:''"`
	MultiSelect     bool   `gorm:"not null;default:false"`
	MaxSelections   int    `gorm:"not null;default:1"`
	Anonymous       bool   `gorm:"not null;default:false"`
	DurationSeconds int    `gorm:"not null"`
	Status          string `gorm:"size:16;not null;index"`
	StartedAt       *time.Time
	ClosedAt        *time.Time
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
	Options         []PollOption
}

// ExpiresAt is the instant voting ends. Zero when the poll has not started.
func (p Poll) ExpiresAt() time.Time {
	if p.StartedAt == nil {
		return time.Time{}
	}
	return p.StartedAt.Add(time.Duration(p.DurationSeconds) * time.Second)
}

type PollOption struct {
	ID        uint   `gorm:"primaryKey"`
	PollID    uint   `gorm:"index;not null"`
	Content   string `gorm:"size:200;not null"`
	SortOrder int    `gorm:"not null"`
}

type Submission struct {
	ID        uint      `gorm:"primaryKey"`
	PollID    uint      `gorm:"not null;uniqueIndex:idx_submissions_poll_voter"`
	VoterID   string    `gorm:"size:64;not null;uniqueIndex:idx_submissions_poll_voter"`
	VoterName string    `gorm:"size:64;not null;default:''"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Submission) TableName() string { return "poll_submissions" }

type Ballot struct {
	ID           uint      `gorm:"primaryKey"`
	PollID       uint      `gorm:"index;not null;uniqueIndex:idx_ballots_poll_voter_option"`
	SubmissionID uint      `gorm:"index;not null"`
	VoterID      string    `gorm:"size:64;not null;uniqueIndex:idx_ballots_poll_voter_option"`
	VoterName    string    `gorm:"size:64;not null;default:''"`
	OptionID     uint      `gorm:"index;not null;uniqueIndex:idx_ballots_poll_voter_option"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (Ballot) TableName() string { return "poll_ballots" }
