package db

import "time"

const (
	RoundPending  = "pending"
	RoundActive   = "active"
	RoundFinished = "finished"
)

type Round struct {
	ID          uint      `gorm:"primaryKey"`
	MeetingID   uint      `gorm:"index;not null"`
	Title       string    `gorm:"size:200;not null"`
	Count       int       `gorm:"not null;default:1"`
	AllowRepeat bool      `gorm:"not null;default:false"`
	Status      string    `gorm:"size:32;not null;index"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
	Winners     []Winner
}

func (Round) TableName() string { return "lottery_rounds" }

type Winner struct {
	ID            uint      `gorm:"primaryKey"`
	RoundID       uint      `gorm:"index;not null;uniqueIndex:idx_winners_round_participant"`
	MeetingID     uint      `gorm:"index;not null"`
	ParticipantID string    `gorm:"size:64;not null;uniqueIndex:idx_winners_round_participant"`
	Name          string    `gorm:"size:64;not null"`
	Department    string    `gorm:"size:64;not null;default:''"`
	WonAt         time.Time `gorm:"not null"`
}

func (Winner) TableName() string { return "lottery_winners" }

// Lottery session statuses as persisted. Rolling is never stored.
const (
	SessionIdle      = "idle"
	SessionPreparing = "preparing"
	SessionResult    = "result"
)

// LotterySession records which round a meeting's lottery is on so a reset
// survives a restart.
type LotterySession struct {
	MeetingID uint      `gorm:"primaryKey;autoIncrement:false"`
	Status    string    `gorm:"size:16;not null"`
	RoundID   *uint     `gorm:"index"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (LotterySession) TableName() string { return "lottery_sessions" }
