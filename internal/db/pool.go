package db

import "time"

const (
	PoolJoined = "joined"
	PoolLeft   = "left"
)

type PoolEntry struct {
	MeetingID      uint      `gorm:"primaryKey;autoIncrement:false"`
	ParticipantID  string    `gorm:"primaryKey;size:64"`
	Name           string    `gorm:"size:64;not null"`
	Department     string    `gorm:"size:64;not null;default:''"`
	AvatarURL      string    `gorm:"size:255;not null;default:''"`
	Status         string    `gorm:"size:16;not null;index"`
	HasWon         bool      `gorm:"not null;default:false"`
	WinningRoundID *uint     `gorm:"index"`
	JoinedAt       time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (PoolEntry) TableName() string { return "lottery_pool_entries" }
