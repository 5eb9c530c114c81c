package db

import "time"

// Meeting rows are owned by the meeting service. This module only reads them.
type Meeting struct {
	ID        uint       `gorm:"primaryKey"`
	Title     string     `gorm:"size:200;not null"`
	Status    string     `gorm:"size:32;not null;default:'scheduled'"`
	StartTime *time.Time
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type DirectoryEntry struct {
	ParticipantID string    `gorm:"primaryKey;size:64"`
	Name          string    `gorm:"size:64;not null"`
	Department    string    `gorm:"size:64;not null;default:''"`
	AvatarURL     string    `gorm:"size:255;not null;default:''"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}
