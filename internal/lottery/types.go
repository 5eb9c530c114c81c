package lottery

import (
	"time"

	"meeting-live/internal/db"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusPreparing Status = "preparing"
	StatusRolling   Status = "rolling"
	StatusResult    Status = "result"
)

// Broadcast event types.
const (
	EventPrepare    = "lottery.prepare"
	EventPoolUpdate = "lottery.poolUpdate"
	EventStart      = "lottery.start"
	EventResult     = "lottery.result"
	EventReset      = "lottery.reset"
)

type RoundConfig struct {
	Title       string `json:"title"`
	Count       int    `json:"count"`
	AllowRepeat bool   `json:"allowRepeat"`
}

// RoundRef names the round to prepare: an existing round id or an inline
// configuration for a new one.
type RoundRef struct {
	RoundID uint
	Config  *RoundConfig
}

type Participant struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Department string    `json:"department,omitempty"`
	AvatarURL  string    `json:"avatarUrl,omitempty"`
	HasWon     bool      `json:"hasWon"`
	JoinedAt   time.Time `json:"joinedAt"`
}

type Winner struct {
	ParticipantID string    `json:"participantId"`
	Name          string    `json:"name"`
	Department    string    `json:"department,omitempty"`
	WonAt         time.Time `json:"wonAt"`
}

type Round struct {
	ID          uint      `json:"id"`
	SessionID   uint      `json:"sessionId"`
	Title       string    `json:"title"`
	Count       int       `json:"count"`
	AllowRepeat bool      `json:"allowRepeat"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	Winners     []Winner  `json:"winners,omitempty"`
}

type Result struct {
	RoundID        uint     `json:"roundId"`
	Title          string   `json:"title"`
	Winners        []Winner `json:"winners"`
	RemainingCount int      `json:"remainingCount"`
}

// State is the resynchronization snapshot for a session.
type State struct {
	SessionID  uint          `json:"sessionId"`
	Status     Status        `json:"status"`
	Round      *Round        `json:"round,omitempty"`
	Pool       []Participant `json:"pool"`
	PoolSize   int           `json:"poolSize"`
	LastResult *Result       `json:"lastResult,omitempty"`
	InPool     bool          `json:"inPool"`
	HasWon     bool          `json:"hasWon"`
}

type prepareEvent struct {
	RoundID     uint   `json:"roundId"`
	Title       string `json:"title"`
	Count       int    `json:"count"`
	AllowRepeat bool   `json:"allowRepeat"`
	PoolSize    int    `json:"poolSize"`
}

type poolEvent struct {
	Count                int           `json:"count"`
	Participants         []Participant `json:"participants"`
	RemovedParticipantID string        `json:"removedParticipantId,omitempty"`
}

type auditPayload struct {
	RoundID       uint     `json:"round_id,omitempty"`
	ParticipantID string   `json:"participant_id,omitempty"`
	Winners       []string `json:"winners,omitempty"`
	PoolSize      int      `json:"pool_size"`
}

func toRound(record db.Round) Round {
	round := Round{
		ID:          record.ID,
		SessionID:   record.MeetingID,
		Title:       record.Title,
		Count:       record.Count,
		AllowRepeat: record.AllowRepeat,
		Status:      record.Status,
		CreatedAt:   record.CreatedAt,
	}
	for _, winner := range record.Winners {
		round.Winners = append(round.Winners, toWinner(winner))
	}
	return round
}

func toWinner(record db.Winner) Winner {
	return Winner{
		ParticipantID: record.ParticipantID,
		Name:          record.Name,
		Department:    record.Department,
		WonAt:         record.WonAt,
	}
}
