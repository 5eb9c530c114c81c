package poll

import (
	"time"

	"meeting-live/internal/db"
)

// Broadcast event types.
const (
	EventStart  = "poll.start"
	EventUpdate = "poll.update"
	EventClose  = "poll.close"
)

const (
	minOptions = 2
	maxOptions = 20

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type CreateInput struct {
	Title           string
	Description     string
	Options         []string
	MultiSelect     bool
	MaxSelections   int
	Anonymous       bool
	DurationSeconds int
}

type SubmitInput struct {
	VoterID   string
	VoterName string
	OptionIDs []uint
}

type Option struct {
	ID        uint   `json:"id"`
	Content   string `json:"content"`
	SortOrder int    `json:"sortOrder"`
}

type Poll struct {
	ID              uint       `json:"id"`
	SessionID       uint       `json:"sessionId"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	MultiSelect     bool       `json:"multiSelect"`
	MaxSelections   int        `json:"maxSelections"`
	Anonymous       bool       `json:"anonymous"`
	DurationSeconds int        `json:"duration"`
	Status          string     `json:"status"`
	StartedAt       *time.Time `json:"startTime,omitempty"`
	ClosedAt        *time.Time `json:"closedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	Options         []Option   `json:"options"`
}

type OptionResult struct {
	OptionID uint     `json:"optionId"`
	Content  string   `json:"content"`
	Count    int      `json:"count"`
	Percent  float64  `json:"percent"`
	Voters   []string `json:"voters,omitempty"`
}

// Tally is the payload of poll.update and poll.close.
type Tally struct {
	PollID      uint           `json:"pollId"`
	TotalVoters int            `json:"totalVoters"`
	Results     []OptionResult `json:"results"`
}

type State struct {
	Poll             Poll  `json:"poll"`
	RemainingSeconds int   `json:"remainingSeconds"`
	WaitSeconds      int   `json:"waitSeconds"`
	HasVoted         bool  `json:"hasVoted"`
	Results          Tally `json:"results"`
}

// Listing is a poll as seen from one voter's list or history.
type Listing struct {
	Poll
	RemainingSeconds int  `json:"remainingSeconds"`
	HasVoted         bool `json:"hasVoted"`
}

type HistoryPage struct {
	Polls  []Listing `json:"polls"`
	Total  int64     `json:"total"`
	Offset int       `json:"offset"`
	Limit  int       `json:"limit"`
}

type startEvent struct {
	PollID      uint      `json:"pollId"`
	Title       string    `json:"title"`
	Duration    int       `json:"duration"`
	StartTime   time.Time `json:"startTime"`
	WaitSeconds int       `json:"waitSeconds"`
}

type auditPayload struct {
	PollID      uint   `json:"poll_id"`
	VoterID     string `json:"voter_id,omitempty"`
	Options     []uint `json:"options,omitempty"`
	TotalVoters int    `json:"total_voters,omitempty"`
}

func toPoll(record db.Poll) Poll {
	poll := Poll{
		ID:              record.ID,
		SessionID:       record.MeetingID,
		Title:           record.Title,
		Description:     record.Description,
		MultiSelect:     record.MultiSelect,
		MaxSelections:   record.MaxSelections,
		Anonymous:       record.Anonymous,
		DurationSeconds: record.DurationSeconds,
		Status:          record.Status,
		StartedAt:       record.StartedAt,
		ClosedAt:        record.ClosedAt,
		CreatedAt:       record.CreatedAt,
		Options:         make([]Option, 0, len(record.Options)),
	}
	for _, option := range record.Options {
		poll.Options = append(poll.Options, Option{ID: option.ID, Content: option.Content, SortOrder: option.SortOrder})
	}
	return poll
}
