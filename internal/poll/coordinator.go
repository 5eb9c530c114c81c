// Package poll runs time-boxed polls: draft -> active -> closed, one
// submission per voter, with live tallies broadcast after every commit.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"slices"
	"strings"
	"time"

	"meeting-live/internal/apperr"
	"meeting-live/internal/db"
	"meeting-live/internal/directory"
	"meeting-live/internal/lock"
	"meeting-live/internal/notify"
	"meeting-live/internal/store"

	"github.com/google/uuid"
)

const (
	maxTitleLength  = 200
	maxOptionLength = 200
)

type Publisher interface {
	Publish(sessionID uint, eventType string, payload any) error
}

type Store interface {
	CreatePoll(ctx context.Context, poll *db.Poll) error
	GetPoll(ctx context.Context, pollID uint) (db.Poll, error)
	ListPolls(ctx context.Context, meetingID uint) ([]db.Poll, error)
	ActivePoll(ctx context.Context, meetingID uint) (*db.Poll, error)
	ListActivePolls(ctx context.Context) ([]db.Poll, error)
	StartPoll(ctx context.Context, pollID uint, startedAt time.Time) (bool, error)
	ClosePoll(ctx context.Context, pollID uint, closedAt time.Time) (bool, error)
	SubmitBallots(ctx context.Context, submission *db.Submission, optionIDs []uint) error
	ListBallots(ctx context.Context, pollID uint) ([]db.Ballot, error)
	HasVoted(ctx context.Context, pollID uint, voterID string) (bool, error)
	VotedPollIDs(ctx context.Context, voterID string, pollIDs []uint) (map[uint]bool, error)
	ListVoterPolls(ctx context.Context, voterID string, offset, limit int) ([]db.Poll, int64, error)
	AppendEvent(ctx context.Context, meetingID uint, eventType string, payload any) error
}

type Options struct {
	Directory      directory.Directory
	Sessions       directory.Sessions
	Notifier       notify.Sink
	Now            func() time.Time
	PersistTimeout time.Duration
	// LeadIn delays the opening of a started poll so screens can count down.
	LeadIn time.Duration
}

type Coordinator struct {
	store    Store
	pub      Publisher
	dir      directory.Directory
	sessions directory.Sessions
	notifier notify.Sink
	now      func() time.Time
	timeout  time.Duration
	leadIn   time.Duration
	locks    *lock.Keyed
}

func NewCoordinator(st Store, pub Publisher, opts Options) *Coordinator {
	c := &Coordinator{
		store:    st,
		pub:      pub,
		dir:      opts.Directory,
		sessions: opts.Sessions,
		notifier: opts.Notifier,
		now:      opts.Now,
		timeout:  opts.PersistTimeout,
		leadIn:   opts.LeadIn,
		locks:    lock.NewKeyed(),
	}
	if c.notifier == nil {
		c.notifier = notify.Nop{}
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	if c.timeout <= 0 {
		c.timeout = 3 * time.Second
	}
	if c.leadIn < 0 {
		c.leadIn = 0
	}
	return c
}

func (c *Coordinator) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// withPoll serializes submissions and transitions of one poll so broadcasts
// leave in commit order.
func (c *Coordinator) withPoll(ctx context.Context, pollID uint, fn func() error) error {
	if pollID == 0 {
		return apperr.Validation(apperr.CodeInvalidRequest, "poll id is required")
	}
	unlock, err := c.locks.Lock(ctx, fmt.Sprintf("poll:%d", pollID))
	if err != nil {
		return &apperr.Error{Kind: apperr.KindUnavailable, Code: apperr.CodeSessionBusy, Message: "poll is busy", Err: err}
	}
	defer unlock()
	return fn()
}

func (c *Coordinator) load(ctx context.Context, pollID uint) (db.Poll, error) {
	pctx, cancel := c.persistCtx(ctx)
	defer cancel()
	record, err := c.store.GetPoll(pctx, pollID)
	if errors.Is(err, store.ErrNotFound) {
		return db.Poll{}, apperr.NotFound(apperr.CodePollNotFound, "poll not found")
	}
	if err != nil {
		return db.Poll{}, apperr.Persistence("load poll", err)
	}
	return record, nil
}

func (c *Coordinator) results(ctx context.Context, record db.Poll) (Tally, error) {
	pctx, cancel := c.persistCtx(ctx)
	defer cancel()
	ballots, err := c.store.ListBallots(pctx, record.ID)
	if err != nil {
		return Tally{}, apperr.Persistence("load ballots", err)
	}
	return tally(record, ballots), nil
}

// Create stores a draft poll with its options in display order.
func (c *Coordinator) Create(ctx context.Context, sessionID uint, in CreateInput) (Poll, error) {
	record, err := buildPoll(sessionID, in)
	if err != nil {
		return Poll{}, err
	}
	if c.sessions != nil {
		pctx, cancel := c.persistCtx(ctx)
		ok, err := c.sessions.Exists(pctx, sessionID)
		cancel()
		if err != nil {
			return Poll{}, apperr.Persistence("check session", err)
		}
		if !ok {
			return Poll{}, apperr.NotFound(apperr.CodeSessionNotFound, "session not found")
		}
	}

	pctx, cancel := c.persistCtx(ctx)
	defer cancel()
	if err := c.store.CreatePoll(pctx, &record); err != nil {
		return Poll{}, apperr.Persistence("create poll", err)
	}
	log.Printf("poll created session_id=%d poll_id=%d options=%d multi=%t anonymous=%t", sessionID, record.ID, len(record.Options), record.MultiSelect, record.Anonymous)
	return toPoll(record), nil
}

func buildPoll(sessionID uint, in CreateInput) (db.Poll, error) {
	if sessionID == 0 {
		return db.Poll{}, apperr.Validation(apperr.CodeInvalidRequest, "session id is required")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return db.Poll{}, apperr.Validation(apperr.CodeInvalidRequest, "title is required")
	}
	if len(title) > maxTitleLength {
		return db.Poll{}, apperr.Validation(apperr.CodeInvalidRequest, fmt.Sprintf("title must be %d characters or fewer", maxTitleLength))
	}
	if len(in.Options) < minOptions || len(in.Options) > maxOptions {
		return db.Poll{}, apperr.Validation(apperr.CodeInvalidRequest, fmt.Sprintf("a poll needs between %d and %d options", minOptions, maxOptions))
	}
	options := make([]db.PollOption, 0, len(in.Options))
	for i, raw := range in.Options {
		content := strings.TrimSpace(raw)
		if content == "" {
			return db.Poll{}, apperr.Validation(apperr.CodeInvalidRequest, fmt.Sprintf("option %d is empty", i+1))
		}
		if len(content) > maxOptionLength {
			return db.Poll{}, apperr.Validation(apperr.CodeInvalidRequest, fmt.Sprintf("option %d is too long", i+1))
		}
		options = append(options, db.PollOption{Content: content, SortOrder: i})
	}

	maxSelections := 1
	if in.MultiSelect {
		maxSelections = in.MaxSelections
		if maxSelections == 0 {
			maxSelections = len(options)
		}
		if maxSelections < 1 || maxSelections > len(options) {
			return db.Poll{}, apperr.Validation(apperr.CodeInvalidRequest, fmt.Sprintf("maxSelections must be between 1 and %d", len(options)))
		}
	}
	if in.DurationSeconds < 1 {
		return db.Poll{}, apperr.Validation(apperr.CodeInvalidRequest, "duration must be at least 1 second")
	}

	return db.Poll{
		MeetingID:       sessionID,
		Title:           title,
		Description:     strings.TrimSpace(in.Description),
		MultiSelect:     in.MultiSelect,
		MaxSelections:   maxSelections,
		Anonymous:       in.Anonymous,
		DurationSeconds: in.DurationSeconds,
		Status:          db.PollDraft,
		Options:         options,
	}, nil
}

// Start opens a draft poll. Voting begins after the configured lead-in.
func (c *Coordinator) Start(ctx context.Context, pollID uint) (Poll, error) {
	var out Poll
	err := c.withPoll(ctx, pollID, func() error {
		record, err := c.load(ctx, pollID)
		if err != nil {
			return err
		}
		if record.Status != db.PollDraft {
			return invalidState("start", record.Status)
		}
		startedAt := c.now().Add(c.leadIn)

		pctx, cancel := c.persistCtx(ctx)
		defer cancel()
		ok, err := c.store.StartPoll(pctx, pollID, startedAt)
		if err != nil {
			return apperr.Persistence("start poll", err)
		}
		if !ok {
			return invalidState("start", db.PollActive)
		}
		record.Status = db.PollActive
		record.StartedAt = &startedAt

		wait := int(c.leadIn / time.Second)
		log.Printf("poll started session_id=%d poll_id=%d duration=%d wait=%d", record.MeetingID, pollID, record.DurationSeconds, wait)
		c.audit(ctx, record.MeetingID, "poll_started", auditPayload{PollID: pollID})
		c.publish(record.MeetingID, EventStart, startEvent{
			PollID:      pollID,
			Title:       record.Title,
			Duration:    record.DurationSeconds,
			StartTime:   startedAt,
			WaitSeconds: wait,
		})
		out = toPoll(record)
		return nil
	})
	return out, err
}

// Submit records one voter's selections. Each voter submits at most once.
func (c *Coordinator) Submit(ctx context.Context, pollID uint, in SubmitInput) (Tally, error) {
	voterID := strings.TrimSpace(in.VoterID)
	if voterID == "" {
		return Tally{}, apperr.Validation(apperr.CodeInvalidRequest, "voter id is required")
	}
	var out Tally
	err := c.withPoll(ctx, pollID, func() error {
		record, err := c.load(ctx, pollID)
		if err != nil {
			return err
		}
		if err := c.checkOpen(record); err != nil {
			return err
		}
		selected, err := checkSelection(record, in.OptionIDs)
		if err != nil {
			return err
		}

		pctx, cancel := c.persistCtx(ctx)
		defer cancel()
		profile, err := directory.Resolve(pctx, c.dir, directory.Profile{ID: voterID, Name: strings.TrimSpace(in.VoterName)})
		if err != nil {
			return &apperr.Error{Kind: apperr.KindUnavailable, Code: apperr.CodeDirectoryUnavailable, Message: "resolve voter", Err: err}
		}
		submission := db.Submission{
			PollID:    pollID,
			VoterID:   voterID,
			VoterName: profile.Name,
			CreatedAt: c.now(),
		}
		err = c.store.SubmitBallots(pctx, &submission, selected)
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return apperr.Conflict(apperr.CodeAlreadyVoted, "voter already submitted")
		case errors.Is(err, store.ErrConflict):
			return apperr.Conflict(apperr.CodePollNotActive, "poll is not active")
		case err != nil:
			return apperr.Persistence("save ballots", err)
		}

		out, err = c.results(ctx, record)
		if err != nil {
			// The ballot is stored; the next update or close carries it.
			log.Printf("poll tally failed poll_id=%d error=%v", pollID, err)
			out = Tally{PollID: pollID, Results: []OptionResult{}}
			return nil
		}
		c.audit(ctx, record.MeetingID, "poll_voted", auditPayload{PollID: pollID, VoterID: voterID, Options: selected})
		c.publish(record.MeetingID, EventUpdate, out)
		return nil
	})
	return out, err
}

func (c *Coordinator) checkOpen(record db.Poll) error {
	if record.Status != db.PollActive {
		return apperr.Conflict(apperr.CodePollNotActive, "poll is not active")
	}
	now := c.now()
	if record.StartedAt != nil && now.Before(*record.StartedAt) {
		return apperr.Conflict(apperr.CodePollNotActive, "poll has not opened yet")
	}
	if !now.Before(record.ExpiresAt()) {
		return apperr.Conflict(apperr.CodePollExpired, "poll has expired")
	}
	return nil
}

// checkSelection collapses duplicate option ids and validates the rest.
func checkSelection(record db.Poll, optionIDs []uint) ([]uint, error) {
	if len(optionIDs) == 0 {
		return nil, apperr.Validation(apperr.CodeNoSelection, "select at least one option")
	}
	known := make(map[uint]struct{}, len(record.Options))
	for _, option := range record.Options {
		known[option.ID] = struct{}{}
	}
	selected := make([]uint, 0, len(optionIDs))
	for _, id := range optionIDs {
		if _, ok := known[id]; !ok {
			return nil, apperr.Validation(apperr.CodeUnknownOption, fmt.Sprintf("option %d does not belong to this poll", id))
		}
		if !slices.Contains(selected, id) {
			selected = append(selected, id)
		}
	}
	if len(selected) > record.MaxSelections {
		return nil, apperr.Validation(apperr.CodeTooManySelections, fmt.Sprintf("select at most %d options", record.MaxSelections))
	}
	return selected, nil
}

// Close ends an active poll. Closing an already closed poll is a no-op and
// reports closed=false; only the call that wins the transition broadcasts.
func (c *Coordinator) Close(ctx context.Context, pollID uint) (Tally, bool, error) {
	var out Tally
	var closed bool
	var sessionID uint
	err := c.withPoll(ctx, pollID, func() error {
		record, err := c.load(ctx, pollID)
		if err != nil {
			return err
		}
		switch record.Status {
		case db.PollDraft:
			return invalidState("close", record.Status)
		case db.PollClosed:
			out, err = c.results(ctx, record)
			return err
		}

		closedAt := c.now()
		pctx, cancel := c.persistCtx(ctx)
		defer cancel()
		ok, err := c.store.ClosePoll(pctx, pollID, closedAt)
		if err != nil {
			return apperr.Persistence("close poll", err)
		}
		if !ok {
			out, err = c.results(ctx, record)
			return err
		}
		out, err = c.results(ctx, record)
		if err != nil {
			// The close is committed and must still be announced.
			log.Printf("poll closed without tally poll_id=%d error=%v", pollID, err)
			out = Tally{PollID: pollID, Results: []OptionResult{}}
		}
		closed = true
		sessionID = record.MeetingID
		log.Printf("poll closed session_id=%d poll_id=%d voters=%d", record.MeetingID, pollID, out.TotalVoters)
		c.audit(ctx, record.MeetingID, "poll_closed", auditPayload{PollID: pollID, TotalVoters: out.TotalVoters})
		c.publish(record.MeetingID, EventClose, out)
		return nil
	})
	if err != nil {
		return Tally{}, false, err
	}
	if closed {
		c.notify(ctx, sessionID, EventClose, out)
	}
	return out, closed, nil
}

// State is the read path for participants and screens.
func (c *Coordinator) State(ctx context.Context, pollID uint, voterID string) (State, error) {
	record, err := c.load(ctx, pollID)
	if err != nil {
		return State{}, err
	}
	results, err := c.results(ctx, record)
	if err != nil {
		return State{}, err
	}
	state := State{
		Poll:    toPoll(record),
		Results: results,
	}
	if record.Status == db.PollActive && record.StartedAt != nil {
		now := c.now()
		state.RemainingSeconds = ceilSeconds(record.ExpiresAt().Sub(now))
		state.WaitSeconds = ceilSeconds(record.StartedAt.Sub(now))
	}
	if voterID = strings.TrimSpace(voterID); voterID != "" {
		pctx, cancel := c.persistCtx(ctx)
		defer cancel()
		state.HasVoted, err = c.store.HasVoted(pctx, pollID, voterID)
		if err != nil {
			return State{}, apperr.Persistence("check vote", err)
		}
	}
	return state, nil
}

// Results returns the current tally.
func (c *Coordinator) Results(ctx context.Context, pollID uint) (Tally, error) {
	record, err := c.load(ctx, pollID)
	if err != nil {
		return Tally{}, err
	}
	return c.results(ctx, record)
}

// ListBySession lists a session's polls, newest first. With a voter id each
// entry also says whether that voter has submitted.
func (c *Coordinator) ListBySession(ctx context.Context, sessionID uint, voterID string) ([]Listing, error) {
	pctx, cancel := c.persistCtx(ctx)
	defer cancel()
	records, err := c.store.ListPolls(pctx, sessionID)
	if err != nil {
		return nil, apperr.Persistence("list polls", err)
	}
	voted := map[uint]bool{}
	if voterID = strings.TrimSpace(voterID); voterID != "" && len(records) > 0 {
		ids := make([]uint, 0, len(records))
		for _, record := range records {
			ids = append(ids, record.ID)
		}
		voted, err = c.store.VotedPollIDs(pctx, voterID, ids)
		if err != nil {
			return nil, apperr.Persistence("check votes", err)
		}
	}
	now := c.now()
	listings := make([]Listing, 0, len(records))
	for _, record := range records {
		listings = append(listings, c.listing(record, voted[record.ID], now))
	}
	return listings, nil
}

// VoterHistory pages through the polls a voter took part in, newest first.
func (c *Coordinator) VoterHistory(ctx context.Context, voterID string, offset, limit int) (HistoryPage, error) {
	voterID = strings.TrimSpace(voterID)
	if voterID == "" {
		return HistoryPage{}, apperr.Validation(apperr.CodeInvalidRequest, "voter id is required")
	}
	if offset < 0 {
		return HistoryPage{}, apperr.Validation(apperr.CodeInvalidRequest, "offset cannot be negative")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	pctx, cancel := c.persistCtx(ctx)
	defer cancel()
	records, total, err := c.store.ListVoterPolls(pctx, voterID, offset, limit)
	if err != nil {
		return HistoryPage{}, apperr.Persistence("list voter polls", err)
	}
	page := HistoryPage{
		Polls:  make([]Listing, 0, len(records)),
		Total:  total,
		Offset: offset,
		Limit:  limit,
	}
	now := c.now()
	for _, record := range records {
		page.Polls = append(page.Polls, c.listing(record, true, now))
	}
	return page, nil
}

func (c *Coordinator) listing(record db.Poll, hasVoted bool, now time.Time) Listing {
	out := Listing{Poll: toPoll(record), HasVoted: hasVoted}
	if record.Status == db.PollActive && record.StartedAt != nil {
		out.RemainingSeconds = ceilSeconds(record.ExpiresAt().Sub(now))
	}
	return out
}

// ActiveForSession returns the session's running poll, or nil.
func (c *Coordinator) ActiveForSession(ctx context.Context, sessionID uint, voterID string) (*State, error) {
	pctx, cancel := c.persistCtx(ctx)
	record, err := c.store.ActivePoll(pctx, sessionID)
	cancel()
	if err != nil {
		return nil, apperr.Persistence("load active poll", err)
	}
	if record == nil {
		return nil, nil
	}
	state, err := c.State(ctx, record.ID, voterID)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func (c *Coordinator) publish(sessionID uint, eventType string, payload any) {
	if c.pub == nil {
		return
	}
	if err := c.pub.Publish(sessionID, eventType, payload); err != nil {
		log.Printf("poll publish failed session_id=%d type=%s error=%v", sessionID, eventType, err)
	}
}

func (c *Coordinator) audit(ctx context.Context, sessionID uint, eventType string, payload auditPayload) {
	pctx, cancel := c.persistCtx(ctx)
	defer cancel()
	if err := c.store.AppendEvent(pctx, sessionID, eventType, payload); err != nil {
		log.Printf("poll audit failed session_id=%d type=%s error=%v", sessionID, eventType, err)
	}
}

func (c *Coordinator) notify(ctx context.Context, sessionID uint, eventType string, payload any) {
	err := c.notifier.Notify(ctx, notify.Message{
		ID:         uuid.NewString(),
		Type:       eventType,
		SessionID:  sessionID,
		Payload:    payload,
		OccurredAt: c.now(),
	})
	if err != nil {
		log.Printf("poll notify failed session_id=%d type=%s error=%v", sessionID, eventType, err)
	}
}

func invalidState(op, status string) error {
	return apperr.Conflict(apperr.CodeInvalidState, fmt.Sprintf("cannot %s a %s poll", op, status))
}
