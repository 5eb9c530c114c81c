// Package lottery runs the per-session prize draw state machine:
// idle -> preparing -> rolling -> result, with reset back to idle.
package lottery

import (
	"context"
	"errors"
	"fmt"
	"log"
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
	maxTitleLength   = 200
	maxRoundCount    = 1000
	maxProfileLength = 64
)

type Publisher interface {
	Publish(sessionID uint, eventType string, payload any) error
}

type Store interface {
	CreateRound(ctx context.Context, round *db.Round) error
	GetRound(ctx context.Context, roundID uint) (db.Round, error)
	CurrentRound(ctx context.Context, meetingID uint) (*db.Round, error)
	ListRounds(ctx context.Context, meetingID uint) ([]db.Round, error)
	ActivateRound(ctx context.Context, roundID uint) (db.Round, error)
	DeletePendingRound(ctx context.Context, meetingID, roundID uint) error
	FinishRound(ctx context.Context, round db.Round, winners []db.Winner) error
	LoadPool(ctx context.Context, meetingID uint) ([]db.PoolEntry, error)
	LoadWinners(ctx context.Context, meetingID uint) ([]db.Winner, error)
	UpsertPoolEntry(ctx context.Context, entry *db.PoolEntry) error
	LeavePool(ctx context.Context, meetingID uint, participantID string) error
	ResetSession(ctx context.Context, meetingID uint) error
	AppendEvent(ctx context.Context, meetingID uint, eventType string, payload any) error
}

type Options struct {
	Directory      directory.Directory
	Sessions       directory.Sessions
	Notifier       notify.Sink
	Rand           Rand
	Now            func() time.Time
	PersistTimeout time.Duration
	// IdleTTL is how long an untouched session stays in memory. Zero disables eviction.
	IdleTTL time.Duration
}

type Coordinator struct {
	store    Store
	pub      Publisher
	dir      directory.Directory
	sessions directory.Sessions
	notifier notify.Sink
	rand     Rand
	now      func() time.Time
	timeout  time.Duration
	idleTTL  time.Duration
	locks    *lock.Keyed
	registry *registry
}

func NewCoordinator(st Store, pub Publisher, opts Options) *Coordinator {
	c := &Coordinator{
		store:    st,
		pub:      pub,
		dir:      opts.Directory,
		sessions: opts.Sessions,
		notifier: opts.Notifier,
		rand:     opts.Rand,
		now:      opts.Now,
		timeout:  opts.PersistTimeout,
		idleTTL:  opts.IdleTTL,
		locks:    lock.NewKeyed(),
	}
	if c.notifier == nil {
		c.notifier = notify.Nop{}
	}
	if c.rand == nil {
		c.rand = globalRand{}
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	if c.timeout <= 0 {
		c.timeout = 3 * time.Second
	}
	c.registry = newRegistry(c.loadSession)
	return c
}

func (c *Coordinator) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// withSession runs fn with the session lock held. All reads and writes of
// session state go through here.
func (c *Coordinator) withSession(ctx context.Context, sessionID uint, fn func(s *session) error) error {
	if sessionID == 0 {
		return apperr.Validation(apperr.CodeInvalidRequest, "session id is required")
	}
	unlock, err := c.locks.Lock(ctx, fmt.Sprintf("lottery:%d", sessionID))
	if err != nil {
		return &apperr.Error{Kind: apperr.KindUnavailable, Code: apperr.CodeSessionBusy, Message: "session is busy", Err: err}
	}
	defer unlock()
	s, err := c.registry.get(ctx, sessionID)
	if err != nil {
		return apperr.Persistence("load lottery session", err)
	}
	s.touched = c.now()
	return fn(s)
}

// CreateRound stores a pending round configuration for later preparation.
func (c *Coordinator) CreateRound(ctx context.Context, sessionID uint, cfg RoundConfig) (Round, error) {
	record, err := c.createRound(ctx, sessionID, cfg, db.RoundPending)
	if err != nil {
		return Round{}, err
	}
	log.Printf("lottery round created session_id=%d round_id=%d count=%d allow_repeat=%t", sessionID, record.ID, record.Count, record.AllowRepeat)
	return toRound(record), nil
}

func (c *Coordinator) createRound(ctx context.Context, sessionID uint, cfg RoundConfig, status string) (db.Round, error) {
	title := strings.TrimSpace(cfg.Title)
	if title == "" {
		return db.Round{}, apperr.Validation(apperr.CodeInvalidRequest, "title is required")
	}
	if len(title) > maxTitleLength {
		return db.Round{}, apperr.Validation(apperr.CodeInvalidRequest, fmt.Sprintf("title must be %d characters or fewer", maxTitleLength))
	}
	if cfg.Count < 1 || cfg.Count > maxRoundCount {
		return db.Round{}, apperr.Validation(apperr.CodeInvalidRequest, fmt.Sprintf("count must be between 1 and %d", maxRoundCount))
	}
	if err := c.requireSession(ctx, sessionID); err != nil {
		return db.Round{}, err
	}
	pctx, cancel := c.persistCtx(ctx)
	defer cancel()
	record := db.Round{
		MeetingID:   sessionID,
		Title:       title,
		Count:       cfg.Count,
		AllowRepeat: cfg.AllowRepeat,
		Status:      status,
	}
	if err := c.store.CreateRound(pctx, &record); err != nil {
		return db.Round{}, apperr.Persistence("create round", err)
	}
	return record, nil
}

func (c *Coordinator) requireSession(ctx context.Context, sessionID uint) error {
	if c.sessions == nil {
		return nil
	}
	pctx, cancel := c.persistCtx(ctx)
	defer cancel()
	ok, err := c.sessions.Exists(pctx, sessionID)
	if err != nil {
		return apperr.Persistence("check session", err)
	}
	if !ok {
		return apperr.NotFound(apperr.CodeSessionNotFound, "session not found")
	}
	return nil
}

// Prepare activates a round and opens the pool for joins. The pool carries
// over from earlier rounds.
func (c *Coordinator) Prepare(ctx context.Context, sessionID uint, ref RoundRef) (State, error) {
	var state State
	err := c.withSession(ctx, sessionID, func(s *session) error {
		if s.status != StatusIdle && s.status != StatusResult {
			return invalidState("prepare", s.status)
		}
		var record db.Round
		switch {
		case ref.RoundID != 0:
			if err := c.checkRound(ctx, sessionID, ref.RoundID); err != nil {
				return err
			}
			pctx, cancel := c.persistCtx(ctx)
			defer cancel()
			activated, err := c.store.ActivateRound(pctx, ref.RoundID)
			if err != nil {
				if errors.Is(err, store.ErrConflict) {
					return apperr.Conflict(apperr.CodeRoundFinished, "round already finished")
				}
				return apperr.Persistence("activate round", err)
			}
			record = activated
		case ref.Config != nil:
			// Inline rounds are inserted already active.
			created, err := c.createRound(ctx, sessionID, *ref.Config, db.RoundActive)
			if err != nil {
				return err
			}
			record = created
		default:
			return apperr.Validation(apperr.CodeInvalidRequest, "round id or round configuration is required")
		}

		round := toRound(record)
		round.Winners = nil
		s.round = &round
		s.lastResult = nil
		s.status = StatusPreparing
		log.Printf("lottery prepared session_id=%d round_id=%d pool=%d", sessionID, round.ID, len(s.pool))
		c.audit(ctx, sessionID, "lottery_prepared", auditPayload{RoundID: round.ID, PoolSize: len(s.pool)})
		c.publish(sessionID, EventPrepare, prepareEvent{
			RoundID:     round.ID,
			Title:       round.Title,
			Count:       round.Count,
			AllowRepeat: round.AllowRepeat,
			PoolSize:    len(s.pool),
		})
		state = s.snapshot("")
		return nil
	})
	return state, err
}

func (c *Coordinator) checkRound(ctx context.Context, sessionID, roundID uint) error {
	pctx, cancel := c.persistCtx(ctx)
	defer cancel()
	record, err := c.store.GetRound(pctx, roundID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && record.MeetingID != sessionID) {
		return apperr.NotFound(apperr.CodeRoundNotFound, "round not found")
	}
	if err != nil {
		return apperr.Persistence("load round", err)
	}
	if record.Status == db.RoundFinished {
		return apperr.Conflict(apperr.CodeRoundFinished, "round already finished")
	}
	return nil
}

// Join adds or refreshes a participant in the pool of a preparing session.
func (c *Coordinator) Join(ctx context.Context, sessionID uint, participant directory.Profile) (State, error) {
	participant.ID = strings.TrimSpace(participant.ID)
	if participant.ID == "" {
		return State{}, apperr.Validation(apperr.CodeInvalidRequest, "participant id is required")
	}
	if len(participant.ID) > maxProfileLength || len(participant.Name) > maxProfileLength || len(participant.Department) > maxProfileLength {
		return State{}, apperr.Validation(apperr.CodeInvalidRequest, fmt.Sprintf("participant fields must be %d characters or fewer", maxProfileLength))
	}
	var state State
	err := c.withSession(ctx, sessionID, func(s *session) error {
		if s.status != StatusPreparing {
			return invalidState("join", s.status)
		}
		if s.hasWon(participant.ID) && !s.round.AllowRepeat {
			return apperr.Conflict(apperr.CodeAlreadyWon, "participant already won in this session")
		}

		pctx, cancel := c.persistCtx(ctx)
		defer cancel()
		profile, err := directory.Resolve(pctx, c.dir, participant)
		if err != nil {
			return &apperr.Error{Kind: apperr.KindUnavailable, Code: apperr.CodeDirectoryUnavailable, Message: "resolve participant", Err: err}
		}
		if strings.TrimSpace(profile.Name) == "" {
			profile.Name = profile.ID
		}
		entry := db.PoolEntry{
			MeetingID:     sessionID,
			ParticipantID: profile.ID,
			Name:          profile.Name,
			Department:    profile.Department,
			AvatarURL:     profile.AvatarURL,
		}
		existing := s.pool[profile.ID]
		if existing != nil {
			entry.JoinedAt = existing.JoinedAt
		} else {
			entry.JoinedAt = c.now()
		}
		if err := c.store.UpsertPoolEntry(pctx, &entry); err != nil {
			return apperr.Persistence("save pool entry", err)
		}

		s.pool[profile.ID] = &Participant{
			ID:         profile.ID,
			Name:       profile.Name,
			Department: profile.Department,
			AvatarURL:  profile.AvatarURL,
			HasWon:     s.hasWon(profile.ID),
			JoinedAt:   entry.JoinedAt,
		}
		if existing == nil {
			log.Printf("lottery joined session_id=%d participant=%s pool=%d", sessionID, profile.ID, len(s.pool))
			c.audit(ctx, sessionID, "lottery_joined", auditPayload{RoundID: s.round.ID, ParticipantID: profile.ID, PoolSize: len(s.pool)})
		}
		c.publish(sessionID, EventPoolUpdate, s.poolEvent(""))
		state = s.snapshot(profile.ID)
		return nil
	})
	return state, err
}

// Leave soft-removes a participant. Not allowed while rolling.
func (c *Coordinator) Leave(ctx context.Context, sessionID uint, participantID string) (State, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return State{}, apperr.Validation(apperr.CodeInvalidRequest, "participant id is required")
	}
	var state State
	err := c.withSession(ctx, sessionID, func(s *session) error {
		if s.status == StatusRolling {
			return invalidState("leave", s.status)
		}
		if _, ok := s.pool[participantID]; !ok {
			return apperr.NotFound(apperr.CodeNotInPool, "participant is not in the pool")
		}
		pctx, cancel := c.persistCtx(ctx)
		defer cancel()
		if err := c.store.LeavePool(pctx, sessionID, participantID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return apperr.Persistence("remove pool entry", err)
		}
		delete(s.pool, participantID)
		log.Printf("lottery left session_id=%d participant=%s pool=%d", sessionID, participantID, len(s.pool))
		c.audit(ctx, sessionID, "lottery_left", auditPayload{ParticipantID: participantID, PoolSize: len(s.pool)})
		c.publish(sessionID, EventPoolUpdate, s.poolEvent(participantID))
		state = s.snapshot(participantID)
		return nil
	})
	return state, err
}

// Start locks the pool and begins rolling. A pool with nobody eligible cannot
// start, since stop would have nobody to draw.
func (c *Coordinator) Start(ctx context.Context, sessionID uint) (State, error) {
	var state State
	err := c.withSession(ctx, sessionID, func(s *session) error {
		if s.status != StatusPreparing {
			return invalidState("start", s.status)
		}
		if len(s.eligible()) == 0 {
			return apperr.Conflict(apperr.CodeNoEligible, "no eligible participants in the pool")
		}
		s.status = StatusRolling
		log.Printf("lottery rolling session_id=%d round_id=%d pool=%d", sessionID, s.round.ID, len(s.pool))
		c.audit(ctx, sessionID, "lottery_started", auditPayload{RoundID: s.round.ID, PoolSize: len(s.pool)})
		c.publish(sessionID, EventStart, nil)
		state = s.snapshot("")
		return nil
	})
	return state, err
}

// Stop draws the winners and commits them. Nothing is published unless the
// draw is durably stored; on failure the session stays rolling so the draw can
// be retried.
func (c *Coordinator) Stop(ctx context.Context, sessionID uint) (State, error) {
	var state State
	var result Result
	err := c.withSession(ctx, sessionID, func(s *session) error {
		if s.status != StatusRolling {
			return invalidState("stop", s.status)
		}
		eligible := s.eligible()
		if len(eligible) == 0 {
			return apperr.Conflict(apperr.CodeNoEligible, "no eligible participants in the pool")
		}
		drawn := drawWinners(c.rand, eligible, s.round.Count)
		now := c.now()
		records := make([]db.Winner, 0, len(drawn))
		for _, p := range drawn {
			records = append(records, db.Winner{
				RoundID:       s.round.ID,
				MeetingID:     sessionID,
				ParticipantID: p.ID,
				Name:          p.Name,
				Department:    p.Department,
				WonAt:         now,
			})
		}

		pctx, cancel := c.persistCtx(ctx)
		defer cancel()
		round := db.Round{ID: s.round.ID, MeetingID: sessionID}
		if err := c.store.FinishRound(pctx, round, records); err != nil {
			log.Printf("lottery draw not committed session_id=%d round_id=%d error=%v", sessionID, s.round.ID, err)
			if errors.Is(err, store.ErrConflict) {
				return apperr.Conflict(apperr.CodeRoundFinished, "round already finished")
			}
			return apperr.Persistence("save draw", err)
		}

		winners := make([]Winner, 0, len(records))
		names := make([]string, 0, len(records))
		for _, record := range records {
			s.winners[record.ParticipantID] = struct{}{}
			if member := s.pool[record.ParticipantID]; member != nil {
				member.HasWon = true
			}
			winners = append(winners, toWinner(record))
			names = append(names, record.ParticipantID)
		}
		s.round.Status = db.RoundFinished
		s.round.Winners = winners
		result = Result{
			RoundID:        s.round.ID,
			Title:          s.round.Title,
			Winners:        winners,
			RemainingCount: len(s.eligible()),
		}
		s.lastResult = &result
		s.status = StatusResult

		log.Printf("lottery drawn session_id=%d round_id=%d winners=%d remaining=%d", sessionID, s.round.ID, len(winners), result.RemainingCount)
		c.audit(ctx, sessionID, "lottery_drawn", auditPayload{RoundID: s.round.ID, Winners: names, PoolSize: len(s.pool)})
		c.publish(sessionID, EventResult, result)
		state = s.snapshot("")
		return nil
	})
	if err != nil {
		return State{}, err
	}
	c.notify(ctx, sessionID, EventResult, result)
	return state, nil
}

// Reset empties the pool and returns to idle. An unfinished round goes back
// to pending; winner history is kept.
func (c *Coordinator) Reset(ctx context.Context, sessionID uint) (State, error) {
	var state State
	err := c.withSession(ctx, sessionID, func(s *session) error {
		if s.status == StatusRolling {
			return invalidState("reset", s.status)
		}
		pctx, cancel := c.persistCtx(ctx)
		defer cancel()
		if err := c.store.ResetSession(pctx, sessionID); err != nil {
			return apperr.Persistence("reset session", err)
		}
		s.pool = make(map[string]*Participant)
		s.round = nil
		s.lastResult = nil
		s.status = StatusIdle
		log.Printf("lottery reset session_id=%d", sessionID)
		c.audit(ctx, sessionID, "lottery_reset", auditPayload{})
		c.publish(sessionID, EventReset, nil)
		c.publish(sessionID, EventPoolUpdate, s.poolEvent(""))
		state = s.snapshot("")
		return nil
	})
	return state, err
}

// State is the read path reconnecting clients use to resynchronize.
func (c *Coordinator) State(ctx context.Context, sessionID uint, participantID string) (State, error) {
	var state State
	err := c.withSession(ctx, sessionID, func(s *session) error {
		state = s.snapshot(strings.TrimSpace(participantID))
		return nil
	})
	return state, err
}

// History lists the session's rounds with their winners, newest first.
func (c *Coordinator) History(ctx context.Context, sessionID uint) ([]Round, error) {
	pctx, cancel := c.persistCtx(ctx)
	defer cancel()
	records, err := c.store.ListRounds(pctx, sessionID)
	if err != nil {
		return nil, apperr.Persistence("list rounds", err)
	}
	rounds := make([]Round, 0, len(records))
	for _, record := range records {
		rounds = append(rounds, toRound(record))
	}
	return rounds, nil
}

// DeleteRound removes a round that was never prepared.
func (c *Coordinator) DeleteRound(ctx context.Context, sessionID, roundID uint) error {
	return c.withSession(ctx, sessionID, func(s *session) error {
		if s.round != nil && s.round.ID == roundID {
			return apperr.Conflict(apperr.CodeRoundInUse, "round is in use")
		}
		pctx, cancel := c.persistCtx(ctx)
		defer cancel()
		err := c.store.DeletePendingRound(pctx, sessionID, roundID)
		switch {
		case err == nil:
			log.Printf("lottery round deleted session_id=%d round_id=%d", sessionID, roundID)
			return nil
		case errors.Is(err, store.ErrNotFound):
			return apperr.NotFound(apperr.CodeRoundNotFound, "round not found")
		case errors.Is(err, store.ErrConflict):
			return apperr.Conflict(apperr.CodeRoundInUse, "only pending rounds can be deleted")
		default:
			return apperr.Persistence("delete round", err)
		}
	})
}

func (c *Coordinator) publish(sessionID uint, eventType string, payload any) {
	if c.pub == nil {
		return
	}
	if err := c.pub.Publish(sessionID, eventType, payload); err != nil {
		log.Printf("lottery publish failed session_id=%d type=%s error=%v", sessionID, eventType, err)
	}
}

func (c *Coordinator) audit(ctx context.Context, sessionID uint, eventType string, payload auditPayload) {
	pctx, cancel := c.persistCtx(ctx)
	defer cancel()
	if err := c.store.AppendEvent(pctx, sessionID, eventType, payload); err != nil {
		log.Printf("lottery audit failed session_id=%d type=%s error=%v", sessionID, eventType, err)
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
		log.Printf("lottery notify failed session_id=%d type=%s error=%v", sessionID, eventType, err)
	}
}

func invalidState(op string, status Status) error {
	return apperr.Conflict(apperr.CodeInvalidState, fmt.Sprintf("cannot %s while lottery is %s", op, status))
}
