package lottery

import (
	"context"
	"fmt"
	"log"
	"time"

	"meeting-live/internal/db"
)

// loadSession rebuilds a session from storage. The current round decides the
// status: active rounds come back as preparing (rolling is never stored),
// finished rounds come back as result with their winners. A reset session has
// no current round and comes back idle.
func (c *Coordinator) loadSession(ctx context.Context, sessionID uint) (*session, error) {
	pctx, cancel := c.persistCtx(ctx)
	defer cancel()

	entries, err := c.store.LoadPool(pctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	winners, err := c.store.LoadWinners(pctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load winners: %w", err)
	}
	latest, err := c.store.CurrentRound(pctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load current round: %w", err)
	}

	s := newSession(sessionID)
	s.touched = c.now()
	for _, winner := range winners {
		s.winners[winner.ParticipantID] = struct{}{}
	}
	for _, entry := range entries {
		s.pool[entry.ParticipantID] = &Participant{
			ID:         entry.ParticipantID,
			Name:       entry.Name,
			Department: entry.Department,
			AvatarURL:  entry.AvatarURL,
			HasWon:     entry.HasWon || s.hasWon(entry.ParticipantID),
			JoinedAt:   entry.JoinedAt,
		}
	}
	if latest != nil {
		round := toRound(*latest)
		switch latest.Status {
		case db.RoundActive:
			round.Winners = nil
			s.round = &round
			s.status = StatusPreparing
		case db.RoundFinished:
			s.round = &round
			s.status = StatusResult
			s.lastResult = &Result{
				RoundID:        round.ID,
				Title:          round.Title,
				Winners:        round.Winners,
				RemainingCount: len(s.eligible()),
			}
		}
	}
	if len(entries) > 0 || len(winners) > 0 || latest != nil {
		log.Printf("lottery session restored session_id=%d status=%s pool=%d winners=%d", sessionID, s.status, len(s.pool), len(s.winners))
	}
	return s, nil
}

// EvictIdle drops sessions untouched for longer than the idle TTL. Evicted
// sessions are reloaded from storage on next access.
func (c *Coordinator) EvictIdle(ctx context.Context) int {
	if c.idleTTL <= 0 {
		return 0
	}
	cutoff := c.now().Add(-c.idleTTL)
	evicted := 0
	for _, id := range c.registry.ids() {
		unlock, err := c.locks.Lock(ctx, fmt.Sprintf("lottery:%d", id))
		if err != nil {
			return evicted
		}
		if c.registry.evictIfIdle(id, cutoff) {
			evicted++
		}
		unlock()
	}
	if evicted > 0 {
		log.Printf("lottery sessions evicted count=%d remaining=%d", evicted, c.registry.len())
	}
	return evicted
}

// RunJanitor evicts idle sessions every interval until ctx is done.
func (c *Coordinator) RunJanitor(ctx context.Context, interval time.Duration) {
	if c.idleTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.EvictIdle(ctx)
		}
	}
}
