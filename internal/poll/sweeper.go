package poll

import (
	"context"
	"log"
	"time"

	"meeting-live/internal/lock"
)

const sweeperLease = "poll-sweeper"

// Sweeper closes active polls whose time is up.
type Sweeper struct {
	coord    *Coordinator
	leaser   lock.Leaser
	interval time.Duration
	now      func() time.Time
}

// NewSweeper builds a sweeper over coord. A nil leaser means this is the only
// instance sweeping.
func NewSweeper(coord *Coordinator, leaser lock.Leaser, interval time.Duration) *Sweeper {
	if leaser == nil {
		leaser = lock.LocalLeaser{}
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Sweeper{
		coord:    coord,
		leaser:   leaser,
		interval: interval,
		now:      coord.now,
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("poll sweeper started interval=%s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("poll sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, s.now()); err != nil {
				log.Printf("poll sweep failed error=%v", err)
			}
		}
	}
}

// Sweep closes every active poll that expired at or before now and returns
// how many it closed. Closes are not cut short by ctx cancellation.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	release, ok, err := s.leaser.TryAcquire(ctx, sweeperLease, s.interval)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	defer release()

	work := context.WithoutCancel(ctx)
	pctx, cancel := s.coord.persistCtx(work)
	polls, err := s.coord.store.ListActivePolls(pctx)
	cancel()
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, record := range polls {
		if record.StartedAt == nil || now.Before(record.ExpiresAt()) {
			continue
		}
		_, won, err := s.coord.Close(work, record.ID)
		if err != nil {
			log.Printf("poll sweep close failed poll_id=%d error=%v", record.ID, err)
			continue
		}
		if won {
			closed++
			log.Printf("poll expired poll_id=%d session_id=%d", record.ID, record.MeetingID)
		}
	}
	return closed, nil
}
