package lottery

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type session struct {
	id         uint
	status     Status
	round      *Round
	pool       map[string]*Participant
	winners    map[string]struct{}
	lastResult *Result
	touched    time.Time
}

func newSession(id uint) *session {
	return &session{
		id:      id,
		status:  StatusIdle,
		pool:    make(map[string]*Participant),
		winners: make(map[string]struct{}),
	}
}

// members returns the pool ordered by join time, then id.
func (s *session) members() []Participant {
	out := make([]Participant, 0, len(s.pool))
	for _, member := range s.pool {
		out = append(out, *member)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// eligible is the pool minus historical winners unless the round allows repeats.
func (s *session) eligible() []Participant {
	members := s.members()
	if s.round != nil && s.round.AllowRepeat {
		return members
	}
	out := members[:0]
	for _, member := range members {
		if _, won := s.winners[member.ID]; !won {
			out = append(out, member)
		}
	}
	return out
}

func (s *session) hasWon(participantID string) bool {
	_, ok := s.winners[participantID]
	return ok
}

func (s *session) snapshot(participantID string) State {
	members := s.members()
	state := State{
		SessionID: s.id,
		Status:    s.status,
		Pool:      members,
		PoolSize:  len(members),
	}
	if s.round != nil {
		round := *s.round
		state.Round = &round
	}
	if s.status == StatusResult && s.lastResult != nil {
		result := *s.lastResult
		state.LastResult = &result
	}
	if participantID != "" {
		_, state.InPool = s.pool[participantID]
		state.HasWon = s.hasWon(participantID)
	}
	return state
}

func (s *session) poolEvent(removed string) poolEvent {
	members := s.members()
	return poolEvent{
		Count:                len(members),
		Participants:         members,
		RemovedParticipantID: removed,
	}
}

// registry holds the sessions touched since start. Sessions are loaded on
// first access; concurrent first accesses share one load.
type registry struct {
	mu       sync.Mutex
	sessions map[uint]*session
	loads    singleflight.Group
	load     func(ctx context.Context, id uint) (*session, error)
}

func newRegistry(load func(ctx context.Context, id uint) (*session, error)) *registry {
	return &registry{
		sessions: make(map[uint]*session),
		load:     load,
	}
}

func (r *registry) get(ctx context.Context, id uint) (*session, error) {
	r.mu.Lock()
	s := r.sessions[id]
	r.mu.Unlock()
	if s != nil {
		return s, nil
	}
	value, err, _ := r.loads.Do(strconv.FormatUint(uint64(id), 10), func() (any, error) {
		r.mu.Lock()
		if existing := r.sessions[id]; existing != nil {
			r.mu.Unlock()
			return existing, nil
		}
		r.mu.Unlock()
		loaded, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if existing := r.sessions[id]; existing != nil {
			return existing, nil
		}
		r.sessions[id] = loaded
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*session), nil
}

func (r *registry) ids() []uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// evictIfIdle must run under the session's keyed lock. Rolling sessions are
// never evicted because rolling is not persisted.
func (r *registry) evictIfIdle(id uint, cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	if s == nil || s.status == StatusRolling || !s.touched.Before(cutoff) {
		return false
	}
	delete(r.sessions, id)
	return true
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
