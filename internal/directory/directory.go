// Package directory resolves participant profiles and checks that a meeting
// exists. Both are owned by other services; this module only reads them.
package directory

import (
	"context"
	"errors"
	"sync"
)

var ErrUnknownParticipant = errors.New("unknown participant")

type Profile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department,omitempty"`
	AvatarURL  string `json:"avatarUrl,omitempty"`
}

type Directory interface {
	Lookup(ctx context.Context, participantID string) (Profile, error)
}

type Sessions interface {
	Exists(ctx context.Context, sessionID uint) (bool, error)
}

// Resolve merges a directory profile over the caller supplied fallback. The
// fallback is returned as is when the directory does not know the participant.
func Resolve(ctx context.Context, dir Directory, fallback Profile) (Profile, error) {
	if dir == nil {
		return fallback, nil
	}
	profile, err := dir.Lookup(ctx, fallback.ID)
	if errors.Is(err, ErrUnknownParticipant) {
		return fallback, nil
	}
	if err != nil {
		return Profile{}, err
	}
	profile.ID = fallback.ID
	if profile.Name == "" {
		profile.Name = fallback.Name
	}
	if profile.Department == "" {
		profile.Department = fallback.Department
	}
	if profile.AvatarURL == "" {
		profile.AvatarURL = fallback.AvatarURL
	}
	return profile, nil
}

// Static is an in-memory directory used when no database is configured.
// A zero Static accepts every session id.
type Static struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	sessions map[uint]struct{}
}

func NewStatic() *Static {
	return &Static{profiles: make(map[string]Profile)}
}

func (s *Static) AddProfile(profile Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profiles == nil {
		s.profiles = make(map[string]Profile)
	}
	s.profiles[profile.ID] = profile
}

// AddSession restricts Exists to the registered ids.
func (s *Static) AddSession(id uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[uint]struct{})
	}
	s.sessions[id] = struct{}{}
}

func (s *Static) Lookup(_ context.Context, participantID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[participantID]
	if !ok {
		return Profile{}, ErrUnknownParticipant
	}
	return profile, nil
}

func (s *Static) Exists(_ context.Context, sessionID uint) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sessions == nil {
		return sessionID > 0, nil
	}
	_, ok := s.sessions[sessionID]
	return ok, nil
}
