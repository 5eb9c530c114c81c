// Package lock provides the per-key mutual exclusion used by the coordinators
// and the leases used by background loops.
package lock

import (
	"context"
	"sync"
)

// Keyed hands out one mutex per key. Keys that nobody holds or waits on are
// dropped so the map does not grow with every session ever seen.
type Keyed struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyed() *Keyed {
	return &Keyed{slots: make(map[string]*slot)}
}

// Lock blocks until key is free or ctx is done. The returned func releases it.
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	s := k.slots[key]
	if s == nil {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, s, false)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { k.release(key, s, true) })
	}, nil
}

func (k *Keyed) release(key string, s *slot, held bool) {
	if held {
		<-s.ch
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
