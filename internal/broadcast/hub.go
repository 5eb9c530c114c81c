// Package broadcast fans session scoped events out to connected clients.
// Membership is in memory only; clients resubscribe after a restart and pull
// current state instead of replaying missed events.
package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	SessionID uint      `json:"sessionId"`
	Data      any       `json:"data"`
	SentAt    time.Time `json:"sentAt"`
}

type Subscriber interface {
	ID() string
	// Send queues msg without blocking. false means the subscriber is gone or
	// too slow and should be dropped.
	Send(msg []byte) bool
	Close()
}

// Relay carries encoded events between instances. Every instance, including
// the publisher, receives the event back and delivers it locally.
type Relay interface {
	Publish(ctx context.Context, sessionID uint, msg []byte) error
}

type Hub struct {
	mu    sync.Mutex
	rooms map[uint]map[string]Subscriber
	relay Relay
	now   func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[uint]map[string]Subscriber),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (h *Hub) SetRelay(relay Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = relay
}

func (h *Hub) Join(sessionID uint, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[sessionID]
	if room == nil {
		room = make(map[string]Subscriber)
		h.rooms[sessionID] = room
	}
	room[sub.ID()] = sub
}

// Leave removes sub from the session and closes it.
func (h *Hub) Leave(sessionID uint, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sessionID, sub)
}

func (h *Hub) removeLocked(sessionID uint, sub Subscriber) {
	room := h.rooms[sessionID]
	if room == nil {
		return
	}
	if current, ok := room[sub.ID()]; ok && current == sub {
		delete(room, sub.ID())
		sub.Close()
	}
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

func (h *Hub) MemberCount(sessionID uint) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[sessionID])
}

// Publish encodes one event and hands it to the relay, or delivers it locally
// when no relay is configured or the relay fails.
func (h *Hub) Publish(sessionID uint, eventType string, payload any) error {
	msg, err := h.Encode(sessionID, eventType, payload)
	if err != nil {
		return err
	}
	h.mu.Lock()
	relay := h.relay
	h.mu.Unlock()
	if relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := relay.Publish(ctx, sessionID, msg)
		cancel()
		if err == nil {
			return nil
		}
		log.Printf("broadcast relay failed session_id=%d type=%s error=%v", sessionID, eventType, err)
	}
	h.Deliver(sessionID, msg)
	return nil
}

// Deliver queues msg on every local subscriber of the session. Queueing happens
// under the hub lock so all subscribers see the same order.
func (h *Hub) Deliver(sessionID uint, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.rooms[sessionID] {
		if !sub.Send(msg) {
			log.Printf("broadcast dropped slow subscriber session_id=%d subscriber=%s", sessionID, sub.ID())
			h.removeLocked(sessionID, sub)
		}
	}
}

// SendTo delivers an event to a single subscriber, bypassing the room.
func (h *Hub) SendTo(sub Subscriber, sessionID uint, eventType string, payload any) bool {
	msg, err := h.Encode(sessionID, eventType, payload)
	if err != nil {
		return false
	}
	return sub.Send(msg)
}

func (h *Hub) Encode(sessionID uint, eventType string, payload any) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	return json.Marshal(Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SessionID: sessionID,
		Data:      payload,
		SentAt:    h.now(),
	})
}
