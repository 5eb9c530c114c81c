// Package notify forwards committed results to downstream consumers such as
// meeting minutes and statistics. Delivery is best effort.
package notify

import (
	"context"
	"time"
)

type Message struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	SessionID  uint      `json:"sessionId"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurredAt"`
}

type Sink interface {
	Notify(ctx context.Context, msg Message) error
}

type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }

// Func adapts a function to Sink.
type Func func(ctx context.Context, msg Message) error

func (f Func) Notify(ctx context.Context, msg Message) error { return f(ctx, msg) }
