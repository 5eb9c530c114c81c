package broadcast

import (
	"sync"

	"github.com/google/uuid"
)

// StreamClient is a subscriber for server-sent events. The HTTP handler reads
// Messages until Done is closed.
type StreamClient struct {
	id   string
	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewStreamClient() *StreamClient {
	return &StreamClient{
		id:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *StreamClient) ID() string { return c.id }

func (c *StreamClient) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *StreamClient) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *StreamClient) Messages() <-chan []byte { return c.send }

func (c *StreamClient) Done() <-chan struct{} { return c.done }
