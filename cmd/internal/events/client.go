package events

import (
	"sync"

	v1 "nidentity/shared/contracts/events/v1"
)

// Client is one websocket subscriber. Send is never closed; done signals shutdown.
type Client struct {
	ID   string
	Send chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id string, queue int) *Client {
	if queue <= 0 {
		queue = defaultSendQueue
	}
	return &Client{
		ID:   id,
		Send: make(chan v1.Envelope, queue),
		done: make(chan struct{}),
	}
}

// Done is closed once the client shuts down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close is idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// offer queues env without blocking.
func (c *Client) offer(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
