package stream

import (
	"sync"
	"sync/atomic"
)

// Client is the outbound side of one connection. Its queue is bounded; when
// it is full the oldest pending message is dropped so that a slow reader
// never blocks a broadcast.
type Client struct {
	id      string
	mu      sync.Mutex
	send    chan []byte
	closed  bool
	dropped atomic.Uint64
}

func newClient(id string, queueSize int) *Client {
	return &Client{
		id:   id,
		send: make(chan []byte, queueSize),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Messages is closed when the client is unregistered.
func (c *Client) Messages() <-chan []byte {
	return c.send
}

// Dropped returns how many messages were discarded because the queue was full.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Send enqueues msg without blocking. It returns false once the client is closed.
func (c *Client) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	for {
		select {
		case c.send <- msg:
			return true
		default:
		}
		select {
		case <-c.send:
			c.dropped.Add(1)
		default:
		}
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
