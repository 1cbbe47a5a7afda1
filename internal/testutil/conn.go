// Package testutil holds in-memory doubles for the transport and durable stores.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/victornm/livequiz/internal/domain"
)

var ErrConnClosed = errors.New("testutil: connection closed")

// Conn records what a participant's connection would have received.
type Conn struct {
	ID string

	mu       sync.Mutex
	msgs     []domain.Message
	closed   bool
	closedAt int
	sendErr  error
}

func NewConn(id string) *Conn {
	return &Conn{ID: id, closedAt: -1}
}

func (c *Conn) Send(_ context.Context, m domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed {
		return ErrConnClosed
	}

	c.msgs = append(c.msgs, m)
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		c.closedAt = len(c.msgs)
	}
	return nil
}

// FailSends makes every following Send return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sendErr = err
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *Conn) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]domain.Message(nil), c.msgs...)
}

// MessagesOf returns the received messages of the given type.
func (c *Conn) MessagesOf(t domain.MessageType) []domain.Message {
	var out []domain.Message
	for _, m := range c.Messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the last message received, ok is false if nothing was received.
func (c *Conn) Last() (domain.Message, bool) {
	msgs := c.Messages()
	if len(msgs) == 0 {
		return domain.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// SentBeforeClose reports whether a message of type t was received before Close.
func (c *Conn) SentBeforeClose(t domain.MessageType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		return false
	}
	for _, m := range c.msgs[:c.closedAt] {
		if m.Type == t {
			return true
		}
	}
	return false
}

// WaitFor polls until a message of type t arrives or the timeout elapses.
func (c *Conn) WaitFor(t domain.MessageType, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if len(c.MessagesOf(t)) > 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
