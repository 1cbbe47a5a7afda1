// Package ws adapts gorilla websocket connections to registry connections.
package ws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/victornm/livequiz/internal/domain"
)

const (
	defaultWriteWait  = 5 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultBufferSize = 64
	maxMessageSize    = 4096
)

var ErrClosed = stderrors.New("ws: connection closed")

type Config struct {
	WriteWait time.Duration
	// PongWait is how long the peer may stay silent, pings are sent every 9/10 of it.
	PongWait   time.Duration
	BufferSize int
}

func (c Config) withDefaults() Config {
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	return c
}

// Inbound is a message received from a participant.
type Inbound struct {
	Type    domain.MessageType `json:"type"`
	Payload json.RawMessage    `json:"payload"`
}

type SubmitAnswerPayload struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// Conn serializes every write through a single goroutine. Close flushes the queued
// messages before the close frame so a final notice is delivered.
type Conn struct {
	ws *websocket.Conn
	c  Config

	out       chan domain.Message
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewConn(ws *websocket.Conn, c Config) *Conn {
	conn := &Conn{
		ws:      ws,
		c:       c.withDefaults(),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	conn.out = make(chan domain.Message, conn.c.BufferSize)

	go conn.writeLoop()

	return conn
}

// Send queues m for the writer. It fails once the connection is closing or the writer has
// stopped, a full queue blocks until ctx is done.
func (c *Conn) Send(ctx context.Context, m domain.Message) error {
	select {
	case <-c.closing:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.out <- m:
		return nil
	case <-c.closing:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages, flushes the queue and closes the connection. It waits
// at most one write deadline for the flush.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
	})

	select {
	case <-c.done:
	case <-time.After(c.c.WriteWait):
		return c.ws.Close()
	}

	return nil
}

// ReadLoop calls handle for every message until the peer disconnects or the connection
// is closed.
func (c *Conn) ReadLoop(handle func(Inbound)) error {
	c.ws.SetReadLimit(maxMessageSize)
	extend := func() error {
		return c.ws.SetReadDeadline(time.Now().Add(c.c.PongWait))
	}
	if err := extend(); err != nil {
		return err
	}
	c.ws.SetPongHandler(func(string) error { return extend() })

	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if err := extend(); err != nil {
			return err
		}

		var m Inbound
		if err := json.Unmarshal(b, &m); err != nil {
			_ = c.Send(context.Background(), domain.NewError("invalid_argument", "malformed message"))
			continue
		}

		handle(m)
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.c.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case m := <-c.out:
			if err := c.write(m); err != nil {
				slog.Debug("ws: write failed", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.c.WriteWait)); err != nil {
				return
			}

		case <-c.closing:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.c.WriteWait))
			return
		}
	}
}

func (c *Conn) flush() {
	for {
		select {
		case m := <-c.out:
			if err := c.write(m); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(m domain.Message) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.c.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(m)
}
