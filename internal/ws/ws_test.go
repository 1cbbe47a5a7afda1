package ws_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	qerrors "github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/registry"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/ws"
)

type received struct {
	Type    domain.MessageType `json:"type"`
	Payload map[string]any     `json:"payload"`
}

type fakeEngine struct {
	mu      sync.Mutex
	answers []domain.Answer
	left    bool
}

func (e *fakeEngine) Join(ctx context.Context, session, _ string, conn registry.Conn) error {
	return conn.Send(ctx, domain.NewSessionState(&domain.Session{SessionID: session, Status: domain.StatusActive}))
}

func (e *fakeEngine) Leave(context.Context, string, string, registry.Conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.left = true
	return true
}

func (e *fakeEngine) SubmitAnswer(_ context.Context, a domain.Answer) (*score.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.answers = append(e.answers, a)
	if a.Answer == "late" {
		return nil, qerrors.InvalidState("time is up")
	}
	return &score.Result{Correct: true, Points: 1, Total: 1}, nil
}

func (e *fakeEngine) hasLeft() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.left
}

func dial(t *testing.T, h http.Handler) *websocket.Conn {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	return c
}

func read(t *testing.T, c *websocket.Conn) received {
	var m received
	require.NoError(t, c.ReadJSON(&m))
	return m
}

func TestConn_CloseFlushesQueuedMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	c := dial(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		conn := ws.NewConn(raw, ws.Config{})
		_ = conn.Send(context.Background(), domain.Message{Type: domain.MessagePong})
		_ = conn.Send(context.Background(), domain.NewConnectionClosed(registry.ReasonSuperseded))
		_ = conn.Close()

		assert.ErrorIs(t, conn.Send(context.Background(), domain.Message{Type: domain.MessagePong}), ws.ErrClosed)
	}))

	assert.Equal(t, domain.MessagePong, read(t, c).Type)

	last := read(t, c)
	assert.Equal(t, domain.MessageConnectionClosed, last.Type)
	assert.Equal(t, registry.ReasonSuperseded, last.Payload["reason"])

	_, _, err := c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestConn_SendAfterWriterStopped(t *testing.T) {
	upgrader := websocket.Upgrader{}
	conns := make(chan *ws.Conn, 1)
	dial(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		_ = raw.Close()
		conns <- ws.NewConn(raw, ws.Config{})
	}))

	var conn *ws.Conn
	select {
	case conn = <-conns:
	case <-time.After(time.Second):
		t.Fatal("connection was not upgraded")
	}

	ctx := context.Background()
	pong := domain.Message{Type: domain.MessagePong}
	require.Eventually(t, func() bool {
		return errors.Is(conn.Send(ctx, pong), ws.ErrClosed)
	}, 2*time.Second, 10*time.Millisecond, "the writer should stop after a failed write")

	for range 100 {
		require.ErrorIs(t, conn.Send(ctx, pong), ws.ErrClosed)
	}
}

func TestHandler_Serve(t *testing.T) {
	e := &fakeEngine{}
	h := ws.NewHandler(e, ws.Config{})
	c := dial(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, "s1", "p")
	}))

	assert.Equal(t, domain.MessageSessionState, read(t, c).Type)

	require.NoError(t, c.WriteJSON(map[string]any{"type": "ping"}))
	assert.Equal(t, domain.MessagePong, read(t, c).Type)

	require.NoError(t, c.WriteJSON(map[string]any{
		"type":    "submit_answer",
		"payload": map[string]any{"question_id": "q1", "answer": "late"},
	}))
	m := read(t, c)
	assert.Equal(t, domain.MessageError, m.Type)
	assert.Equal(t, "invalid_state", m.Payload["code"])

	require.NoError(t, c.WriteJSON(map[string]any{"type": "dance"}))
	assert.Equal(t, domain.MessageError, read(t, c).Type)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, "invalid_argument", read(t, c).Payload["code"])

	e.mu.Lock()
	require.Len(t, e.answers, 1)
	assert.Equal(t, domain.Answer{SessionID: "s1", QuestionID: "q1", ParticipantID: "p", Answer: "late"}, e.answers[0])
	e.mu.Unlock()

	require.NoError(t, c.Close())
	require.Eventually(t, e.hasLeft, 2*time.Second, 10*time.Millisecond)
}
