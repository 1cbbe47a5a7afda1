package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/registry"
	"github.com/victornm/livequiz/internal/score"
)

type Engine interface {
	Join(ctx context.Context, session, participant string, conn registry.Conn) error
	Leave(ctx context.Context, session, participant string, conn registry.Conn) bool
	SubmitAnswer(ctx context.Context, a domain.Answer) (*score.Result, error)
}

type Handler struct {
	engine   Engine
	c        Config
	upgrader websocket.Upgrader
}

func NewHandler(engine Engine, c Config) *Handler {
	return &Handler{
		engine: engine,
		c:      c,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and runs the participant's connection until it ends.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, session, participant string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "ws: upgrade failed", "error", err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	conn := NewConn(ws, h.c)
	defer conn.Close()

	slog.InfoContext(ctx, "ws: connection accepted", "session_id", session, "participant_id", participant)

	if err := h.engine.Join(ctx, session, participant, conn); err != nil {
		slog.WarnContext(ctx, "ws: join failed",
			"session_id", session,
			"participant_id", participant,
			"error", err,
		)
		return
	}
	defer h.engine.Leave(ctx, session, participant, conn)

	err = conn.ReadLoop(func(m Inbound) {
		h.handle(ctx, session, participant, conn, m)
	})
	slog.InfoContext(ctx, "ws: connection ended",
		"session_id", session,
		"participant_id", participant,
		"reason", err,
	)
}

func (h *Handler) handle(ctx context.Context, session, participant string, conn *Conn, m Inbound) {
	switch m.Type {
	case domain.MessagePing:
		_ = conn.Send(ctx, domain.Message{Type: domain.MessagePong})

	case domain.MessageSubmitAnswer:
		var p SubmitAnswerPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			_ = conn.Send(ctx, domain.NewError("invalid_argument", "malformed submit_answer payload"))
			return
		}

		_, err := h.engine.SubmitAnswer(ctx, domain.Answer{
			SessionID:     session,
			QuestionID:    p.QuestionID,
			ParticipantID: participant,
			Answer:        p.Answer,
		})
		if err != nil {
			e := errors.Convert(err)
			_ = conn.Send(ctx, domain.NewError(e.Name(), e.Message))
		}

	default:
		_ = conn.Send(ctx, domain.NewError("invalid_argument", "unknown message type: "+string(m.Type)))
	}
}
