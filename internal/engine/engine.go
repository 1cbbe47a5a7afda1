// Package engine owns the session state machine. Every transition or scored answer is
// written through the session store or the scoring service first, then broadcast to the
// connections of the session.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/quiz"
	"github.com/victornm/livequiz/internal/registry"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/telemetry"
)

const defaultLeaderboardLimit = 10

type Config struct {
	EventBus *event.Bus
	Sessions *session.Store
	Quizzes  *quiz.Service
	Score    *score.Service
	Registry *registry.Registry
	// LeaderboardLimit is the size of the leaderboard attached to answer_submitted.
	LeaderboardLimit int
	NowFunc          func() time.Time
}

type Engine struct {
	eb       *event.Bus
	sessions *session.Store
	quizzes  *quiz.Service
	score    *score.Service
	registry *registry.Registry
	limit    int
	now      func() time.Time
}

func New(c Config) *Engine {
	e := &Engine{
		eb:       c.EventBus,
		sessions: c.Sessions,
		quizzes:  c.Quizzes,
		score:    c.Score,
		registry: c.Registry,
		limit:    c.LeaderboardLimit,
		now:      c.NowFunc,
	}

	if e.limit <= 0 {
		e.limit = defaultLeaderboardLimit
	}
	if e.now == nil {
		e.now = time.Now
	}

	e.eb.Subscribe(domain.EventNameParticipantDropped, func(ctx context.Context, ev event.Event) error {
		return e.participantDropped(ctx, ev.(domain.EventParticipantDropped))
	})

	return e
}

// CreateSession snapshots the questions of the quiz into a new waiting session.
func (e *Engine) CreateSession(ctx context.Context, quizID string) (*domain.Session, error) {
	q, err := e.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}

	ss := &domain.Session{
		SessionID:    uuid.Must(uuid.NewV7()).String(),
		QuizID:       q.ID,
		Status:       domain.StatusWaiting,
		Questions:    q.Questions,
		Participants: []string{},
		CreateTime:   e.now().UTC(),
	}
	ss.UpdateTime = ss.CreateTime
	ss = ss.Clone()

	if err := e.sessions.Create(ctx, ss); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "engine: session created", "session_id", ss.SessionID, "quiz_id", quizID)
	return ss, nil
}

func (e *Engine) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return e.sessions.Get(ctx, id)
}

// StartSession moves a waiting session with at least one question to its first question.
func (e *Engine) StartSession(ctx context.Context, id string) (*domain.Session, error) {
	ss, err := e.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ss.Status != domain.StatusWaiting {
		return nil, errors.InvalidState("session %s is %s, only a waiting session can start", id, ss.Status)
	}
	if len(ss.Questions) == 0 {
		return nil, errors.InvalidState("session %s has no questions", id)
	}

	now := e.now().UTC()
	ss, err = e.transition(ctx, id, domain.StatusWaiting, session.Mutation{
		CurrentQuestion:   ptr(0),
		StartTime:         &now,
		QuestionStartTime: &now,
	})
	if err != nil {
		return nil, err
	}

	e.broadcast(ctx, ss.SessionID, domain.NewQuestionMessage(domain.MessageSessionStarted, ss), "")
	return ss, nil
}

// NextQuestion advances an active session. Advancing past the last question completes it.
func (e *Engine) NextQuestion(ctx context.Context, id string) (*domain.Session, error) {
	ss, err := e.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ss.Status != domain.StatusActive {
		return nil, errors.InvalidState("session %s is %s, only an active session can advance", id, ss.Status)
	}

	next := ss.CurrentQuestion + 1
	if next >= len(ss.Questions) {
		return e.complete(ctx, id)
	}

	now := e.now().UTC()
	ss, err = e.sessions.Update(ctx, id, session.Mutation{
		RequireStatus:     domain.StatusActive,
		RequireQuestion:   ptr(ss.CurrentQuestion),
		CurrentQuestion:   &next,
		QuestionStartTime: &now,
	})
	if err != nil {
		return nil, err
	}

	e.broadcast(ctx, ss.SessionID, domain.NewQuestionMessage(domain.MessageQuestionChanged, ss), "")
	return ss, nil
}

// EndSession completes an active session and broadcasts the final leaderboard.
func (e *Engine) EndSession(ctx context.Context, id string) (*domain.Session, error) {
	ss, err := e.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ss.Status != domain.StatusActive {
		return nil, errors.InvalidState("session %s is %s, only an active session can end", id, ss.Status)
	}

	return e.complete(ctx, id)
}

func (e *Engine) complete(ctx context.Context, id string) (*domain.Session, error) {
	now := e.now().UTC()
	ss, err := e.transition(ctx, id, domain.StatusActive, session.Mutation{EndTime: &now})
	if err != nil {
		return nil, err
	}

	l, err := e.score.Leaderboard(ctx, id, 0)
	if err != nil {
		slog.ErrorContext(ctx, "engine: final leaderboard failed", "session_id", id, "error", err)
		l = &domain.Leaderboard{SessionID: id, Entries: []domain.LeaderboardEntry{}}
	}

	e.broadcast(ctx, id, domain.Message{
		Type: domain.MessageSessionCompleted,
		Payload: domain.SessionCompletedPayload{
			SessionID:   id,
			Status:      ss.Status,
			Leaderboard: l.Entries,
		},
	}, "")

	e.eb.Publish(ctx, domain.EventSessionCompleted{
		Session:     *ss.Clone(),
		Leaderboard: *l,
	})

	return ss, nil
}

// SubmitAnswer scores the answer and broadcasts the result with the refreshed leaderboard
// to everybody in the session. The submission time is the server's clock.
func (e *Engine) SubmitAnswer(ctx context.Context, a domain.Answer) (*score.Result, error) {
	ss, err := e.sessions.Get(ctx, a.SessionID)
	if err != nil {
		return nil, err
	}

	a.SubmitTime = e.now().UTC()
	res, err := e.score.Score(ctx, ss, a)
	if err != nil {
		return nil, err
	}

	payload := domain.AnswerSubmittedPayload{
		ParticipantID: a.ParticipantID,
		Correct:       res.Correct,
		Points:        int(res.Points),
		Leaderboard:   []domain.LeaderboardEntry{},
	}

	l, err := e.score.Leaderboard(ctx, a.SessionID, e.limit)
	if err != nil {
		slog.ErrorContext(ctx, "engine: leaderboard failed", "session_id", a.SessionID, "error", err)
	} else {
		payload.Leaderboard = l.Entries
	}

	e.broadcast(ctx, a.SessionID, domain.Message{Type: domain.MessageAnswerSubmitted, Payload: payload}, "")
	return res, nil
}

// AddParticipant adds the participant to the session. Adding a present participant is a
// no-op and is never announced.
func (e *Engine) AddParticipant(ctx context.Context, id, participant string, notify bool) (*domain.Session, error) {
	ss, added, err := e.sessions.AddParticipant(ctx, id, participant)
	if err != nil {
		return nil, err
	}

	if notify && added {
		e.broadcast(ctx, id, domain.NewParticipantMessage(domain.MessageParticipantJoined, participant, ss), "")
	}
	return ss, nil
}

// RemoveParticipant removes the participant if present. It is only called once the
// participant has no connection left.
func (e *Engine) RemoveParticipant(ctx context.Context, id, participant string, notify bool) (*domain.Session, error) {
	ss, err := e.sessions.Update(ctx, id, session.Mutation{RemoveParticipant: participant})
	if err != nil {
		return nil, err
	}

	if notify {
		e.broadcast(ctx, id, domain.NewParticipantMessage(domain.MessageParticipantLeft, participant, ss), participant)
	}
	return ss, nil
}

func (e *Engine) Leaderboard(ctx context.Context, id string, limit int) (*domain.Leaderboard, error) {
	if _, err := e.sessions.Get(ctx, id); err != nil {
		return nil, err
	}

	return e.score.Leaderboard(ctx, id, limit)
}

func (e *Engine) RebuildLeaderboard(ctx context.Context, id string) (*domain.Leaderboard, error) {
	if _, err := e.sessions.Get(ctx, id); err != nil {
		return nil, err
	}

	return e.score.RebuildLeaderboard(ctx, id)
}

// Join registers conn as the participant's only connection, sends it the session snapshot
// and adds the participant to the session. When the session cannot be resolved the
// connection is told why and closed.
func (e *Engine) Join(ctx context.Context, id, participant string, conn registry.Conn) error {
	e.registry.Join(ctx, id, participant, conn)

	ss, err := e.sessions.Get(ctx, id)
	if err != nil {
		e.reject(ctx, id, participant, conn, err)
		return err
	}

	if err := conn.Send(ctx, domain.NewSessionState(ss)); err != nil {
		e.registry.Leave(id, participant, conn)
		if err := conn.Close(); err != nil {
			slog.DebugContext(ctx, "engine: close connection failed", "error", err)
		}
		return fmt.Errorf("engine: send session state: %w", err)
	}

	if _, err := e.AddParticipant(ctx, id, participant, true); err != nil {
		e.reject(ctx, id, participant, conn, err)
		return err
	}

	slog.InfoContext(ctx, "engine: participant joined", "session_id", id, "participant_id", participant)
	return nil
}

// Leave unregisters conn and removes the participant once it has no connection left. It
// reports whether the participant was fully disconnected.
func (e *Engine) Leave(ctx context.Context, id, participant string, conn registry.Conn) bool {
	if !e.registry.Leave(id, participant, conn) {
		slog.InfoContext(ctx, "engine: participant still connected", "session_id", id, "participant_id", participant)
		return false
	}

	if _, err := e.RemoveParticipant(ctx, id, participant, true); err != nil {
		slog.ErrorContext(ctx, "engine: remove participant failed",
			"session_id", id,
			"participant_id", participant,
			"error", err,
		)
	}

	slog.InfoContext(ctx, "engine: participant left", "session_id", id, "participant_id", participant)
	return true
}

func (e *Engine) reject(ctx context.Context, id, participant string, conn registry.Conn, err error) {
	qe := errors.Convert(err)
	if sendErr := conn.Send(ctx, domain.NewError(qe.Name(), qe.Message)); sendErr != nil {
		slog.DebugContext(ctx, "engine: send error failed", "error", sendErr)
	}

	e.registry.Leave(id, participant, conn)
	if err := conn.Close(); err != nil {
		slog.DebugContext(ctx, "engine: close rejected connection failed", "error", err)
	}
}

// participantDropped removes a participant whose last connection failed. A reconnect that
// races the removal puts the participant back.
func (e *Engine) participantDropped(ctx context.Context, ev domain.EventParticipantDropped) error {
	id, p := ev.SessionID, ev.ParticipantID
	if e.registry.ActiveConnectionCount(id, p) > 0 {
		return nil
	}

	ss, err := e.sessions.Update(ctx, id, session.Mutation{RemoveParticipant: p})
	if err != nil {
		return err
	}

	if e.registry.ActiveConnectionCount(id, p) > 0 {
		slog.InfoContext(ctx, "engine: participant reconnected while dropped", "session_id", id, "participant_id", p)
		_, _, err := e.sessions.AddParticipant(ctx, id, p)
		return err
	}

	e.broadcast(ctx, id, domain.NewParticipantMessage(domain.MessageParticipantLeft, p, ss), p)
	return nil
}

// transition moves the session from its current status to the next one, applying m in the
// same guarded update.
func (e *Engine) transition(ctx context.Context, id string, from domain.Status, m session.Mutation) (*domain.Session, error) {
	to, ok := from.Next()
	if !ok {
		return nil, errors.InvalidState("session %s is %s, it cannot change status", id, from)
	}

	m.RequireStatus = from
	m.Status = &to

	ss, err := e.sessions.Update(ctx, id, m)
	if err != nil {
		return nil, err
	}

	e.transitioned(ctx, ss)
	return ss, nil
}

func (e *Engine) broadcast(ctx context.Context, id string, m domain.Message, exclude string) {
	e.registry.Broadcast(ctx, id, m, exclude)
	e.eb.Publish(ctx, domain.EventSessionBroadcast{SessionID: id, Message: m})
}

func (e *Engine) transitioned(ctx context.Context, ss *domain.Session) {
	telemetry.StateTransitions.WithLabelValues(string(ss.Status)).Inc()
	slog.InfoContext(ctx, "engine: session transitioned", "session_id", ss.SessionID, "status", ss.Status)
}

func ptr[T any](v T) *T { return &v }
