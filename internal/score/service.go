package score

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/telemetry"
)

const (
	// grace is added to every question time limit.
	grace    = time.Second
	guardTTL = 24 * time.Hour
)

// Record is the audit entry of one scored answer.
type Record struct {
	SessionID     string
	QuestionID    string
	ParticipantID string
	Answer        string
	Correct       bool
	Points        int64
	SubmitTime    time.Time
}

// Audit is the append-only log of scored answers. Insert returns AlreadyExists when the
// participant already answered the question.
type Audit interface {
	Insert(ctx context.Context, r Record) error
	// Totals sums the awarded points per participant of a session.
	Totals(ctx context.Context, session string) (map[string]int64, error)
}

type Config struct {
	Leaderboard *leaderboard.Service
	Audit       Audit
	Redis       redis.UniversalClient
	Prefix      string
}

type Service struct {
	lb     *leaderboard.Service
	audit  Audit
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	return &Service{
		lb:     c.Leaderboard,
		audit:  c.Audit,
		redis:  c.Redis,
		prefix: c.Prefix,
	}
}

type Result struct {
	Correct bool
	Points  int64
	// Total is the participant's cumulative score after this answer.
	Total int64
}

// Score grades the answer against the current question of the session, records it and
// adds the awarded points to the participant's total. Only the first answer of a
// participant to a question is scored.
func (s *Service) Score(ctx context.Context, ss *domain.Session, a domain.Answer) (*Result, error) {
	if ss == nil {
		return nil, errors.NotFound("session not found: %s", a.SessionID)
	}
	if ss.Status != domain.StatusActive {
		return nil, errors.InvalidState("session %s is %s, answers are not accepted", ss.SessionID, ss.Status)
	}

	q, ok := ss.Current()
	if !ok {
		return nil, errors.InvalidState("session %s has no current question", ss.SessionID)
	}
	if a.QuestionID != "" && a.QuestionID != q.ID {
		return nil, errors.InvalidArgument("question %s is not the current question", a.QuestionID)
	}
	if expired(q, ss.QuestionStartTime, a.SubmitTime) {
		return nil, errors.InvalidState("time is up for question %s", q.ID)
	}

	if err := s.guard(ctx, ss.SessionID, q.ID, a.ParticipantID); err != nil {
		return nil, err
	}

	correct := a.Answer == q.CorrectAnswer
	var points int64
	if correct {
		points = int64(q.Points)
	}

	err := s.audit.Insert(ctx, Record{
		SessionID:     ss.SessionID,
		QuestionID:    q.ID,
		ParticipantID: a.ParticipantID,
		Answer:        a.Answer,
		Correct:       correct,
		Points:        points,
		SubmitTime:    a.SubmitTime,
	})
	if err != nil {
		if errors.Is(err, errors.CodeAlreadyExists) {
			return nil, errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("answer is already submitted: session=%s participant=%s question=%s", ss.SessionID, a.ParticipantID, q.ID),
				errors.WithCause(err))
		}

		s.release(ctx, ss.SessionID, q.ID, a.ParticipantID)
		return nil, fmt.Errorf("score: audit: %w", err)
	}

	total, err := s.lb.Increment(ctx, ss.SessionID, a.ParticipantID, points)
	if err != nil {
		// The audit record exists, RebuildLeaderboard recovers the total.
		slog.ErrorContext(ctx, "score: increment failed",
			"session_id", ss.SessionID,
			"participant_id", a.ParticipantID,
			"error", err,
		)
		return nil, fmt.Errorf("score: %w", err)
	}

	telemetry.AnswersScored.WithLabelValues(strconv.FormatBool(correct)).Inc()

	return &Result{
		Correct: correct,
		Points:  points,
		Total:   total,
	}, nil
}

// Leaderboard returns the top limit entries of the session. A limit <= 0 returns everyone.
func (s *Service) Leaderboard(ctx context.Context, session string, limit int) (*domain.Leaderboard, error) {
	return s.lb.Top(ctx, session, limit)
}

// RebuildLeaderboard recomputes every total of the session from the audit log.
func (s *Service) RebuildLeaderboard(ctx context.Context, session string) (*domain.Leaderboard, error) {
	totals, err := s.audit.Totals(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("score: totals: %w", err)
	}

	if err := s.lb.Reset(ctx, session, totals); err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}

	slog.InfoContext(ctx, "score: leaderboard rebuilt",
		"session_id", session,
		"participants", len(totals),
	)

	return s.lb.Top(ctx, session, 0)
}

// guard claims the (session, question, participant) slot, losing the race means the answer
// is a duplicate.
func (s *Service) guard(ctx context.Context, session, question, participant string) error {
	ok, err := s.redis.SetNX(ctx, s.getAnsweredKey(session, question, participant), 1, guardTTL).Result()
	if err != nil {
		return fmt.Errorf("score: setnx: %w", err)
	}

	if !ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("answer is already submitted: session=%s participant=%s question=%s", session, participant, question))
	}

	return nil
}

func (s *Service) release(ctx context.Context, session, question, participant string) {
	if err := s.redis.Del(ctx, s.getAnsweredKey(session, question, participant)).Err(); err != nil {
		slog.WarnContext(ctx, "score: release answer guard failed", "error", err)
	}
}

func (s *Service) getAnsweredKey(session, question, participant string) string {
	return fmt.Sprintf("%s:%s:answered:%s:%s", s.prefix, session, question, participant)
}

func expired(q domain.Question, start *time.Time, at time.Time) bool {
	if q.TimeLimit <= 0 || start == nil || at.IsZero() {
		return false
	}

	deadline := start.Add(time.Duration(q.TimeLimit)*time.Second + grace)
	return at.After(deadline)
}
