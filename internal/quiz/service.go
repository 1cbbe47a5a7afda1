package quiz

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

const (
	defaultPoints    = 1
	defaultTimeLimit = 30
)

// Repository persists quizzes. Get returns a NotFound error when the quiz does not exist.
type Repository interface {
	Insert(ctx context.Context, q *domain.Quiz) error
	Get(ctx context.Context, id string) (*domain.Quiz, error)
}

type Config struct {
	Repository Repository
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(c Config) *Service {
	return &Service{
		repo: c.Repository,
		now:  time.Now,
	}
}

// CreateQuizRequest is validated by its binding tags when it is bound from a request.
type CreateQuizRequest struct {
	Title       string           `json:"title" binding:"required"`
	Description string           `json:"description"`
	Questions   []QuestionFields `json:"questions" binding:"dive"`
}

type QuestionFields struct {
	Text string              `json:"text" binding:"required"`
	Type domain.QuestionType `json:"type" binding:"required,oneof=multiple_choice true_false"`
	// Options default to true and false for a true_false question.
	Options       []string `json:"options" binding:"required_if=Type multiple_choice,max=0|min=2"`
	CorrectAnswer string   `json:"correct_answer" binding:"required"`
	Points        *int     `json:"points" binding:"omitempty,gte=0"`
	TimeLimit     *int     `json:"time_limit" binding:"omitempty,gte=0"`
}

// CreateQuiz applies the question defaults, checks every correct answer is one of the
// options, assigns ids to the quiz and its questions and stores it.
func (s *Service) CreateQuiz(ctx context.Context, req CreateQuizRequest) (*domain.Quiz, error) {
	questions := make([]domain.Question, 0, len(req.Questions))
	for i, f := range req.Questions {
		q, err := newQuestion(f)
		if err != nil {
			return nil, errors.InvalidArgument("question %d: %s", i+1, err)
		}
		questions = append(questions, q)
	}

	now := s.now().UTC()
	q := &domain.Quiz{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Title:       req.Title,
		Description: req.Description,
		Questions:   questions,
		CreateTime:  now,
		UpdateTime:  now,
	}

	if err := s.repo.Insert(ctx, q); err != nil {
		return nil, fmt.Errorf("quiz: insert: %w", err)
	}

	return q, nil
}

func (s *Service) GetQuiz(ctx context.Context, id string) (*domain.Quiz, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("quiz: get %s: %w", id, err)
	}

	return q, nil
}

func newQuestion(f QuestionFields) (domain.Question, error) {
	options := f.Options
	if f.Type == domain.QuestionTypeTrueFalse && len(options) == 0 {
		options = []string{"true", "false"}
	}

	if !slices.Contains(options, f.CorrectAnswer) {
		return domain.Question{}, fmt.Errorf("correct answer %q is not an option", f.CorrectAnswer)
	}

	points := defaultPoints
	if f.Points != nil {
		points = *f.Points
	}

	limit := defaultTimeLimit
	if f.TimeLimit != nil {
		limit = *f.TimeLimit
	}

	return domain.Question{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Text:          f.Text,
		Type:          f.Type,
		Options:       slices.Clone(options),
		CorrectAnswer: f.CorrectAnswer,
		Points:        points,
		TimeLimit:     limit,
	}, nil
}
