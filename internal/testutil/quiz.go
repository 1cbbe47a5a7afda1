package testutil

import (
	"context"
	"sync"

	"github.com/victornm/livequiz/internal/domain"
	qerrors "github.com/victornm/livequiz/internal/errors"
)

// QuizRepository is an in-memory quiz.Repository.
type QuizRepository struct {
	mu      sync.Mutex
	quizzes map[string]domain.Quiz
}

func NewQuizRepository() *QuizRepository {
	return &QuizRepository{quizzes: make(map[string]domain.Quiz)}
}

func (r *QuizRepository) Insert(_ context.Context, q *domain.Quiz) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.quizzes[q.ID]; ok {
		return qerrors.New(qerrors.CodeAlreadyExists)
	}
	r.quizzes[q.ID] = *q
	return nil
}

func (r *QuizRepository) Get(_ context.Context, id string) (*domain.Quiz, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.quizzes[id]
	if !ok {
		return nil, qerrors.NotFound("quiz not found: %s", id)
	}
	return &q, nil
}
