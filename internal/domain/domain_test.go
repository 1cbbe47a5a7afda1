package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
)

func TestStatus_Next(t *testing.T) {
	next, ok := domain.StatusWaiting.Next()
	require.True(t, ok)
	require.Equal(t, domain.StatusActive, next)

	next, ok = domain.StatusActive.Next()
	require.True(t, ok)
	require.Equal(t, domain.StatusCompleted, next)

	_, ok = domain.StatusCompleted.Next()
	require.False(t, ok, "completed is terminal")
}

func TestSession_Current(t *testing.T) {
	s := &domain.Session{
		Status:    domain.StatusWaiting,
		Questions: []domain.Question{{ID: "q1"}, {ID: "q2"}},
	}

	_, ok := s.Current()
	assert.False(t, ok, "waiting session has no current question")

	s.Status = domain.StatusActive
	s.CurrentQuestion = 1
	q, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "q2", q.ID)

	s.CurrentQuestion = 2
	_, ok = s.Current()
	assert.False(t, ok, "index out of range")
}

func TestNewQuestionMessage_HidesCorrectAnswer(t *testing.T) {
	s := &domain.Session{
		SessionID: "s1",
		Status:    domain.StatusActive,
		Questions: []domain.Question{
			{ID: "q1", Text: "2+2?", Options: []string{"3", "4"}, CorrectAnswer: "4", Points: 10},
		},
	}

	m := domain.NewQuestionMessage(domain.MessageSessionStarted, s)
	b, err := json.Marshal(m)
	require.NoError(t, err)

	assert.NotContains(t, string(b), "correct_answer")
	assert.Contains(t, string(b), `"type":"session_started"`)
	assert.Contains(t, string(b), `"question_number":1`)
	assert.Contains(t, string(b), `"participants":[]`)
}
