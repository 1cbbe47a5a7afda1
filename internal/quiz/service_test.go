package quiz_test

import (
	"context"
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	qerrors "github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/quiz"
	"github.com/victornm/livequiz/internal/testutil"
)

func TestService_CreateQuiz(t *testing.T) {
	type outputs struct {
		quiz *domain.Quiz
		err  error
	}

	tests := map[string]struct {
		arrange func() quiz.CreateQuizRequest
		assert  func(t *testing.T, out outputs)
	}{
		"defaults are applied": {
			arrange: func() quiz.CreateQuizRequest {
				return quiz.CreateQuizRequest{
					Title: "Math",
					Questions: []quiz.QuestionFields{
						{Text: "2+2?", Type: domain.QuestionTypeMultipleChoice, Options: []string{"3", "4"}, CorrectAnswer: "4"},
						{Text: "1 is odd", Type: domain.QuestionTypeTrueFalse, CorrectAnswer: "true", Points: ptr(5), TimeLimit: ptr(0)},
					},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.Len(t, out.quiz.Questions, 2)

				q1, q2 := out.quiz.Questions[0], out.quiz.Questions[1]
				assert.NotEmpty(t, q1.ID)
				assert.NotEqual(t, q1.ID, q2.ID)
				assert.Equal(t, 1, q1.Points)
				assert.Equal(t, 30, q1.TimeLimit)
				assert.Equal(t, 5, q2.Points)
				assert.Equal(t, 0, q2.TimeLimit)
				assert.Equal(t, []string{"true", "false"}, q2.Options)
			},
		},
		"no questions is allowed": {
			arrange: func() quiz.CreateQuizRequest {
				return quiz.CreateQuizRequest{Title: "Empty"}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.Empty(t, out.quiz.Questions)
			},
		},
		"correct answer not an option": {
			arrange: func() quiz.CreateQuizRequest {
				return quiz.CreateQuizRequest{
					Title: "Math",
					Questions: []quiz.QuestionFields{
						{Text: "2+2?", Type: domain.QuestionTypeMultipleChoice, Options: []string{"3", "5"}, CorrectAnswer: "4"},
					},
				}
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, qerrors.Is(out.err, qerrors.CodeInvalidArgument))
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := quiz.NewService(quiz.Config{Repository: testutil.NewQuizRepository()})

			var out outputs
			out.quiz, out.err = s.CreateQuiz(context.Background(), tt.arrange())

			tt.assert(t, out)
		})
	}
}

func TestService_GetQuiz(t *testing.T) {
	s := quiz.NewService(quiz.Config{Repository: testutil.NewQuizRepository()})
	ctx := context.Background()

	created, err := s.CreateQuiz(ctx, quiz.CreateQuizRequest{Title: "Math"})
	require.NoError(t, err)

	got, err := s.GetQuiz(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = s.GetQuiz(ctx, "missing")
	assert.True(t, qerrors.Is(err, qerrors.CodeNotFound))
}

func TestCreateQuizRequest_Binding(t *testing.T) {
	valid := func() quiz.QuestionFields {
		return quiz.QuestionFields{Text: "2+2?", Type: domain.QuestionTypeMultipleChoice, Options: []string{"3", "4"}, CorrectAnswer: "4"}
	}

	tests := map[string]struct {
		arrange func() quiz.CreateQuizRequest
		wantErr bool
	}{
		"valid": {
			arrange: func() quiz.CreateQuizRequest {
				return quiz.CreateQuizRequest{Title: "Math", Questions: []quiz.QuestionFields{valid()}}
			},
		},
		"true false without options": {
			arrange: func() quiz.CreateQuizRequest {
				return quiz.CreateQuizRequest{Title: "Math", Questions: []quiz.QuestionFields{
					{Text: "1 is odd", Type: domain.QuestionTypeTrueFalse, CorrectAnswer: "true"},
				}}
			},
		},
		"no questions": {
			arrange: func() quiz.CreateQuizRequest {
				return quiz.CreateQuizRequest{Title: "Empty"}
			},
		},
		"missing title": {
			arrange: func() quiz.CreateQuizRequest {
				return quiz.CreateQuizRequest{Questions: []quiz.QuestionFields{valid()}}
			},
			wantErr: true,
		},
		"missing text": {
			arrange: func() quiz.CreateQuizRequest {
				q := valid()
				q.Text = ""
				return quiz.CreateQuizRequest{Title: "Math", Questions: []quiz.QuestionFields{q}}
			},
			wantErr: true,
		},
		"unknown type": {
			arrange: func() quiz.CreateQuizRequest {
				q := valid()
				q.Type = "essay"
				return quiz.CreateQuizRequest{Title: "Math", Questions: []quiz.QuestionFields{q}}
			},
			wantErr: true,
		},
		"multiple choice without options": {
			arrange: func() quiz.CreateQuizRequest {
				q := valid()
				q.Options = nil
				return quiz.CreateQuizRequest{Title: "Math", Questions: []quiz.QuestionFields{q}}
			},
			wantErr: true,
		},
		"single option": {
			arrange: func() quiz.CreateQuizRequest {
				q := valid()
				q.Options = []string{"4"}
				return quiz.CreateQuizRequest{Title: "Math", Questions: []quiz.QuestionFields{q}}
			},
			wantErr: true,
		},
		"negative points": {
			arrange: func() quiz.CreateQuizRequest {
				q := valid()
				q.Points = ptr(-1)
				return quiz.CreateQuizRequest{Title: "Math", Questions: []quiz.QuestionFields{q}}
			},
			wantErr: true,
		},
		"negative time limit": {
			arrange: func() quiz.CreateQuizRequest {
				q := valid()
				q.TimeLimit = ptr(-5)
				return quiz.CreateQuizRequest{Title: "Math", Questions: []quiz.QuestionFields{q}}
			},
			wantErr: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := binding.Validator.ValidateStruct(tt.arrange())

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }
