package domain

import (
	"slices"
	"time"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Next returns the only status a session may move to from s.
func (s Status) Next() (Status, bool) {
	switch s {
	case StatusWaiting:
		return StatusActive, true
	case StatusActive:
		return StatusCompleted, true
	default:
		return "", false
	}
}

type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeTrueFalse      QuestionType = "true_false"
)

// Question is embedded into a session as an immutable snapshot.
type Question struct {
	ID            string       `json:"id" bson:"id"`
	Text          string       `json:"text" bson:"text"`
	Type          QuestionType `json:"type" bson:"type"`
	Options       []string     `json:"options" bson:"options"`
	CorrectAnswer string       `json:"correct_answer" bson:"correct_answer"`
	Points        int          `json:"points" bson:"points"`
	// TimeLimit is in seconds, 0 disables the limit.
	TimeLimit int `json:"time_limit" bson:"time_limit"`
}

// Public strips the correct answer so the question can be sent to participants.
func (q Question) Public() PublicQuestion {
	return PublicQuestion{
		ID:        q.ID,
		Text:      q.Text,
		Type:      q.Type,
		Options:   slices.Clone(q.Options),
		Points:    q.Points,
		TimeLimit: q.TimeLimit,
	}
}

type PublicQuestion struct {
	ID        string       `json:"id"`
	Text      string       `json:"text"`
	Type      QuestionType `json:"type"`
	Options   []string     `json:"options"`
	Points    int          `json:"points"`
	TimeLimit int          `json:"time_limit"`
}

type Quiz struct {
	ID          string     `json:"id" bson:"_id"`
	Title       string     `json:"title" bson:"title"`
	Description string     `json:"description" bson:"description"`
	Questions   []Question `json:"questions" bson:"questions"`
	CreateTime  time.Time  `json:"created_at" bson:"created_at"`
	UpdateTime  time.Time  `json:"updated_at" bson:"updated_at"`
}

// Session is one live run of a quiz.
type Session struct {
	SessionID       string     `json:"id" bson:"_id"`
	QuizID          string     `json:"quiz_id" bson:"quiz_id"`
	Status          Status     `json:"status" bson:"status"`
	CurrentQuestion int        `json:"current_question" bson:"current_question"`
	Questions       []Question `json:"questions" bson:"questions"`
	Participants    []string   `json:"participants" bson:"participants"`
	CreateTime      time.Time  `json:"created_at" bson:"created_at"`
	StartTime       *time.Time `json:"start_time,omitempty" bson:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty" bson:"end_time,omitempty"`
	// QuestionStartTime is when the current question became current.
	QuestionStartTime *time.Time `json:"question_start_time,omitempty" bson:"question_start_time,omitempty"`
	UpdateTime        time.Time  `json:"updated_at" bson:"updated_at"`
	// Version grows with every durable update. A cached copy is never replaced by a
	// lower version.
	Version int64 `json:"version" bson:"version"`
}

// Current returns the current question, ok is false unless the session is active
// and the index is in range.
func (s *Session) Current() (Question, bool) {
	if s.Status != StatusActive || s.CurrentQuestion < 0 || s.CurrentQuestion >= len(s.Questions) {
		return Question{}, false
	}

	return s.Questions[s.CurrentQuestion], true
}

func (s *Session) HasParticipant(id string) bool {
	return slices.Contains(s.Participants, id)
}

// Answer is a participant's submission for the current question of a session.
type Answer struct {
	SessionID     string    `json:"session_id"`
	QuestionID    string    `json:"question_id"`
	ParticipantID string    `json:"user_id"`
	Answer        string    `json:"answer"`
	SubmitTime    time.Time `json:"timestamp"`
}

// Leaderboard is sorted by score in descending order.
type Leaderboard struct {
	SessionID string             `json:"session_id"`
	Entries   []LeaderboardEntry `json:"entries"`
}

type LeaderboardEntry struct {
	ParticipantID string `json:"user_id"`
	Score         int64  `json:"score"`
}

// Clone returns a deep copy so callers never share slices with a store.
func (s *Session) Clone() *Session {
	c := *s
	c.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		q.Options = slices.Clone(q.Options)
		c.Questions[i] = q
	}
	c.Participants = slices.Clone(s.Participants)
	if c.Participants == nil {
		c.Participants = []string{}
	}
	c.StartTime = cloneTime(s.StartTime)
	c.EndTime = cloneTime(s.EndTime)
	c.QuestionStartTime = cloneTime(s.QuestionStartTime)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
