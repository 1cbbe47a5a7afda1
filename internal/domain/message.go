package domain

type MessageType string

// Server to client.
const (
	MessageSessionState      MessageType = "session_state"
	MessageSessionStarted    MessageType = "session_started"
	MessageQuestionChanged   MessageType = "question_changed"
	MessageSessionCompleted  MessageType = "session_completed"
	MessageAnswerSubmitted   MessageType = "answer_submitted"
	MessageParticipantJoined MessageType = "participant_joined"
	MessageParticipantLeft   MessageType = "participant_left"
	MessageConnectionClosed  MessageType = "connection_closed"
	MessageError             MessageType = "error"
	MessagePong              MessageType = "pong"
)

// Client to server.
const (
	MessagePing         MessageType = "ping"
	MessageSubmitAnswer MessageType = "submit_answer"
)

// Message is the envelope exchanged with connected participants. Every message is a
// self-describing snapshot, receivers must not depend on ordering between messages.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

type SessionStatePayload struct {
	SessionID       string           `json:"session_id"`
	Status          Status           `json:"status"`
	CurrentQuestion int              `json:"current_question"`
	TotalQuestions  int              `json:"total_questions"`
	Questions       []PublicQuestion `json:"questions"`
	Participants    []string         `json:"participants"`
}

// QuestionPayload is used by session_started and question_changed.
type QuestionPayload struct {
	SessionID       string         `json:"session_id"`
	Status          Status         `json:"status"`
	CurrentQuestion PublicQuestion `json:"current_question"`
	QuestionNumber  int            `json:"question_number"`
	TotalQuestions  int            `json:"total_questions"`
	Participants    []string       `json:"participants"`
}

type SessionCompletedPayload struct {
	SessionID   string             `json:"session_id"`
	Status      Status             `json:"status"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type AnswerSubmittedPayload struct {
	ParticipantID string             `json:"user_id"`
	Correct       bool               `json:"is_correct"`
	Points        int                `json:"points"`
	Leaderboard   []LeaderboardEntry `json:"leaderboard"`
}

type ParticipantPayload struct {
	ParticipantID string   `json:"user_id"`
	Participants  []string `json:"participants"`
}

type ConnectionClosedPayload struct {
	Reason string `json:"reason"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewSessionState(s *Session) Message {
	qs := make([]PublicQuestion, 0, len(s.Questions))
	for _, q := range s.Questions {
		qs = append(qs, q.Public())
	}

	return Message{
		Type: MessageSessionState,
		Payload: SessionStatePayload{
			SessionID:       s.SessionID,
			Status:          s.Status,
			CurrentQuestion: s.CurrentQuestion,
			TotalQuestions:  len(s.Questions),
			Questions:       qs,
			Participants:    participantsOf(s),
		},
	}
}

// NewQuestionMessage builds a session_started or question_changed message for the
// current question of an active session.
func NewQuestionMessage(t MessageType, s *Session) Message {
	q, _ := s.Current()
	return Message{
		Type: t,
		Payload: QuestionPayload{
			SessionID:       s.SessionID,
			Status:          s.Status,
			CurrentQuestion: q.Public(),
			QuestionNumber:  s.CurrentQuestion + 1,
			TotalQuestions:  len(s.Questions),
			Participants:    participantsOf(s),
		},
	}
}

func NewParticipantMessage(t MessageType, participant string, s *Session) Message {
	return Message{
		Type: t,
		Payload: ParticipantPayload{
			ParticipantID: participant,
			Participants:  participantsOf(s),
		},
	}
}

func NewConnectionClosed(reason string) Message {
	return Message{
		Type:    MessageConnectionClosed,
		Payload: ConnectionClosedPayload{Reason: reason},
	}
}

func NewError(code, msg string) Message {
	return Message{
		Type:    MessageError,
		Payload: ErrorPayload{Code: code, Message: msg},
	}
}

func participantsOf(s *Session) []string {
	if s.Participants == nil {
		return []string{}
	}
	return s.Participants
}
