package session

import (
	"slices"
	"time"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

// Mutation is a single-document update the durable store applies atomically. Every applied
// mutation increments the session version. Participant removal uses set semantics, never
// read-modify-write.
type Mutation struct {
	// RequireStatus makes the update conditional on the stored status.
	RequireStatus domain.Status
	// RequireQuestion makes the update conditional on the stored question index.
	RequireQuestion *int

	Status            *domain.Status
	CurrentQuestion   *int
	StartTime         *time.Time
	EndTime           *time.Time
	QuestionStartTime *time.Time

	RemoveParticipant string
}

// Check returns InvalidState when s does not satisfy the mutation's guard.
func (m Mutation) Check(s *domain.Session) error {
	if m.RequireStatus != "" && s.Status != m.RequireStatus {
		return errors.InvalidState("session %s is %s, expected %s", s.SessionID, s.Status, m.RequireStatus)
	}
	if m.RequireQuestion != nil && s.CurrentQuestion != *m.RequireQuestion {
		return errors.InvalidState("session %s moved to question %d", s.SessionID, s.CurrentQuestion+1)
	}
	return nil
}

// Apply mutates s in place. Stores that cannot express the update natively use it.
func (m Mutation) Apply(s *domain.Session, now time.Time) {
	if m.Status != nil {
		s.Status = *m.Status
	}
	if m.CurrentQuestion != nil {
		s.CurrentQuestion = *m.CurrentQuestion
	}
	if m.StartTime != nil {
		t := *m.StartTime
		s.StartTime = &t
	}
	if m.EndTime != nil {
		t := *m.EndTime
		s.EndTime = &t
	}
	if m.QuestionStartTime != nil {
		t := *m.QuestionStartTime
		s.QuestionStartTime = &t
	}
	if m.RemoveParticipant != "" {
		s.Participants = slices.DeleteFunc(s.Participants, func(p string) bool {
			return p == m.RemoveParticipant
		})
	}
	s.UpdateTime = now
	s.Version++
}

// AddParticipant appends p to the participants of s unless present. It reports whether the
// set changed, only then is the version incremented.
func AddParticipant(s *domain.Session, p string, now time.Time) bool {
	if slices.Contains(s.Participants, p) {
		return false
	}

	s.Participants = append(s.Participants, p)
	s.UpdateTime = now
	s.Version++
	return true
}
