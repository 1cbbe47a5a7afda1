package testutil

import (
	"context"
	"sync"

	qerrors "github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/score"
)

// Audit is an in-memory score.Audit.
type Audit struct {
	mu      sync.Mutex
	records []score.Record
	err     error
}

func NewAudit() *Audit {
	return &Audit{}
}

// FailWith makes every following call return err, nil restores normal behavior.
func (a *Audit) FailWith(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.err = err
}

func (a *Audit) Insert(_ context.Context, r score.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil {
		return a.err
	}
	for _, old := range a.records {
		if old.SessionID == r.SessionID && old.QuestionID == r.QuestionID && old.ParticipantID == r.ParticipantID {
			return qerrors.New(qerrors.CodeAlreadyExists)
		}
	}

	a.records = append(a.records, r)
	return nil
}

func (a *Audit) Totals(_ context.Context, session string) (map[string]int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil {
		return nil, a.err
	}

	m := make(map[string]int64)
	for _, r := range a.records {
		if r.SessionID == session {
			m[r.ParticipantID] += r.Points
		}
	}
	return m, nil
}

func (a *Audit) Records() []score.Record {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]score.Record(nil), a.records...)
}
