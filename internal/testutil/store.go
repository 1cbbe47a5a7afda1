package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/victornm/livequiz/internal/domain"
	qerrors "github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/session"
)

// SessionStore is an in-memory session.Durable.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	err      error
	finds    int
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*domain.Session)}
}

// FailWith makes every following call return err, nil restores normal behavior.
func (s *SessionStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err
}

func (s *SessionStore) Insert(_ context.Context, ss *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	if _, ok := s.sessions[ss.SessionID]; ok {
		return qerrors.New(qerrors.CodeAlreadyExists)
	}

	s.sessions[ss.SessionID] = ss.Clone()
	return nil
}

func (s *SessionStore) Find(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finds++
	if s.err != nil {
		return nil, s.err
	}

	ss, ok := s.sessions[id]
	if !ok {
		return nil, qerrors.NotFound("session not found: %s", id)
	}

	return ss.Clone(), nil
}

func (s *SessionStore) Update(_ context.Context, id string, m session.Mutation) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	ss, ok := s.sessions[id]
	if !ok {
		return nil, qerrors.NotFound("session not found: %s", id)
	}
	if err := m.Check(ss); err != nil {
		return nil, err
	}

	m.Apply(ss, time.Now())
	return ss.Clone(), nil
}

func (s *SessionStore) AddParticipant(_ context.Context, id, p string) (*domain.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, false, s.err
	}

	ss, ok := s.sessions[id]
	if !ok {
		return nil, false, qerrors.NotFound("session not found: %s", id)
	}

	added := session.AddParticipant(ss, p, time.Now())
	return ss.Clone(), added, nil
}

// FindCalls returns how many times Find reached the durable store.
func (s *SessionStore) FindCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.finds
}

// FlakyCache wraps a session.Cache and fails every call while Broken is set.
type FlakyCache struct {
	session.Cache

	mu     sync.Mutex
	broken bool
}

var ErrCacheDown = errors.New("testutil: cache down")

func (c *FlakyCache) Break(b bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.broken = b
}

func (c *FlakyCache) isBroken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.broken
}

func (c *FlakyCache) Get(ctx context.Context, id string) (*domain.Session, error) {
	if c.isBroken() {
		return nil, ErrCacheDown
	}
	return c.Cache.Get(ctx, id)
}

func (c *FlakyCache) Set(ctx context.Context, ss *domain.Session) error {
	if c.isBroken() {
		return ErrCacheDown
	}
	return c.Cache.Set(ctx, ss)
}

func (c *FlakyCache) Delete(ctx context.Context, id string) error {
	if c.isBroken() {
		return ErrCacheDown
	}
	return c.Cache.Delete(ctx, id)
}
