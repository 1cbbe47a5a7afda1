package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/telemetry"
)

// ErrCacheMiss is returned by a Cache when the session is not cached.
var ErrCacheMiss = stderrors.New("session: cache miss")

// Durable is the source of truth for sessions. Find and Update return a NotFound error
// when the session does not exist.
type Durable interface {
	Insert(ctx context.Context, s *domain.Session) error
	Find(ctx context.Context, id string) (*domain.Session, error)
	// Update applies m atomically and returns the document after the update.
	Update(ctx context.Context, id string, m Mutation) (*domain.Session, error)
	// AddParticipant adds p atomically and reports whether the participant set changed.
	AddParticipant(ctx context.Context, id, p string) (*domain.Session, bool, error)
}

// Cache is the ephemeral, TTL bound copy of sessions.
type Cache interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	// Set stores s unless the cache already holds a higher version of it.
	Set(ctx context.Context, s *domain.Session) error
	Delete(ctx context.Context, id string) error
}

type Config struct {
	Durable Durable
	Cache   Cache
}

// Store is a cache-aside repository of sessions. Every read goes through read and every
// write through write, so the cache is refreshed the same way on every path.
type Store struct {
	durable Durable
	cache   Cache
}

func NewStore(c Config) *Store {
	return &Store{
		durable: c.Durable,
		cache:   c.Cache,
	}
}

// Create persists a new session then seeds the cache.
func (s *Store) Create(ctx context.Context, ss *domain.Session) error {
	if ss.Participants == nil {
		ss.Participants = []string{}
	}

	if err := s.durable.Insert(ctx, ss); err != nil {
		return fmt.Errorf("session: insert %s: %w", ss.SessionID, err)
	}

	s.write(ctx, ss)
	return nil
}

// Get returns the session, trusting the cache when it holds a copy.
func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	return s.read(ctx, id)
}

// Update applies m to the durable copy and overwrites the cache with the result.
func (s *Store) Update(ctx context.Context, id string, m Mutation) (*domain.Session, error) {
	ss, err := s.durable.Update(ctx, id, m)
	if err != nil {
		return nil, fmt.Errorf("session: update %s: %w", id, err)
	}

	s.write(ctx, ss)
	return ss, nil
}

// AddParticipant adds p to the session. added is false when p was already a participant.
func (s *Store) AddParticipant(ctx context.Context, id, p string) (ss *domain.Session, added bool, err error) {
	ss, added, err = s.durable.AddParticipant(ctx, id, p)
	if err != nil {
		return nil, false, fmt.Errorf("session: add participant %s: %w", id, err)
	}

	s.write(ctx, ss)
	return ss, added, nil
}

// Evict drops the cached copy, the next Get reads the durable store.
func (s *Store) Evict(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, id); err != nil {
		s.degraded(ctx, "delete", id, err)
	}
}

func (s *Store) read(ctx context.Context, id string) (*domain.Session, error) {
	ss, err := s.cache.Get(ctx, id)
	switch {
	case err == nil:
		return ss, nil
	case stderrors.Is(err, ErrCacheMiss):
	default:
		s.degraded(ctx, "get", id, err)
	}

	ss, err = s.durable.Find(ctx, id)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("session: find %s: %w", id, err)
	}

	s.write(ctx, ss)
	return ss, nil
}

// write refreshes the cache. Writes of concurrent updates may land in any order, the cache
// keeps the highest version. Failures are only logged. When the new value cannot be written
// the old one is dropped so it cannot outlive the update, and if even that fails the TTL
// bounds the staleness.
func (s *Store) write(ctx context.Context, ss *domain.Session) {
	err := s.cache.Set(ctx, ss)
	if err == nil {
		return
	}

	s.degraded(ctx, "set", ss.SessionID, err)
	if err := s.cache.Delete(ctx, ss.SessionID); err != nil {
		s.degraded(ctx, "delete", ss.SessionID, err)
	}
}

func (*Store) degraded(ctx context.Context, op, id string, err error) {
	telemetry.CacheDegraded.WithLabelValues(op).Inc()
	slog.WarnContext(ctx, "session: cache degraded",
		"op", op,
		"session_id", id,
		"error", err,
	)
}
