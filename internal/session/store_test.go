package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	qerrors "github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/testutil"
)

type fixture struct {
	store   *session.Store
	durable *testutil.SessionStore
	cache   *testutil.FlakyCache
	flush   func()
}

func makeStore(t *testing.T) fixture {
	rs, rc := testutil.NewRedis(t)

	durable := testutil.NewSessionStore()
	cache := &testutil.FlakyCache{Cache: session.NewRedisCache(rc, "test", time.Hour)}

	return fixture{
		store:   session.NewStore(session.Config{Durable: durable, Cache: cache}),
		durable: durable,
		cache:   cache,
		flush:   rs.FlushAll,
	}
}

func newSession(id string) *domain.Session {
	return &domain.Session{
		SessionID: id,
		QuizID:    "quiz-1",
		Status:    domain.StatusWaiting,
		Questions: []domain.Question{
			{ID: "q1", Text: "2+2?", Type: domain.QuestionTypeMultipleChoice, Options: []string{"3", "4"}, CorrectAnswer: "4", Points: 10},
		},
		CreateTime: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	f := makeStore(t)
	ctx := context.Background()

	require.NoError(t, f.store.Create(ctx, newSession("s1")))

	got, err := f.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, []string{}, got.Participants)
	assert.Zero(t, f.durable.FindCalls(), "create should seed the cache")
}

func TestStore_GetReadsThroughOnMiss(t *testing.T) {
	f := makeStore(t)
	ctx := context.Background()

	require.NoError(t, f.store.Create(ctx, newSession("s1")))
	f.flush()

	_, err := f.store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 1, f.durable.FindCalls())

	_, err = f.store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 1, f.durable.FindCalls(), "the miss should have repopulated the cache")
}

func TestStore_GetNotFound(t *testing.T) {
	f := makeStore(t)

	_, err := f.store.Get(context.Background(), "missing")
	require.True(t, qerrors.Is(err, qerrors.CodeNotFound))
}

func TestStore_UpdateIsVisibleAfterCacheMiss(t *testing.T) {
	tests := map[string]struct {
		mutation session.Mutation
		assert   func(t *testing.T, s *domain.Session)
	}{
		"status and index": {
			mutation: session.Mutation{
				RequireStatus:   domain.StatusWaiting,
				Status:          ptr(domain.StatusActive),
				CurrentQuestion: ptr(0),
			},
			assert: func(t *testing.T, s *domain.Session) {
				assert.Equal(t, domain.StatusActive, s.Status)
				assert.Equal(t, 0, s.CurrentQuestion)
			},
		},
		"end time": {
			mutation: session.Mutation{EndTime: ptr(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))},
			assert: func(t *testing.T, s *domain.Session) {
				require.NotNil(t, s.EndTime)
				assert.True(t, s.EndTime.Equal(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)))
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := makeStore(t)
			ctx := context.Background()
			require.NoError(t, f.store.Create(ctx, newSession("s1")))

			updated, err := f.store.Update(ctx, "s1", tt.mutation)
			require.NoError(t, err)
			tt.assert(t, updated)
			assert.Equal(t, int64(1), updated.Version)

			cached, err := f.store.Get(ctx, "s1")
			require.NoError(t, err)
			tt.assert(t, cached)

			f.flush()
			fromDurable, err := f.store.Get(ctx, "s1")
			require.NoError(t, err)
			tt.assert(t, fromDurable)
		})
	}
}

func TestStore_ParticipantsUseSetSemantics(t *testing.T) {
	f := makeStore(t)
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, newSession("s1")))

	for _, step := range []struct {
		participant string
		added       bool
	}{{"a", true}, {"b", true}, {"a", false}} {
		_, added, err := f.store.AddParticipant(ctx, "s1", step.participant)
		require.NoError(t, err)
		assert.Equal(t, step.added, added, step.participant)
	}

	s, err := f.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Version, "adding a present participant does not bump the version")

	s, err = f.store.Update(ctx, "s1", session.Mutation{RemoveParticipant: "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, s.Participants, "removing an absent participant is a no-op")

	s, err = f.store.Update(ctx, "s1", session.Mutation{RemoveParticipant: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, s.Participants)
}

func TestStore_UpdateErrors(t *testing.T) {
	f := makeStore(t)
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, newSession("s1")))

	_, err := f.store.Update(ctx, "missing", session.Mutation{RemoveParticipant: "a"})
	assert.True(t, qerrors.Is(err, qerrors.CodeNotFound))

	_, _, err = f.store.AddParticipant(ctx, "missing", "a")
	assert.True(t, qerrors.Is(err, qerrors.CodeNotFound))

	_, err = f.store.Update(ctx, "s1", session.Mutation{RequireStatus: domain.StatusActive, Status: ptr(domain.StatusCompleted)})
	assert.True(t, qerrors.Is(err, qerrors.CodeInvalidState))

	s, err := f.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, s.Status, "failed guard must not change the session")
}

func TestStore_CacheDegraded(t *testing.T) {
	f := makeStore(t)
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, newSession("s1")))

	f.cache.Break(true)

	s, _, err := f.store.AddParticipant(ctx, "s1", "a")
	require.NoError(t, err, "cache failures are not fatal")
	assert.Equal(t, []string{"a"}, s.Participants)

	s, err = f.store.Get(ctx, "s1")
	require.NoError(t, err, "reads fall back to the durable store")
	assert.Equal(t, []string{"a"}, s.Participants)

	f.cache.Break(false)
	f.store.Evict(ctx, "s1")

	s, err = f.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, s.Participants)
	assert.Equal(t, 2, f.durable.FindCalls())
}

func TestStore_DurableFailureIsFatal(t *testing.T) {
	f := makeStore(t)
	f.durable.FailWith(errors.New("mongo down"))

	err := f.store.Create(context.Background(), newSession("s1"))
	require.Error(t, err)

	f.durable.FailWith(nil)
	_, err = f.store.Get(context.Background(), "s1")
	require.True(t, qerrors.Is(err, qerrors.CodeNotFound), "nothing should have been cached")
}

// heldCache holds back the write of one version until release is closed.
type heldCache struct {
	session.Cache

	version int64
	held    chan struct{}
	release chan struct{}
}

func (c *heldCache) Set(ctx context.Context, s *domain.Session) error {
	if s.Version == c.version {
		close(c.held)
		<-c.release
	}
	return c.Cache.Set(ctx, s)
}

func TestStore_LateCacheWriteKeepsNewerUpdate(t *testing.T) {
	_, rc := testutil.NewRedis(t)
	cache := &heldCache{
		Cache:   session.NewRedisCache(rc, "test", time.Hour),
		version: 1,
		held:    make(chan struct{}),
		release: make(chan struct{}),
	}
	store := session.NewStore(session.Config{Durable: testutil.NewSessionStore(), Cache: cache})
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newSession("s1")))

	joined := make(chan error, 1)
	go func() {
		_, _, err := store.AddParticipant(ctx, "s1", "slow")
		joined <- err
	}()

	select {
	case <-cache.held:
	case <-time.After(time.Second):
		t.Fatal("participant write never reached the cache")
	}

	_, err := store.Update(ctx, "s1", session.Mutation{
		RequireStatus: domain.StatusWaiting,
		Status:        ptr(domain.StatusActive),
	})
	require.NoError(t, err)

	close(cache.release)
	require.NoError(t, <-joined)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, []string{"slow"}, got.Participants)
	assert.Equal(t, int64(2), got.Version)
}

func TestRedisCache_Set(t *testing.T) {
	tests := map[string]struct {
		versions []int64
		want     int64
	}{
		"higher version replaces":  {versions: []int64{1, 2}, want: 2},
		"lower version is ignored": {versions: []int64{3, 2}, want: 3},
		"same version replaces":    {versions: []int64{2, 2}, want: 2},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rs, rc := testutil.NewRedis(t)
			c := session.NewRedisCache(rc, "test", time.Hour)
			ctx := context.Background()

			for i, v := range tt.versions {
				s := newSession("s1")
				s.Version = v
				s.CurrentQuestion = i
				require.NoError(t, c.Set(ctx, s))
			}

			got, err := c.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Version)
			if tt.versions[len(tt.versions)-1] == tt.want {
				assert.Equal(t, len(tt.versions)-1, got.CurrentQuestion, "the last write should win")
			} else {
				assert.Equal(t, 0, got.CurrentQuestion, "the stale write should be dropped")
			}
			assert.Positive(t, rs.TTL("test:session:s1"))
		})
	}
}

func ptr[T any](v T) *T { return &v }
