package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/livequiz/internal/domain"
)

const defaultTTL = 24 * time.Hour

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
	// TTL bounds how long totals of a finished session stay in redis.
	TTL time.Duration
}

// Service keeps per-participant totals and the ranking of a session in redis. Totals are
// derived state, they can be rebuilt from the answer audit log with Reset.
type Service struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    c.TTL,
	}

	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}

	return s
}

// Increment adds points to the participant's total and ranking in one MULTI/EXEC and
// returns the new total. Zero points still place the participant on the leaderboard.
func (s *Service) Increment(ctx context.Context, session, participant string, points int64) (int64, error) {
	var total *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		total = p.IncrBy(ctx, s.getScoreKey(session, participant), points)
		p.ZIncrBy(ctx, s.getLeaderboardKey(session), float64(points), participant)
		p.Expire(ctx, s.getScoreKey(session, participant), s.ttl)
		p.Expire(ctx, s.getLeaderboardKey(session), s.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment score: %w", err)
	}

	return total.Val(), nil
}

// Top returns the best limit entries, highest score first. A limit <= 0 returns everyone.
// Equal scores are ordered by participant id, descending.
func (s *Service) Top(ctx context.Context, session string, limit int) (*domain.Leaderboard, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(session), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: z.Member.(string),
			Score:         int64(z.Score),
		})
	}

	return &domain.Leaderboard{
		SessionID: session,
		Entries:   entries,
	}, nil
}

// Reset replaces every total of the session with totals.
func (s *Service) Reset(ctx context.Context, session string, totals map[string]int64) error {
	old, err := s.redis.ZRange(ctx, s.getLeaderboardKey(session), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("list leaderboard: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.getLeaderboardKey(session))
		for _, participant := range old {
			p.Del(ctx, s.getScoreKey(session, participant))
		}

		for participant, total := range totals {
			p.Set(ctx, s.getScoreKey(session, participant), total, s.ttl)
			p.ZAdd(ctx, s.getLeaderboardKey(session), redis.Z{
				Score:  float64(total),
				Member: participant,
			})
		}
		p.Expire(ctx, s.getLeaderboardKey(session), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset leaderboard: %w", err)
	}

	return nil
}

func (s *Service) getLeaderboardKey(session string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, session)
}

func (s *Service) getScoreKey(session, participant string) string {
	return fmt.Sprintf("%s:%s:score:%s", s.prefix, session, participant)
}
