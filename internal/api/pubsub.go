package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	SessionResult struct {
		SessionID   string                    `json:"session_id"`
		QuizID      string                    `json:"quiz_id"`
		Status      domain.Status             `json:"status"`
		Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
	}
)

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type RelayConfig struct {
	EventBus     *event.Bus
	Redis        Redis
	PubsubPrefix string
}

// Relay forwards session events to redis channels so other services can follow a session
// without holding a live connection.
type Relay struct {
	redis  Redis
	prefix string
}

func NewRelay(c RelayConfig) *Relay {
	r := &Relay{
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	c.EventBus.Subscribe(domain.EventNameSessionBroadcast, func(ctx context.Context, e event.Event) error {
		return r.PublishSessionBroadcast(ctx, e.(domain.EventSessionBroadcast))
	})
	c.EventBus.Subscribe(domain.EventNameSessionCompleted, func(ctx context.Context, e event.Event) error {
		return r.PublishSessionCompleted(ctx, e.(domain.EventSessionCompleted))
	})

	return r
}

// PublishSessionBroadcast mirrors a broadcast message on the session channel.
func (r *Relay) PublishSessionBroadcast(ctx context.Context, e domain.EventSessionBroadcast) error {
	return r.publish(ctx, r.sessionChannel(e.SessionID), string(e.Message.Type), e.Message.Payload)
}

// PublishSessionCompleted notifies the session channel and every participant's channel of
// the final result.
func (r *Relay) PublishSessionCompleted(ctx context.Context, e domain.EventSessionCompleted) error {
	data := SessionResult{
		SessionID:   e.Session.SessionID,
		QuizID:      e.Session.QuizID,
		Status:      e.Session.Status,
		Leaderboard: e.Leaderboard.Entries,
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		return r.publish(ctx, r.sessionChannel(data.SessionID), e.Name(), data)
	})

	for _, entry := range data.Leaderboard {
		eg.Go(func() error {
			return r.publish(ctx, r.userChannel(entry.ParticipantID), e.Name(), data)
		})
	}

	return eg.Wait()
}

func (r *Relay) publish(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return r.redis.Publish(ctx, channel, b).Err()
}

func (r *Relay) sessionChannel(session string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, session)
}

func (r *Relay) userChannel(user string) string {
	return fmt.Sprintf("%s:user:%s", r.prefix, user)
}
