package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/event"
)

// MongoMonitor logs every command the driver sends.
func MongoMonitor() *event.CommandMonitor {
	return &event.CommandMonitor{
		Started: func(ctx context.Context, e *event.CommandStartedEvent) {
			slog.DebugContext(ctx, fmt.Sprintf("mongo: starting %s", e.CommandName),
				"database", e.DatabaseName,
				"request_id", e.RequestID,
			)
		},
		Succeeded: func(ctx context.Context, e *event.CommandSucceededEvent) {
			slog.DebugContext(ctx, fmt.Sprintf("mongo: finished %s", e.CommandName),
				"request_id", e.RequestID,
				"duration", e.Duration,
			)
		},
		Failed: func(ctx context.Context, e *event.CommandFailedEvent) {
			slog.WarnContext(ctx, fmt.Sprintf("mongo: %s failed", e.CommandName),
				"request_id", e.RequestID,
				"duration", e.Duration,
				"error", e.Failure,
			)
		},
	}
}
