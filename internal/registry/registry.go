package registry

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/telemetry"
)

const (
	defaultSendTimeout   = 5 * time.Second
	defaultMaxConcurrent = 100

	ReasonSuperseded = "New connection established from another location"
	ReasonShutdown   = "Server shutting down"
)

// Conn is a live transport handle of one participant.
type Conn interface {
	Send(ctx context.Context, m domain.Message) error
	Close() error
}

type Config struct {
	// EventBus receives domain.EventParticipantDropped when a failed send removed the
	// participant's last connection.
	EventBus      *event.Bus
	SendTimeout   time.Duration
	MaxConcurrent int
}

// Registry tracks live connections per (session, participant). The registry is process
// local and is not a source of truth, it starts empty.
type Registry struct {
	eb            *event.Bus
	sendTimeout   time.Duration
	maxConcurrent int

	mu       sync.Mutex
	sessions map[string]map[string][]Conn
	closed   bool

	// cleanup tracks asynchronous drops of failed connections.
	cleanup sync.WaitGroup
}

func New(c Config) *Registry {
	r := &Registry{
		eb:            c.EventBus,
		sendTimeout:   c.SendTimeout,
		maxConcurrent: c.MaxConcurrent,
		sessions:      make(map[string]map[string][]Conn),
	}

	if r.sendTimeout <= 0 {
		r.sendTimeout = defaultSendTimeout
	}
	if r.maxConcurrent <= 0 {
		r.maxConcurrent = defaultMaxConcurrent
	}

	return r
}

// Join registers conn as the only active connection of the participant. Any previous
// connection is told it was superseded and closed before Join returns.
func (r *Registry) Join(ctx context.Context, session, participant string, conn Conn) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.terminate(ctx, conn, ReasonShutdown)
		return
	}

	ps, ok := r.sessions[session]
	if !ok {
		ps = make(map[string][]Conn)
		r.sessions[session] = ps
	}

	evicted := ps[participant]
	ps[participant] = []Conn{conn}
	r.mu.Unlock()

	telemetry.LiveConnections.Inc()

	for _, old := range evicted {
		telemetry.LiveConnections.Dec()
		if old == conn {
			continue
		}

		telemetry.Evictions.Inc()
		slog.InfoContext(ctx, "registry: evicting previous connection",
			"session_id", session,
			"participant_id", participant,
		)
		r.terminate(ctx, old, ReasonSuperseded)
	}
}

// Leave removes conn and reports whether the participant has no connection left in the
// session. Removing a connection that is not registered returns false.
func (r *Registry) Leave(session, participant string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ps, ok := r.sessions[session]
	if !ok {
		return false
	}

	conns := ps[participant]
	i := slices.Index(conns, conn)
	if i < 0 {
		return false
	}

	telemetry.LiveConnections.Dec()

	conns = slices.Delete(conns, i, i+1)
	if len(conns) > 0 {
		ps[participant] = conns
		return false
	}

	delete(ps, participant)
	if len(ps) == 0 {
		delete(r.sessions, session)
	}

	return true
}

type target struct {
	participant string
	conn        Conn
}

// Broadcast delivers m to every connection of the session except the excluded
// participant. A failed delivery never stops the others, the failed connection is
// dropped asynchronously as if it disconnected.
func (r *Registry) Broadcast(ctx context.Context, session string, m domain.Message, exclude string) {
	targets := r.snapshot(session, exclude)
	if len(targets) == 0 {
		return
	}

	var (
		eg     errgroup.Group
		mu     sync.Mutex
		failed []target
	)
	eg.SetLimit(r.maxConcurrent)

	for _, t := range targets {
		eg.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
			defer cancel()

			if err := t.conn.Send(sctx, m); err != nil {
				telemetry.BroadcastDeliveries.WithLabelValues(string(m.Type), "failed").Inc()
				slog.WarnContext(ctx, "registry: send failed",
					"session_id", session,
					"participant_id", t.participant,
					"type", m.Type,
					"error", err,
				)

				mu.Lock()
				failed = append(failed, t)
				mu.Unlock()
				return nil
			}

			telemetry.BroadcastDeliveries.WithLabelValues(string(m.Type), "ok").Inc()
			return nil
		})
	}

	_ = eg.Wait()

	for _, t := range failed {
		r.drop(ctx, session, t)
	}
}

func (r *Registry) snapshot(session, exclude string) []target {
	r.mu.Lock()
	defer r.mu.Unlock()

	var targets []target
	for p, conns := range r.sessions[session] {
		if exclude != "" && p == exclude {
			continue
		}
		for _, c := range conns {
			targets = append(targets, target{participant: p, conn: c})
		}
	}

	return targets
}

func (r *Registry) drop(ctx context.Context, session string, t target) {
	r.cleanup.Add(1)

	go func() {
		defer r.cleanup.Done()

		ctx := context.WithoutCancel(ctx)
		if err := t.conn.Close(); err != nil {
			slog.DebugContext(ctx, "registry: close failed connection", "error", err)
		}

		if !r.Leave(session, t.participant, t.conn) {
			return
		}

		slog.InfoContext(ctx, "registry: participant dropped",
			"session_id", session,
			"participant_id", t.participant,
		)

		if r.eb != nil {
			r.eb.Publish(ctx, domain.EventParticipantDropped{
				SessionID:     session,
				ParticipantID: t.participant,
			})
		}
	}()
}

// terminate tells the connection why it is being closed, then closes it.
func (r *Registry) terminate(ctx context.Context, conn Conn, reason string) {
	sctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()

	if err := conn.Send(sctx, domain.NewConnectionClosed(reason)); err != nil {
		slog.DebugContext(ctx, "registry: send close notice failed", "error", err)
	}

	if err := conn.Close(); err != nil {
		slog.DebugContext(ctx, "registry: close connection failed", "error", err)
	}
}

func (r *Registry) ActiveConnectionCount(session, participant string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions[session][participant])
}

// Participants returns the sorted ids of participants with at least one connection.
func (r *Registry) Participants(session string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ps := make([]string, 0, len(r.sessions[session]))
	for p := range r.sessions[session] {
		ps = append(ps, p)
	}
	sort.Strings(ps)

	return ps
}

// Close terminates every registered connection and waits for pending drops. Joins after
// Close are rejected.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]map[string][]Conn)
	r.mu.Unlock()

	var eg errgroup.Group
	eg.SetLimit(r.maxConcurrent)

	for _, ps := range sessions {
		for _, conns := range ps {
			for _, c := range conns {
				telemetry.LiveConnections.Dec()
				eg.Go(func() error {
					r.terminate(ctx, c, ReasonShutdown)
					return nil
				})
			}
		}
	}

	_ = eg.Wait()
	r.cleanup.Wait()
}
