package domain

const (
	EventNameSessionBroadcast   = "session.broadcast"
	EventNameSessionCompleted   = "session.completed"
	EventNameParticipantDropped = "participant.dropped"
)

// EventSessionBroadcast is published for every message fanned out to a session's connections.
type EventSessionBroadcast struct {
	SessionID string
	Message   Message
}

func (EventSessionBroadcast) Name() string { return EventNameSessionBroadcast }

type EventSessionCompleted struct {
	Session     Session
	Leaderboard Leaderboard
}

func (EventSessionCompleted) Name() string { return EventNameSessionCompleted }

// EventParticipantDropped is published when a connection that failed a send was the
// participant's last one in the session.
type EventParticipantDropped struct {
	SessionID     string
	ParticipantID string
}

func (EventParticipantDropped) Name() string { return EventNameParticipantDropped }
