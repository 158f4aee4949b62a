package history

import (
	"context"
	"time"
)

// EventType defines the kind of session event.
type EventType string

const (
	EventSessionStart   EventType = "session_start"
	EventSessionStop    EventType = "session_stop"
	EventRelaunch       EventType = "relaunch"
	EventRelaunchFailed EventType = "relaunch_failed"
	EventWatchdogExit   EventType = "watchdog_exit"
)

// Event is one entry in the session history.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role,omitempty"`
	PID        int       `json:"pid,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }
func (Nop) Close() error                      { return nil }
