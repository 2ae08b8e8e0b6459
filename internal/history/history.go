// Package history defines events exported to analytics stores and a fan-out
// helper. Concrete sinks live in sub-packages.
package history

import (
	"context"
	"errors"
	"time"
)

// EventType defines the kind of recorded event.
type EventType string

const (
	EventProcessStart   EventType = "process_start"
	EventProcessStop    EventType = "process_stop"
	EventPoolSwitch     EventType = "pool_switch"
	EventDecision       EventType = "decision"
	EventCredentialTest EventType = "credential_test"
)

// Event is one row of history. Fields that do not apply to Type are zero.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Process    string    `json:"process,omitempty"`
	PID        int       `json:"pid,omitempty"`
	State      string    `json:"state,omitempty"`
	Pool       string    `json:"pool,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	Observed   float64   `json:"observed_hs,omitempty"`
	Donation   float64   `json:"donation_hs,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }

// Table is the table name used by the SQL sinks.
const Table = "xvbd_history"
