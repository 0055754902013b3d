// Package history defines the pluggable event-audit sink (SPEC_FULL.md
// [DOMAIN]: "An optional append-only SQLite event-history audit sink").
// It is an audit trail only: it is never consulted to reconstruct live
// supervision state, so neither spec.md Non-goal ("persistence of
// supervision state across restarts") is violated. Kept from the teacher's
// internal/history/history.go Sink interface shape, repointed at spec.md
// §3's Event data model (processname/groupname/from_state/pid/message/
// failure count) instead of the teacher's job-result Record.
package history

import (
	"context"
	"time"

	"github.com/arrowcrest/supervice/internal/eventbus"
)

// Event is one audited occurrence: a state transition or a health-check
// result, carrying the same fields the event bus payload does (spec.md §3).
type Event struct {
	Kind         eventbus.Kind
	OccurredAt   time.Time
	ProcessName  string
	GroupName    string
	FromState    string
	PID          int
	Message      string
	FailureCount int
}

// Sink is a destination for audited events. Implementations must be safe
// for concurrent use; Send is called from the event bus's single dispatcher
// goroutine, so a slow Sink throttles delivery to every other subscriber —
// implementations should keep Send fast or buffer internally.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// EventFromBus converts a raw bus event into a history Event, tolerating a
// missing or mistyped payload field (defaulting it to the zero value)
// rather than erroring, since the bus's payload is an untyped map.
func EventFromBus(ev eventbus.Event, occurredAt time.Time) Event {
	out := Event{Kind: ev.Kind, OccurredAt: occurredAt}
	if v, ok := ev.Payload["processname"].(string); ok {
		out.ProcessName = v
	}
	if v, ok := ev.Payload["groupname"].(string); ok {
		out.GroupName = v
	}
	if v, ok := ev.Payload["from_state"].(string); ok {
		out.FromState = v
	}
	if v, ok := ev.Payload["pid"].(int); ok {
		out.PID = v
	}
	if v, ok := ev.Payload["message"].(string); ok {
		out.Message = v
	}
	if v, ok := ev.Payload["failures"].(int); ok {
		out.FailureCount = v
	}
	return out
}
