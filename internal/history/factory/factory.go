// Package factory builds a history.Sink from a DSN string and wires it to
// the event bus. Kept from the teacher's internal/history/factory/factory.go
// dispatch-by-scheme shape, narrowed to the one backend this implementation
// carries forward: SQLite (see DESIGN.md "Dropped" for why ClickHouse,
// OpenSearch, and Postgres were not).
package factory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/arrowcrest/supervice/internal/eventbus"
	"github.com/arrowcrest/supervice/internal/history"
	"github.com/arrowcrest/supervice/internal/history/sqlite"
)

// NewSinkFromDSN builds a history.Sink from dsn. Supported forms:
//   - "sqlite:///path/to/file.db" or "sqlite://:memory:"
//   - "/path/to/file.db" or ":memory:" (bare path defaults to SQLite)
func NewSinkFromDSN(dsn string) (history.Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty history DSN")
	}
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "sqlite://") || !strings.Contains(dsn, "://") {
		return sqlite.New(dsn)
	}
	return nil, errors.New("unsupported history DSN format: " + dsn)
}

// Subscribe registers sink against every event.Kind the bus carries, so
// every state transition and health-check result is audited. It is called
// once at startup, after the sink is built and before the bus starts
// dispatching.
func Subscribe(bus *eventbus.Bus, sink history.Sink) {
	kinds := []eventbus.Kind{
		eventbus.ProcessStateStarting,
		eventbus.ProcessStateRunning,
		eventbus.ProcessStateBackoff,
		eventbus.ProcessStateStopping,
		eventbus.ProcessStateExited,
		eventbus.ProcessStateStopped,
		eventbus.ProcessStateFatal,
		eventbus.ProcessStateUnhealthy,
		eventbus.HealthcheckPassed,
		eventbus.HealthcheckFailed,
	}
	for _, k := range kinds {
		bus.Subscribe(k, func(ev eventbus.Event) {
			e := history.EventFromBus(ev, time.Now())
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = sink.Send(ctx, e)
		})
	}
}
