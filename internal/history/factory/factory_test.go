package factory

import (
	"testing"
	"time"

	"github.com/arrowcrest/supervice/internal/eventbus"
)

func TestNewSinkFromDSN(t *testing.T) {
	cases := []struct {
		name    string
		dsn     string
		wantErr bool
	}{
		{"empty", "", true},
		{"bare memory", ":memory:", false},
		{"sqlite prefix", "sqlite://:memory:", false},
		{"unsupported scheme", "clickhouse://localhost:9000", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink, err := NewSinkFromDSN(tc.dsn)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for DSN %q", tc.dsn)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSinkFromDSN(%q): %v", tc.dsn, err)
			}
			defer func() { _ = sink.Close() }()
		})
	}
}

func TestSubscribeDeliversEvents(t *testing.T) {
	bus := eventbus.New(10, nil)
	sink, err := NewSinkFromDSN(":memory:")
	if err != nil {
		t.Fatalf("NewSinkFromDSN: %v", err)
	}
	defer func() { _ = sink.Close() }()

	Subscribe(bus, sink)
	bus.Start()
	defer bus.Stop()

	bus.Publish(eventbus.Event{
		Kind:    eventbus.ProcessStateRunning,
		Payload: map[string]any{"processname": "web", "groupname": "web", "from_state": "STARTING", "pid": 1},
	})

	// give the single dispatcher goroutine a moment to deliver.
	time.Sleep(50 * time.Millisecond)
}
