package supervisor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/arrowcrest/supervice/internal/eventbus"
	"github.com/arrowcrest/supervice/internal/health"
	"github.com/arrowcrest/supervice/internal/logger"
	"github.com/arrowcrest/supervice/internal/process"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(testWriter), &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestInstance(spec *process.Spec) (*Instance, *eventbus.Bus) {
	bus := eventbus.New(eventbus.DefaultCapacity, nil)
	bus.Start()
	inst := New(spec, spec.Name, bus, testLogger(), logger.Config{}, nil, nil)
	return inst, bus
}

func TestStateStringAndLive(t *testing.T) {
	if StateRunning.String() != "RUNNING" {
		t.Fatalf("unexpected String(): %q", StateRunning.String())
	}
	if !StateRunning.Live() || !StateStarting.Live() || !StateStopping.Live() || !StateUnhealthy.Live() {
		t.Fatal("expected these states to report Live() == true")
	}
	if StateStopped.Live() || StateExited.Live() || StateFatal.Live() || StateBackoff.Live() {
		t.Fatal("expected these states to report Live() == false")
	}
}

func TestRequestStartThenStopReachesStopped(t *testing.T) {
	spec := &process.Spec{
		Name:         "ok",
		Command:      "sleep 5",
		AutoStart:    false,
		AutoRestart:  false,
		StartSecs:    10 * time.Millisecond,
		StartRetries: 1,
		StopSignal:   "TERM",
		StopWaitSecs: 2 * time.Second,
	}
	inst, bus := newTestInstance(spec)
	defer bus.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inst.Run(ctx)

	inst.RequestStart()
	if !inst.AwaitState(2*time.Second, StateRunning) {
		t.Fatalf("expected instance to reach RUNNING, got %s", inst.currentState())
	}

	inst.RequestStop(false)
	if !inst.AwaitState(5*time.Second, StateStopped) {
		t.Fatalf("expected instance to reach STOPPED, got %s", inst.currentState())
	}
}

func TestAutoRestartGoesThroughBackoffAfterEarlyExit(t *testing.T) {
	spec := &process.Spec{
		Name:         "flap",
		Command:      "true",
		AutoStart:    false,
		AutoRestart:  true,
		StartSecs:    time.Hour, // ensures ranFor < StartSecs, so backoff isn't reset
		StartRetries: 3,
		StopSignal:   "TERM",
		StopWaitSecs: time.Second,
	}
	inst, bus := newTestInstance(spec)
	defer bus.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inst.Run(ctx)

	inst.RequestStart()
	if !inst.AwaitState(2*time.Second, StateBackoff, StateFatal) {
		t.Fatalf("expected BACKOFF or FATAL after early exit, got %s", inst.currentState())
	}
}

func TestNoAutoRestartGoesFatalAfterExit(t *testing.T) {
	spec := &process.Spec{
		Name:         "once",
		Command:      "true",
		AutoStart:    false,
		AutoRestart:  false,
		StartSecs:    10 * time.Millisecond,
		StopSignal:   "TERM",
		StopWaitSecs: time.Second,
	}
	inst, bus := newTestInstance(spec)
	defer bus.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inst.Run(ctx)

	inst.RequestStart()
	if !inst.AwaitState(2*time.Second, StateFatal) {
		t.Fatalf("expected FATAL after exit with autorestart disabled, got %s", inst.currentState())
	}
}

func TestRequestStartResetsFatalToStopped(t *testing.T) {
	spec := &process.Spec{
		Name:         "resettable",
		Command:      "true",
		AutoStart:    false,
		AutoRestart:  false,
		StartSecs:    10 * time.Millisecond,
		StopSignal:   "TERM",
		StopWaitSecs: time.Second,
	}
	inst, bus := newTestInstance(spec)
	defer bus.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inst.Run(ctx)

	inst.RequestStart()
	if !inst.AwaitState(2*time.Second, StateFatal) {
		t.Fatalf("expected FATAL, got %s", inst.currentState())
	}

	inst.RequestStart()
	if !inst.AwaitState(2*time.Second, StateFatal, StateBackoff, StateStopped) {
		t.Fatal("expected the instance to attempt a fresh spawn cycle after RequestStart")
	}
}

func TestSnapshotReportsNameGroupAndState(t *testing.T) {
	spec := &process.Spec{Name: "web", Command: "true"}
	inst, bus := newTestInstance(spec)
	defer bus.Stop()

	st := inst.Snapshot()
	if st.Name != "web" || st.Group != "web" || st.State != "STOPPED" {
		t.Fatalf("unexpected snapshot: %+v", st)
	}
}

func TestHealthCheckFailureRoutesThroughUnhealthyAndRestart(t *testing.T) {
	spec := &process.Spec{
		Name:         "healthy-fail",
		Command:      "sleep 5",
		AutoStart:    false,
		AutoRestart:  true,
		StartSecs:    10 * time.Millisecond,
		StartRetries: 3,
		StopSignal:   "TERM",
		StopWaitSecs: time.Second,
		Health: process.HealthSpec{
			Tag:         "script",
			Command:     "exit 1",
			Interval:    20 * time.Millisecond,
			Timeout:     time.Second,
			Retries:     0,
			StartPeriod: 0,
		},
	}
	checker := health.New("script", "", 0, "exit 1", time.Second)
	bus := eventbus.New(eventbus.DefaultCapacity, nil)
	bus.Start()
	defer bus.Stop()
	inst := New(spec, spec.Name, bus, testLogger(), logger.Config{}, checker, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inst.Run(ctx)

	inst.RequestStart()
	if !inst.AwaitState(3*time.Second, StateUnhealthy, StateBackoff, StateFatal) {
		t.Fatalf("expected health-check failures to eventually flip state, got %s", inst.currentState())
	}
}
