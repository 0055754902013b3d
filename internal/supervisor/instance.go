package supervisor

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/arrowcrest/supervice/internal/eventbus"
	"github.com/arrowcrest/supervice/internal/health"
	"github.com/arrowcrest/supervice/internal/logger"
	"github.com/arrowcrest/supervice/internal/metrics"
	"github.com/arrowcrest/supervice/internal/process"
	"github.com/arrowcrest/supervice/internal/resstat"
)

// EnvFunc resolves the final environment for a spawn, merging the
// supervisor's own environment, global config overlay, and the program's
// own Env overlay (internal/env.Env, owned by the orchestrator).
type EnvFunc func(overlay []string) []string

// stopReason distinguishes why a running child is being killed, which
// decides the state the instance lands in once the child is reaped.
type stopReason int

const (
	reasonNone stopReason = iota
	reasonOperatorStop
	reasonHealthKill
)

// Instance supervises exactly one program instance across its whole
// lifetime: spawn, monitor, health-check, backoff/retry, and stop. It is
// grounded on the original implementation's supervice/process.py for state
// semantics and on the teacher's internal/manager/managed_process.go and
// internal/process/process.go for the Go shape: one long-lived goroutine
// owns the child process exclusively, so cmd.Wait() is only ever called
// once per spawn cycle.
type Instance struct {
	Name  string
	Group string

	spec    *process.Spec
	bus     *eventbus.Bus
	log     *slog.Logger
	logCfg  logger.Config
	checker health.Checker
	envFn   EnvFunc

	mu             sync.Mutex
	state          State
	pid            int
	spawnedAt      time.Time
	startedWall    time.Time
	backoff        int
	healthFailures int
	healthFlag     HealthFlag
	desiredRun     bool
	stopReason     stopReason
	forceKill      bool
	stateChanged   chan struct{}
	cycleStop      chan struct{}
	cycleStopOnce  *sync.Once

	wake   chan struct{}
	doneCh chan struct{}
}

// New builds an Instance in the STOPPED state. checker may be nil when the
// program has no health check configured.
func New(spec *process.Spec, group string, bus *eventbus.Bus, log *slog.Logger, logCfg logger.Config, checker health.Checker, envFn EnvFunc) *Instance {
	return &Instance{
		Name:         spec.Name,
		Group:        group,
		spec:         spec,
		bus:          bus,
		log:          log.With("process", spec.Name),
		logCfg:       logCfg,
		checker:      checker,
		envFn:        envFn,
		state:        StateStopped,
		stateChanged: make(chan struct{}),
		wake:         make(chan struct{}, 1),
		doneCh:       make(chan struct{}),
	}
}

// Status is a point-in-time snapshot for RPC status responses and the HTTP
// status surface (spec.md §3's public view of a Program instance).
type Status struct {
	Name       string
	Group      string
	State      string
	PID        int
	Uptime     time.Duration
	Health     string
	Backoff    int
	CPUPercent float64
	RSSBytes   uint64
}

// Snapshot reads the instance's current state and, if it has a live PID,
// samples its CPU/RSS via gopsutil. The sample is best-effort: a dead or
// unreadable process just leaves CPUPercent/RSSBytes at zero.
func (i *Instance) Snapshot() Status {
	i.mu.Lock()
	var uptime time.Duration
	if i.state.Live() && !i.spawnedAt.IsZero() {
		uptime = time.Since(i.spawnedAt)
	}
	st := Status{
		Name:    i.Name,
		Group:   i.Group,
		State:   i.state.String(),
		PID:     i.pid,
		Uptime:  uptime,
		Health:  i.healthFlag.String(),
		Backoff: i.backoff,
	}
	live := i.state.Live()
	pid := i.pid
	i.mu.Unlock()

	if live && pid > 0 {
		if sample, ok := resstat.Read(pid); ok {
			st.CPUPercent = sample.CPUPercent
			st.RSSBytes = sample.RSSBytes
			metrics.SetResourceUsage(i.Name, sample.CPUPercent, sample.RSSBytes)
		}
	}
	return st
}

// Spec returns the instance's immutable process specification, for the
// orchestrator's reload-time config-diff comparison.
func (i *Instance) Spec() *process.Spec { return i.spec }

func (i *Instance) currentState() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Instance) signalWake() {
	select {
	case i.wake <- struct{}{}:
	default:
	}
}

// setState mutates state under the instance's mutex, wakes any AwaitState
// waiters, and publishes the corresponding event (spec.md §4.A event
// production sites).
func (i *Instance) setState(to State) {
	i.mu.Lock()
	from := i.state
	if from == to {
		i.mu.Unlock()
		return
	}
	i.state = to
	ch := i.stateChanged
	i.stateChanged = make(chan struct{})
	pid := i.pid
	i.mu.Unlock()
	close(ch)

	metrics.RecordStateTransition(i.Name, from.String(), to.String())
	switch to {
	case StateStarting:
		metrics.IncStart(i.Name)
	case StateStopped:
		metrics.IncStop(i.Name)
	}

	if i.bus != nil {
		i.bus.Publish(eventbus.Event{
			Kind: eventKindFor(to),
			Payload: map[string]any{
				"processname": i.Name,
				"groupname":   i.Group,
				"from_state":  from.String(),
				"pid":         pid,
			},
		})
	}
	i.log.Info("state transition", "from", from.String(), "to", to.String())
}

// AwaitState blocks until the instance reaches one of targets or timeout
// elapses, returning whether a target state was observed. Used by the RPC
// layer's "start"/"stop" deadline semantics (spec.md §4.D).
func (i *Instance) AwaitState(timeout time.Duration, targets ...State) bool {
	deadline := time.Now().Add(timeout)
	for {
		i.mu.Lock()
		st := i.state
		ch := i.stateChanged
		i.mu.Unlock()
		for _, t := range targets {
			if st == t {
				return true
			}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		select {
		case <-ch:
		case <-time.After(remaining):
			return false
		}
	}
}

// RequestStart sets desired-run and, per spec.md §4.C, resets the backoff
// counter to zero ("operator issues an explicit start"). If the instance is
// currently FATAL or EXITED it is reset to STOPPED so the run loop spawns it.
func (i *Instance) RequestStart() {
	i.mu.Lock()
	if i.state == StateFatal || i.state == StateExited {
		i.state = StateStopped
	}
	i.backoff = 0
	i.desiredRun = true
	i.mu.Unlock()
	i.signalWake()
}

// RequestStop clears desired-run and, if a child is currently live,
// triggers its cycle's kill sequence. force escalates straight to SIGKILL
// instead of the configured stop signal + stopwaitsecs grace period.
func (i *Instance) RequestStop(force bool) {
	i.mu.Lock()
	i.desiredRun = false
	i.stopReason = reasonOperatorStop
	if force {
		i.forceKill = true
	}
	stopCh := i.cycleStop
	once := i.cycleStopOnce
	i.mu.Unlock()
	if stopCh != nil && once != nil {
		once.Do(func() { close(stopCh) })
	}
	i.signalWake()
}

// Done returns a channel closed once the run loop has exited (on context
// cancellation).
func (i *Instance) Done() <-chan struct{} { return i.doneCh }

// Run is the instance's whole-lifetime supervision loop; the orchestrator
// starts exactly one goroutine per instance running this method.
func (i *Instance) Run(ctx context.Context) {
	defer close(i.doneCh)
	if i.spec.AutoStart {
		i.RequestStart()
	}
	for {
		select {
		case <-ctx.Done():
			i.RequestStop(false)
			i.AwaitState(i.spec.StopWaitSecs+2*time.Second, StateStopped, StateFatal, StateExited)
			return
		default:
		}

		i.mu.Lock()
		desired := i.desiredRun
		st := i.state
		i.mu.Unlock()

		if !desired {
			select {
			case <-i.wake:
				continue
			case <-ctx.Done():
				continue
			}
		}

		switch st {
		case StateStopped, StateExited, StateFatal:
			i.spawnCycle(ctx)
		case StateBackoff:
			i.waitBackoff(ctx)
		default:
			select {
			case <-i.wake:
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
			}
		}
	}
}

// waitBackoff sleeps startsecs+backoff (spec.md §4.C's retry delay),
// interruptible by an operator stop, then returns to STOPPED so the next
// loop iteration re-spawns — unless desired-run was cleared meanwhile.
func (i *Instance) waitBackoff(ctx context.Context) {
	i.mu.Lock()
	delay := i.spec.StartSecs + time.Duration(i.backoff)*time.Second
	i.mu.Unlock()
	select {
	case <-time.After(delay):
	case <-i.wake:
	case <-ctx.Done():
	}
	i.mu.Lock()
	if i.state == StateBackoff {
		i.state = StateStopped
	}
	i.mu.Unlock()
}

// spawnCycle runs exactly one spawn-through-reap cycle: builds the
// environment, starts the child, runs its health loop while live, waits for
// either a spontaneous exit or a kill request, and classifies the result.
func (i *Instance) spawnCycle(ctx context.Context) {
	i.setState(StateStarting)

	var overlay []string
	if i.envFn != nil {
		overlay = i.envFn(i.spec.Env)
	} else {
		overlay = i.spec.Env
	}

	handle, result, err := process.Spawn(i.spec, overlay, i.logCfg)
	if result != process.ResultOK {
		i.log.Error("spawn failed", "result", result.String(), "err", err)
		i.setState(StateFatal)
		i.mu.Lock()
		i.desiredRun = false
		i.mu.Unlock()
		return
	}

	cycleStop := make(chan struct{})
	i.mu.Lock()
	i.pid = handle.Cmd.Process.Pid
	i.spawnedAt = time.Now()
	i.startedWall = i.spawnedAt
	i.healthFlag = HealthUnknown
	i.healthFailures = 0
	i.cycleStop = cycleStop
	i.cycleStopOnce = &sync.Once{}
	i.mu.Unlock()

	i.setState(StateRunning)

	var healthWG sync.WaitGroup
	healthDone := make(chan struct{})
	if i.checker != nil {
		healthWG.Add(1)
		go func() {
			defer healthWG.Done()
			i.healthLoop(ctx, cycleStop, healthDone)
		}()
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- handle.Cmd.Wait() }()

	var exitErr error
	killedEarly := false
	select {
	case exitErr = <-waitCh:
	case <-cycleStop:
		killedEarly = true
		i.setState(StateStopping)
		i.killUntilReaped()
		exitErr = <-waitCh
	}
	close(healthDone)
	healthWG.Wait()
	handle.Close()

	i.mu.Lock()
	reason := i.stopReason
	i.stopReason = reasonNone
	i.forceKill = false
	i.cycleStop = nil
	i.cycleStopOnce = nil
	ranFor := time.Since(i.startedWall)
	i.mu.Unlock()

	if !killedEarly {
		reason = reasonNone
	}
	i.handleExit(exitErr, reason, ranFor)
}

// killUntilReaped sends the configured stop signal to the process group and
// escalates to SIGKILL after stopwaitsecs, or immediately on a forced stop
// (spec.md §4.C stop sequence). It polls liveness rather than consuming
// waitCh, which the caller still owns as the single reader of cmd.Wait().
func (i *Instance) killUntilReaped() {
	i.mu.Lock()
	force := i.forceKill
	pid := i.pid
	sigName := i.spec.StopSignal
	grace := i.spec.StopWaitSecs
	i.mu.Unlock()

	const sigkill = 9
	if force {
		_ = process.KillGroup(pid, sigkill)
		return
	}
	sig, err := process.ParseSignal(sigName)
	if err != nil {
		sig = 15 // SIGTERM
	}
	_ = process.KillGroup(pid, sig)

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !process.GroupAlive(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	_ = process.KillGroup(pid, sigkill)
}

// handleExit classifies a reaped exit and decides the instance's next
// state per spec.md §4.C's transition table.
func (i *Instance) handleExit(exitErr error, reason stopReason, ranFor time.Duration) {
	code := exitCode(exitErr)
	class := process.ClassifyExit(code)

	if class != process.ExitNormal {
		i.log.Error("child reported a preexec failure", "code", code)
		i.setState(StateFatal)
		i.mu.Lock()
		i.desiredRun = false
		i.mu.Unlock()
		return
	}

	if reason == reasonOperatorStop {
		i.setState(StateStopped)
		i.mu.Lock()
		i.desiredRun = false
		i.mu.Unlock()
		return
	}

	i.setState(StateExited)

	i.mu.Lock()
	if ranFor >= i.spec.StartSecs {
		i.backoff = 0
	}
	autoRestart := i.spec.AutoRestart
	i.mu.Unlock()

	if !autoRestart {
		i.setState(StateFatal)
		i.mu.Lock()
		i.desiredRun = false
		i.mu.Unlock()
		return
	}

	i.mu.Lock()
	i.backoff++
	exceeded := i.backoff > i.spec.StartRetries
	i.mu.Unlock()

	if exceeded {
		i.setState(StateFatal)
		i.mu.Lock()
		i.desiredRun = false
		i.mu.Unlock()
		return
	}
	metrics.IncRestart(i.Name)
	i.setState(StateBackoff)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}
