package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/arrowcrest/supervice/internal/eventbus"
	"github.com/arrowcrest/supervice/internal/metrics"
)

// healthLoop runs for the lifetime of one spawn cycle (grounded on the
// original implementation's supervice/process.py health loop): it waits
// out start_period, then polls the checker every interval. Consecutive
// failures beyond retries flip the instance to UNHEALTHY; if autorestart is
// set it then kills the child through the same cycleStop path an operator
// stop uses, which routes the reap through the ordinary EXITED/backoff
// pipeline rather than a special-cased restart.
func (i *Instance) healthLoop(ctx context.Context, cycleStop chan struct{}, done <-chan struct{}) {
	hs := i.spec.Health
	if hs.Tag == "" || hs.Tag == "none" {
		return
	}

	select {
	case <-time.After(hs.StartPeriod):
	case <-done:
		return
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(interval(hs.Interval))
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cctx, cancel := context.WithTimeout(ctx, hs.Timeout)
		res := i.checker.Check(cctx)
		cancel()

		if res.Healthy {
			i.onHealthPass(res.Message)
			continue
		}
		if i.onHealthFail(res.Message, hs.Retries) {
			i.triggerHealthKill(cycleStop)
			return
		}
	}
}

func interval(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func (i *Instance) onHealthPass(msg string) {
	i.mu.Lock()
	wasUnhealthy := i.healthFlag == HealthUnhealthy
	i.healthFlag = HealthHealthy
	i.healthFailures = 0
	i.mu.Unlock()

	metrics.RecordHealthCheck(i.Name, true)
	metrics.SetHealthFailures(i.Name, 0)

	i.bus.Publish(eventbus.Event{
		Kind: eventbus.HealthcheckPassed,
		Payload: map[string]any{"processname": i.Name, "groupname": i.Group, "message": msg},
	})
	if wasUnhealthy {
		i.setState(StateRunning)
	}
}

// onHealthFail records one failed check and returns true once the instance
// has crossed into UNHEALTHY with autorestart configured, meaning the
// caller should kill the child now.
func (i *Instance) onHealthFail(msg string, retries int) bool {
	i.mu.Lock()
	i.healthFailures++
	failures := i.healthFailures
	i.mu.Unlock()

	metrics.RecordHealthCheck(i.Name, false)
	metrics.SetHealthFailures(i.Name, failures)

	i.bus.Publish(eventbus.Event{
		Kind: eventbus.HealthcheckFailed,
		Payload: map[string]any{"processname": i.Name, "groupname": i.Group, "message": msg, "failures": failures},
	})

	if failures <= retries {
		return false
	}

	i.mu.Lock()
	i.healthFlag = HealthUnhealthy
	autoRestart := i.spec.AutoRestart
	i.mu.Unlock()

	i.setState(StateUnhealthy)
	return autoRestart
}

func (i *Instance) triggerHealthKill(cycleStop chan struct{}) {
	i.mu.Lock()
	once := i.cycleStopOnce
	i.mu.Unlock()
	if once == nil {
		once = &sync.Once{}
	}
	once.Do(func() { close(cycleStop) })
}
