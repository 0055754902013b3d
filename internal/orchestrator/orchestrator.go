// Package orchestrator owns the process table and group table: loading
// configuration, expanding numprocs into named instances, wiring each
// instance's event bus/health checker/environment, startup, shutdown, and
// hot reload (spec.md §4.E). Grounded on
// original_source/supervice/core.py's Supervisor class (_create_processes,
// run, reload_config, _program_changed) and on the teacher's
// internal/manager/manager.go for the Go idiom of a name->instance map plus
// concurrent shutdown via golang.org/x/sync/errgroup.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/arrowcrest/supervice/internal/config"
	"github.com/arrowcrest/supervice/internal/env"
	"github.com/arrowcrest/supervice/internal/eventbus"
	"github.com/arrowcrest/supervice/internal/health"
	"github.com/arrowcrest/supervice/internal/logger"
	"github.com/arrowcrest/supervice/internal/metrics"
	"github.com/arrowcrest/supervice/internal/process"
	"github.com/arrowcrest/supervice/internal/supervisor"
)

// metricsReportInterval is how often Run's background goroutine refreshes
// the running-instances-per-group and event-bus-drop gauges.
const metricsReportInterval = 5 * time.Second

// Orchestrator holds every live instance, keyed by its expanded name
// ("name" or "name:NN"), plus the group assignment (group name -> member
// instance names).
type Orchestrator struct {
	Bus *eventbus.Bus

	log        *slog.Logger
	logCfg     logger.Config
	configPath string
	env        *env.Env

	mu        sync.RWMutex
	global    config.Global
	instances map[string]*supervisor.Instance
	groups    map[string][]string

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	watcher *fsnotify.Watcher
}

// New loads configPath and builds (but does not start) every instance.
func New(configPath string, bus *eventbus.Bus, log *slog.Logger, logCfg logger.Config) (*Orchestrator, error) {
	o := &Orchestrator{
		Bus:        bus,
		log:        log,
		logCfg:     logCfg,
		configPath: configPath,
		env:        env.New(),
		instances:  make(map[string]*supervisor.Instance),
		groups:     make(map[string][]string),
	}
	if err := o.load(configPath); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) load(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	instances, groups := o.buildInstances(cfg.Programs)

	o.mu.Lock()
	o.global = cfg.Global
	o.instances = instances
	o.groups = groups
	o.mu.Unlock()
	return nil
}

// buildInstances expands each ProgramConfig's numprocs into one or more
// named *supervisor.Instance (spec.md §3: "name:NN" when numprocs > 1),
// mirroring original_source/supervice/core.py's _create_processes.
func (o *Orchestrator) buildInstances(programs []config.ProgramConfig) (map[string]*supervisor.Instance, map[string][]string) {
	instances := make(map[string]*supervisor.Instance)
	groups := make(map[string][]string)

	for _, pc := range programs {
		groupName := pc.Group
		if groupName == "" {
			groupName = pc.Name
		}
		if pc.NumProcs > 1 {
			for i := 0; i < pc.NumProcs; i++ {
				name := fmt.Sprintf("%s:%02d", pc.Name, i)
				spec := specFor(pc, name, i)
				instances[name] = o.newInstance(&spec, groupName)
				groups[groupName] = append(groups[groupName], name)
			}
		} else {
			spec := specFor(pc, pc.Name, 0)
			instances[pc.Name] = o.newInstance(&spec, groupName)
			groups[groupName] = append(groups[groupName], pc.Name)
		}
	}
	return instances, groups
}

func specFor(pc config.ProgramConfig, name string, idx int) process.Spec {
	return process.Spec{
		Name:          name,
		Command:       pc.Command,
		WorkDir:       pc.Directory,
		Env:           pc.Env,
		User:          pc.User,
		AutoStart:     pc.AutoStart,
		AutoRestart:   pc.AutoRestart,
		StartSecs:     pc.StartSecs,
		StartRetries:  pc.StartRetries,
		StopSignal:    pc.StopSignal,
		StopWaitSecs:  pc.StopWaitSecs,
		StdoutLogfile: process.ExpandProcessNum(pc.StdoutLogfile, idx),
		StderrLogfile: process.ExpandProcessNum(pc.StderrLogfile, idx),
		Group:         pc.Group,
		Health:        pc.Health,
	}
}

func (o *Orchestrator) newInstance(spec *process.Spec, group string) *supervisor.Instance {
	checker := health.New(spec.Health.Tag, spec.Health.Host, spec.Health.Port, spec.Health.Command, spec.Health.Timeout)
	return supervisor.New(spec, group, o.Bus, o.log, o.logCfg, checker, o.env.Merge)
}

// Run starts the event bus and every instance's supervision goroutine
// concurrently, then optionally starts an fsnotify watcher on the config
// file's directory, returning once startup has been issued (it does not
// block for the run's lifetime; call Shutdown to stop).
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runCtx, o.runCancel = context.WithCancel(ctx)
	o.Bus.Start()

	o.mu.RLock()
	instances := make([]*supervisor.Instance, 0, len(o.instances))
	for _, inst := range o.instances {
		instances = append(instances, inst)
	}
	o.mu.RUnlock()

	for _, inst := range instances {
		inst := inst
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			inst.Run(o.runCtx)
		}()
	}

	o.watchConfig()
	go o.reportMetrics()
	return nil
}

// reportMetrics periodically refreshes gauges that aren't naturally pushed
// by a state transition: per-group running-instance counts and the event
// bus's cumulative drop count.
func (o *Orchestrator) reportMetrics() {
	ticker := time.NewTicker(metricsReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.runCtx.Done():
			return
		case <-ticker.C:
		}
		metrics.SetEventbusDropped(o.Bus.DroppedCount())

		o.mu.RLock()
		groups := make(map[string][]string, len(o.groups))
		for g, members := range o.groups {
			groups[g] = members
		}
		o.mu.RUnlock()

		for group, members := range groups {
			running := 0
			for _, name := range members {
				if inst, ok := o.Instance(name); ok && inst.Snapshot().State == supervisor.StateRunning.String() {
					running++
				}
			}
			metrics.SetRunningInstances(group, running)
		}
	}
}

// watchConfig starts a best-effort fsnotify watcher that only logs a hint
// on config file changes; reload remains exclusively RPC-triggered
// (spec.md §4.E "at-will").
func (o *Orchestrator) watchConfig() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		o.log.Warn("config watcher unavailable", "err", err)
		return
	}
	if err := w.Add(dirOf(o.configPath)); err != nil {
		o.log.Warn("config watcher add failed", "err", err)
		_ = w.Close()
		return
	}
	o.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name == o.configPath && (ev.Op&(fsnotify.Write|fsnotify.Create) != 0) {
					o.log.Info("config file changed on disk; run 'reload' to apply")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				o.log.Warn("config watcher error", "err", err)
			case <-o.runCtx.Done():
				return
			}
		}
	}()
}

// Shutdown stops every instance concurrently, bounded by timeout, then
// stops the event bus and config watcher.
func (o *Orchestrator) Shutdown(timeout time.Duration) {
	o.mu.RLock()
	instances := make([]*supervisor.Instance, 0, len(o.instances))
	for _, inst := range o.instances {
		instances = append(instances, inst)
	}
	o.mu.RUnlock()

	var g errgroup.Group
	for _, inst := range instances {
		inst := inst
		g.Go(func() error {
			inst.RequestStop(false)
			inst.AwaitState(timeout, supervisor.StateStopped, supervisor.StateFatal, supervisor.StateExited)
			return nil
		})
	}
	_ = g.Wait()

	if o.runCancel != nil {
		o.runCancel()
	}
	o.wg.Wait()
	if o.watcher != nil {
		_ = o.watcher.Close()
	}
	o.Bus.Stop()
}

// Instance looks up a single instance by its expanded name.
func (o *Orchestrator) Instance(name string) (*supervisor.Instance, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	inst, ok := o.instances[name]
	return inst, ok
}

// Group returns the member instance names of a group, in the order they
// were declared.
func (o *Orchestrator) Group(name string) ([]string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	members, ok := o.groups[name]
	return members, ok
}

// Snapshots returns a status snapshot for every instance, sorted by name,
// for the RPC "status" command and the HTTP status surface.
func (o *Orchestrator) Snapshots() []supervisor.Status {
	o.mu.RLock()
	names := make([]string, 0, len(o.instances))
	for n := range o.instances {
		names = append(names, n)
	}
	o.mu.RUnlock()
	sort.Strings(names)

	out := make([]supervisor.Status, 0, len(names))
	for _, n := range names {
		inst, ok := o.Instance(n)
		if !ok {
			continue
		}
		out = append(out, inst.Snapshot())
	}
	return out
}

// Global returns the loaded [supervice] section.
func (o *Orchestrator) Global() config.Global {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.global
}

// ReloadResult reports the diff applied by Reload.
type ReloadResult struct {
	Added   []string
	Removed []string
	Changed []string
}

// Reload re-parses the config file and applies the added/removed/changed
// diff (original_source/supervice/core.py's reload_config): removed
// instances are stopped and dropped, added instances are built and
// started, and changed instances are logged but left running (spec.md §9
// Open Question: config changes for already-running instances require a
// manual restart to apply).
func (o *Orchestrator) Reload() (ReloadResult, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return ReloadResult{}, err
	}
	newInstances, newGroups := o.buildInstances(cfg.Programs)

	o.mu.Lock()
	oldInstances := o.instances
	o.mu.Unlock()

	oldNames := nameSet(oldInstances)
	newNames := nameSet(newInstances)

	var added, removed, changed []string
	for n := range newNames {
		if !oldNames[n] {
			added = append(added, n)
		}
	}
	for n := range oldNames {
		if !newNames[n] {
			removed = append(removed, n)
		}
	}
	for n := range oldNames {
		if newNames[n] && specChanged(oldInstances[n], newInstances[n]) {
			changed = append(changed, n)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(changed)

	for _, n := range removed {
		inst := oldInstances[n]
		inst.RequestStop(false)
		inst.AwaitState(o.global.ShutdownTimeout+2*time.Second, supervisor.StateStopped, supervisor.StateFatal, supervisor.StateExited)
	}

	o.mu.Lock()
	merged := make(map[string]*supervisor.Instance, len(newInstances))
	for n, inst := range oldInstances {
		if contains(removed, n) {
			continue
		}
		merged[n] = inst
	}
	for _, n := range added {
		merged[n] = newInstances[n]
	}
	o.instances = merged
	o.groups = newGroups
	o.mu.Unlock()

	for _, n := range added {
		inst := merged[n]
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			inst.Run(o.runCtx)
		}()
	}

	for _, n := range changed {
		o.log.Warn("program config changed; restart manually to apply", "process", n)
	}

	return ReloadResult{Added: added, Removed: removed, Changed: changed}, nil
}

func nameSet(m map[string]*supervisor.Instance) map[string]bool {
	s := make(map[string]bool, len(m))
	for n := range m {
		s[n] = true
	}
	return s
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// specChanged compares two instances' underlying process.Spec, mirroring
// original_source/supervice/core.py's _program_changed (dataclass equality).
func specChanged(oldInst, newInst *supervisor.Instance) bool {
	if oldInst == nil || newInst == nil {
		return true
	}
	return !reflect.DeepEqual(oldInst.Spec(), newInst.Spec())
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
