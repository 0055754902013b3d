// Package config loads and validates the supervisor's INI-like
// configuration file (spec.md §6). It is grounded on
// original_source/supervice/config.py for the exact validation rules
// (VALID_SIGNALS, _parse_bool, _parse_env, all _validate_* functions) and
// on the teacher's internal/config/config.go for the decode-via-
// mapstructure idiom, adapted to a hand-rolled section scanner because
// none of the teacher's formats (TOML/YAML/JSON via viper) can express
// repeated, dynamically-named sections like "[program:web]".
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"golang.org/x/sys/unix"

	"github.com/arrowcrest/supervice/internal/process"
)

// Error wraps a configuration validation failure, aborting startup per
// spec.md §6 ("violations raise a configuration error that aborts
// startup").
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

func errorf(format string, args ...any) error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// DefaultSocketPath is used when [supervice].socket is unset.
const DefaultSocketPath = "/var/run/supervice.sock"

// Global holds the optional [supervice] section.
type Global struct {
	Logfile         string
	Pidfile         string
	LogLevel        string
	Socket          string
	ShutdownTimeout time.Duration
	LogMaxBytes     int
	LogBackups      int
	MetricsListen   string // [DOMAIN]: empty disables the status/metrics HTTP surface
	HistoryDB       string // [DOMAIN]: empty disables the SQLite audit sink
}

// ProgramConfig holds one [program:NAME] section, with its group already
// resolved from any [group:NAME] assignment (default: its own name).
type ProgramConfig struct {
	Name          string
	Command       string
	NumProcs      int
	AutoStart     bool
	AutoRestart   bool
	StartSecs     time.Duration
	StartRetries  int
	StopSignal    string
	StopWaitSecs  time.Duration
	StdoutLogfile string
	StderrLogfile string
	Env           []string
	Directory     string
	User          string
	Group         string
	Health        process.HealthSpec
}

// Config is the fully parsed and validated configuration file.
type Config struct {
	Global   Global
	Programs []ProgramConfig
}

type rawSection = map[string]string

type rawProgram struct {
	name   string
	fields rawSection
}

type rawGroup struct {
	name     string
	programs string
}

// Load reads, parses, and validates path, returning a configuration error
// (type *Error) on any violation.
func Load(path string) (*Config, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, errorf("open config %s: %v", path, err)
	}
	defer f.Close()

	globalRaw, programs, groups, err := scan(f)
	if err != nil {
		return nil, err
	}

	global, err := decodeGlobal(globalRaw)
	if err != nil {
		return nil, err
	}

	groupOf := make(map[string]string)
	for _, g := range groups {
		if strings.TrimSpace(g.name) == "" {
			return nil, errorf("group section has no name")
		}
		for _, member := range splitComma(g.programs) {
			groupOf[member] = g.name
		}
	}

	cfg := &Config{Global: global}
	for _, rp := range programs {
		pc, err := decodeProgram(rp)
		if err != nil {
			return nil, err
		}
		if g, ok := groupOf[pc.Name]; ok {
			pc.Group = g
		} else {
			pc.Group = pc.Name
		}
		if err := validateProgram(pc); err != nil {
			return nil, err
		}
		cfg.Programs = append(cfg.Programs, pc)
	}
	return cfg, nil
}

// scan splits r into the [supervice] global section (nil if absent), an
// ordered list of [program:NAME] sections, and an ordered list of
// [group:NAME] sections.
func scan(r io.Reader) (rawSection, []rawProgram, []rawGroup, error) {
	var global rawSection
	var programs []rawProgram
	var groups []rawGroup

	var current rawSection
	var currentProgramIdx = -1
	var currentGroupIdx = -1

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, nil, nil, errorf("line %d: malformed section header %q", lineNo, line)
			}
			header := line[1 : len(line)-1]
			kind, name, _ := strings.Cut(header, ":")
			kind = strings.TrimSpace(kind)
			name = strings.TrimSpace(name)
			switch kind {
			case "supervice":
				global = rawSection{}
				current = global
				currentProgramIdx, currentGroupIdx = -1, -1
			case "program":
				if name == "" {
					return nil, nil, nil, errorf("line %d: [program:NAME] requires a name", lineNo)
				}
				programs = append(programs, rawProgram{name: name, fields: rawSection{}})
				currentProgramIdx = len(programs) - 1
				currentGroupIdx = -1
				current = programs[currentProgramIdx].fields
			case "group":
				if name == "" {
					return nil, nil, nil, errorf("line %d: [group:NAME] requires a name", lineNo)
				}
				groups = append(groups, rawGroup{name: name})
				currentGroupIdx = len(groups) - 1
				currentProgramIdx = -1
				current = nil
			default:
				return nil, nil, nil, errorf("line %d: unknown section kind %q", lineNo, kind)
			}
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, nil, nil, errorf("line %d: expected key=value, got %q", lineNo, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch {
		case currentGroupIdx >= 0:
			if key == "programs" {
				groups[currentGroupIdx].programs = value
			}
		case current != nil:
			current[key] = value
		default:
			return nil, nil, nil, errorf("line %d: key=value outside of any section", lineNo)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, nil, errorf("reading config: %v", err)
	}
	return global, programs, groups, nil
}

func decodeGlobal(raw rawSection) (Global, error) {
	var g Global
	if raw == nil {
		g.Socket = DefaultSocketPath
		return g, nil
	}
	type shadow struct {
		Logfile         string `mapstructure:"logfile"`
		Pidfile         string `mapstructure:"pidfile"`
		LogLevel        string `mapstructure:"loglevel"`
		Socket          string `mapstructure:"socket"`
		ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
		LogMaxBytes     int    `mapstructure:"log_maxbytes"`
		LogBackups      int    `mapstructure:"log_backups"`
		MetricsListen   string `mapstructure:"metrics_listen"`
		HistoryDB       string `mapstructure:"history_db"`
	}
	var sh shadow
	if err := decodeWeak(raw, &sh); err != nil {
		return g, errorf("[supervice]: %v", err)
	}
	if sh.ShutdownTimeout < 0 {
		return g, errorf("[supervice]: shutdown_timeout must be non-negative")
	}
	if sh.LogMaxBytes < 0 || sh.LogBackups < 0 {
		return g, errorf("[supervice]: log_maxbytes/log_backups must be non-negative")
	}
	g = Global{
		Logfile:         sh.Logfile,
		Pidfile:         sh.Pidfile,
		LogLevel:        sh.LogLevel,
		Socket:          sh.Socket,
		ShutdownTimeout: time.Duration(sh.ShutdownTimeout) * time.Second,
		LogMaxBytes:     sh.LogMaxBytes,
		LogBackups:      sh.LogBackups,
		MetricsListen:   sh.MetricsListen,
		HistoryDB:       sh.HistoryDB,
	}
	if g.Socket == "" {
		g.Socket = DefaultSocketPath
	}
	return g, nil
}

func decodeProgram(rp rawProgram) (ProgramConfig, error) {
	type shadow struct {
		Command                 string `mapstructure:"command"`
		NumProcs                int    `mapstructure:"numprocs"`
		AutoStart               string `mapstructure:"autostart"`
		AutoRestart             string `mapstructure:"autorestart"`
		StartSecs               int    `mapstructure:"startsecs"`
		StartRetries            int    `mapstructure:"startretries"`
		StopSignal              string `mapstructure:"stopsignal"`
		StopWaitSecs            int    `mapstructure:"stopwaitsecs"`
		StdoutLogfile           string `mapstructure:"stdout_logfile"`
		StderrLogfile           string `mapstructure:"stderr_logfile"`
		Environment             string `mapstructure:"environment"`
		Directory               string `mapstructure:"directory"`
		User                    string `mapstructure:"user"`
		HealthCheckType         string `mapstructure:"healthcheck_type"`
		HealthCheckInterval     int    `mapstructure:"healthcheck_interval"`
		HealthCheckTimeout      int    `mapstructure:"healthcheck_timeout"`
		HealthCheckRetries      int    `mapstructure:"healthcheck_retries"`
		HealthCheckStartPeriod  int    `mapstructure:"healthcheck_start_period"`
		HealthCheckPort         int    `mapstructure:"healthcheck_port"`
		HealthCheckHost         string `mapstructure:"healthcheck_host"`
		HealthCheckCommand      string `mapstructure:"healthcheck_command"`
	}
	sh := shadow{
		NumProcs:               1,
		AutoStart:              "true",
		AutoRestart:            "true",
		StartSecs:              1,
		StartRetries:           3,
		StopSignal:             "TERM",
		StopWaitSecs:           10,
		HealthCheckType:        "none",
		HealthCheckInterval:    30,
		HealthCheckTimeout:     10,
		HealthCheckRetries:     3,
		HealthCheckStartPeriod: 10,
		HealthCheckHost:        "127.0.0.1",
	}
	if err := decodeWeak(rp.fields, &sh); err != nil {
		return ProgramConfig{}, errorf("program %q: %v", rp.name, err)
	}

	env, err := parseEnv(sh.Environment)
	if err != nil {
		return ProgramConfig{}, errorf("program %q: environment: %v", rp.name, err)
	}

	pc := ProgramConfig{
		Name:          rp.name,
		Command:       sh.Command,
		NumProcs:      sh.NumProcs,
		AutoStart:     parseBool(sh.AutoStart),
		AutoRestart:   parseBool(sh.AutoRestart),
		StartSecs:     time.Duration(sh.StartSecs) * time.Second,
		StartRetries:  sh.StartRetries,
		StopSignal:    sh.StopSignal,
		StopWaitSecs:  time.Duration(sh.StopWaitSecs) * time.Second,
		StdoutLogfile: sh.StdoutLogfile,
		StderrLogfile: sh.StderrLogfile,
		Env:           env,
		Directory:     sh.Directory,
		User:          sh.User,
		Health: process.HealthSpec{
			Tag:         strings.ToLower(sh.HealthCheckType),
			Interval:    time.Duration(sh.HealthCheckInterval) * time.Second,
			Timeout:     time.Duration(sh.HealthCheckTimeout) * time.Second,
			Retries:     sh.HealthCheckRetries,
			StartPeriod: time.Duration(sh.HealthCheckStartPeriod) * time.Second,
			Host:        sh.HealthCheckHost,
			Port:        sh.HealthCheckPort,
			Command:     sh.HealthCheckCommand,
		},
	}
	return pc, nil
}

func decodeWeak(raw rawSection, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	m := make(map[string]any, len(raw))
	for k, v := range raw {
		m[k] = v
	}
	return dec.Decode(m)
}

// parseBool mirrors the original implementation's _parse_bool: only these
// four spellings (case-insensitive) are truthy, everything else is false.
func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// parseEnv ports the original implementation's _parse_env character
// scanner: comma-separated K=V pairs, values optionally single- or
// double-quoted to allow embedded commas.
func parseEnv(value string) ([]string, error) {
	if value == "" {
		return nil, nil
	}
	env := make(map[string]string)
	i, n := 0, len(value)
	for i < n {
		for i < n && (value[i] == ' ' || value[i] == '\t') {
			i++
		}
		if i >= n {
			break
		}
		eq := strings.IndexByte(value[i:], '=')
		if eq < 0 {
			break
		}
		eq += i
		key := strings.TrimSpace(value[i:eq])
		i = eq + 1
		for i < n && (value[i] == ' ' || value[i] == '\t') {
			i++
		}
		if i >= n {
			env[key] = ""
			break
		}
		if value[i] == '\'' || value[i] == '"' {
			quote := value[i]
			i++
			start := i
			for i < n && value[i] != quote {
				i++
			}
			env[key] = value[start:i]
			if i < n {
				i++
			}
			for i < n && (value[i] == ',' || value[i] == ' ' || value[i] == '\t') {
				i++
			}
		} else {
			start := i
			for i < n && value[i] != ',' {
				i++
			}
			env[key] = strings.TrimSpace(value[start:i])
			if i < n {
				i++
			}
		}
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out, nil
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateProgram(pc ProgramConfig) error {
	if strings.TrimSpace(pc.Command) == "" {
		return errorf("program %q: command is required", pc.Name)
	}
	if pc.NumProcs < 1 {
		return errorf("program %q: numprocs must be at least 1", pc.Name)
	}
	if pc.StartSecs < 0 || pc.StartRetries < 0 || pc.StopWaitSecs < 0 {
		return errorf("program %q: startsecs/startretries/stopwaitsecs must be non-negative", pc.Name)
	}
	if _, err := process.ParseSignal(pc.StopSignal); err != nil {
		return errorf("program %q: invalid stopsignal %q: %v", pc.Name, pc.StopSignal, err)
	}
	if pc.User != "" {
		if _, err := user.Lookup(pc.User); err != nil {
			return errorf("program %q: user %q does not exist", pc.Name, pc.User)
		}
	}
	if pc.Directory != "" {
		if err := validateDirectory(pc.Directory); err != nil {
			return errorf("program %q: %v", pc.Name, err)
		}
	}
	if pc.StdoutLogfile != "" {
		if err := validateLogfileParent(pc.StdoutLogfile); err != nil {
			return errorf("program %q: %v", pc.Name, err)
		}
	}
	if pc.StderrLogfile != "" {
		if err := validateLogfileParent(pc.StderrLogfile); err != nil {
			return errorf("program %q: %v", pc.Name, err)
		}
	}
	if pc.Health.Tag != "none" && pc.Health.Tag != "" {
		if err := validateHealth(pc.Health); err != nil {
			return errorf("program %q: %v", pc.Name, err)
		}
	}
	return nil
}

func validateDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("directory %q does not exist", dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory", dir)
	}
	if unix.Access(dir, unix.X_OK) != nil {
		return fmt.Errorf("directory %q is not accessible", dir)
	}
	return nil
}

func validateLogfileParent(logfile string) error {
	dir := filepath.Dir(logfile)
	if dir == "" {
		dir = "."
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("log directory %q does not exist", dir)
	}
	if unix.Access(dir, unix.W_OK) != nil {
		return fmt.Errorf("log directory %q is not writable", dir)
	}
	return nil
}

func validateHealth(h process.HealthSpec) error {
	if h.Interval <= 0 {
		return fmt.Errorf("healthcheck_interval must be at least 1")
	}
	if h.Timeout < 0 || h.Retries < 0 || h.StartPeriod < 0 {
		return fmt.Errorf("healthcheck_timeout/retries/start_period must be non-negative")
	}
	switch h.Tag {
	case "tcp":
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("healthcheck_port must be between 1 and 65535 for tcp checks")
		}
	case "script":
		if strings.TrimSpace(h.Command) == "" {
			return fmt.Errorf("healthcheck_command is required for script checks")
		}
	default:
		return fmt.Errorf("unknown healthcheck_type %q", h.Tag)
	}
	return nil
}

// ParseSignalSet returns the accepted stopsignal names, sorted.
func ParseSignalSet() []string {
	names := process.ValidSignalNames()
	sort.Strings(names)
	return names
}

// AtoiOrZero parses s as an int, returning 0 on error.
func AtoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
