// Package rpcserver implements the control socket of spec.md §4.D: a
// local Unix stream socket, one request/response exchange per connection,
// length-prefixed JSON framing. Grounded on
// original_source/supervice/rpc.py (RPCServer: HEADER_SIZE, MAX_MESSAGE_SIZE,
// atomic 0600 socket creation via umask, VALID_COMMANDS) and on the
// accept-loop/per-connection-goroutine shape of
// other_examples/eec4d965_baiirun-aetherflow__internal-daemon-daemon.go.go.
package rpcserver

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/arrowcrest/supervice/internal/orchestrator"
	"github.com/arrowcrest/supervice/internal/supervisor"
)

const (
	headerSize     = 4
	maxMessageSize = 1024 * 1024

	startTimeout = 5 * time.Second
)

var validCommands = map[string]bool{
	"status":     true,
	"start":      true,
	"stop":       true,
	"restart":    true,
	"startgroup": true,
	"stopgroup":  true,
	"reload":     true,
}

// Request is the JSON request envelope spec.md §4.D defines.
type Request struct {
	Command string `json:"command"`
	Name    string `json:"name,omitempty"`
	Force   bool   `json:"force,omitempty"`
}

// Response is the JSON response envelope. A successful command puts its
// whole result under "data" (the status list, an instance snapshot, a
// group's snapshots, or the reload diff); there are no top-level
// "processes", "added", "removed" or "changed" keys, and ok responses carry
// no "message".
type Response struct {
	Status  string `json:"status"` // "ok" or "error"
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func errResp(code, format string, args ...any) Response {
	return Response{Status: "error", Code: code, Message: fmt.Sprintf(format, args...)}
}

func okResp(data any) Response {
	return Response{Status: "ok", Data: data}
}

// Server accepts connections on a Unix socket and dispatches each request
// to the orchestrator.
type Server struct {
	path string
	orch *orchestrator.Orchestrator
	log  *slog.Logger

	ln net.Listener
}

// New builds a Server bound to socketPath (not yet listening).
func New(socketPath string, orch *orchestrator.Orchestrator, log *slog.Logger) *Server {
	return &Server{path: socketPath, orch: orch, log: log}
}

// Start removes a stale socket file (if any), binds the new listener with
// an atomic 0600 mode via umask (avoiding the world-readable window a
// separate os.Chmod would leave), and begins the accept loop in a
// goroutine.
func (s *Server) Start(ctx context.Context) error {
	if _, err := os.Stat(s.path); err == nil {
		if rmErr := os.Remove(s.path); rmErr != nil {
			return fmt.Errorf("remove stale socket %s: %w", s.path, rmErr)
		}
	}

	oldMask := unix.Umask(0o177) // new socket ends up mode 0600
	ln, err := net.Listen("unix", s.path)
	unix.Umask(oldMask)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}
	s.ln = ln
	s.log.Info("rpc server listening", "socket", s.path)

	go s.acceptLoop(ctx)
	return nil
}

// Stop closes the listener and removes the socket file.
func (s *Server) Stop() {
	if s.ln != nil {
		_ = s.ln.Close()
	}
	if _, err := os.Stat(s.path); err == nil {
		_ = os.Remove(s.path)
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.log.Error("rpc accept error", "err", err)
				return
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	id := uuid.New().String()
	log := s.log.With("conn", id)
	defer func() { _ = conn.Close() }()

	data, err := readMessage(conn)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			log.Debug("rpc read error", "err", err)
		}
		return
	}
	if data == nil {
		return
	}

	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		log.Warn("invalid json in rpc request", "err", err)
		_ = writeMessage(conn, errResp("INVALID_JSON", "invalid JSON: %v", err))
		return
	}
	if _, ok := root.(map[string]any); !ok {
		log.Warn("rpc request root is not a JSON object")
		_ = writeMessage(conn, errResp("INVALID_REQUEST", "request must be a JSON object"))
		return
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		log.Warn("invalid json in rpc request", "err", err)
		_ = writeMessage(conn, errResp("INVALID_JSON", "invalid JSON: %v", err))
		return
	}
	if !validCommands[req.Command] {
		log.Warn("unknown rpc command", "command", req.Command)
		_ = writeMessage(conn, errResp("UNKNOWN_COMMAND", "unknown command: %s", req.Command))
		return
	}

	log.Debug("rpc request", "command", req.Command, "name", req.Name)
	resp := s.dispatch(req)
	if err := writeMessage(conn, resp); err != nil {
		log.Debug("rpc write error", "err", err)
	}
}

func readMessage(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxMessageSize {
		return nil, fmt.Errorf("message too large: %d bytes (max %d)", n, maxMessageSize)
	}
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeMessage(w io.Writer, resp Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func (s *Server) dispatch(req Request) Response {
	switch req.Command {
	case "status":
		return okResp(s.orch.Snapshots())
	case "start":
		return s.cmdStart(req.Name)
	case "stop":
		return s.cmdStop(req.Name, req.Force)
	case "restart":
		return s.cmdRestart(req.Name, req.Force)
	case "startgroup":
		return s.cmdStartGroup(req.Name)
	case "stopgroup":
		return s.cmdStopGroup(req.Name, req.Force)
	case "reload":
		return s.cmdReload()
	default:
		return errResp("UNKNOWN_COMMAND", "unknown command: %s", req.Command)
	}
}

func (s *Server) cmdStart(name string) Response {
	inst, ok := s.orch.Instance(name)
	if !ok {
		return errResp("Process not found", "no such process: %s", name)
	}
	inst.RequestStart()
	inst.AwaitState(startTimeout, supervisor.StateRunning, supervisor.StateFatal)
	return okResp(inst.Snapshot())
}

func (s *Server) cmdStop(name string, force bool) Response {
	inst, ok := s.orch.Instance(name)
	if !ok {
		return errResp("Process not found", "no such process: %s", name)
	}
	inst.RequestStop(force)
	inst.AwaitState(startTimeout, supervisor.StateStopped, supervisor.StateFatal, supervisor.StateExited)
	return okResp(inst.Snapshot())
}

// cmdRestart stops then starts, waiting for the instance to settle into
// STOPPED before re-issuing start to avoid a double-spawn race (spec.md §9
// Open Question).
func (s *Server) cmdRestart(name string, force bool) Response {
	inst, ok := s.orch.Instance(name)
	if !ok {
		return errResp("Process not found", "no such process: %s", name)
	}
	inst.RequestStop(force)
	inst.AwaitState(startTimeout, supervisor.StateStopped, supervisor.StateFatal, supervisor.StateExited)
	inst.RequestStart()
	inst.AwaitState(startTimeout, supervisor.StateRunning, supervisor.StateFatal)
	return okResp(inst.Snapshot())
}

func (s *Server) cmdStartGroup(name string) Response {
	members, ok := s.orch.Group(name)
	if !ok {
		return errResp("Group not found", "no such group: %s", name)
	}
	var insts []*supervisor.Instance
	for _, m := range members {
		if inst, ok := s.orch.Instance(m); ok {
			inst.RequestStart()
			insts = append(insts, inst)
		}
	}
	var statuses []supervisor.Status
	for _, inst := range insts {
		inst.AwaitState(startTimeout, supervisor.StateRunning, supervisor.StateFatal)
		statuses = append(statuses, inst.Snapshot())
	}
	return okResp(statuses)
}

func (s *Server) cmdStopGroup(name string, force bool) Response {
	members, ok := s.orch.Group(name)
	if !ok {
		return errResp("Group not found", "no such group: %s", name)
	}
	var insts []*supervisor.Instance
	for _, m := range members {
		if inst, ok := s.orch.Instance(m); ok {
			inst.RequestStop(force)
			insts = append(insts, inst)
		}
	}
	var statuses []supervisor.Status
	for _, inst := range insts {
		inst.AwaitState(startTimeout, supervisor.StateStopped, supervisor.StateFatal, supervisor.StateExited)
		statuses = append(statuses, inst.Snapshot())
	}
	return okResp(statuses)
}

func (s *Server) cmdReload() Response {
	result, err := s.orch.Reload()
	if err != nil {
		return errResp("RELOAD_FAILED", "%v", err)
	}
	return okResp(result)
}
