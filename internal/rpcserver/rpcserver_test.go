package rpcserver

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arrowcrest/supervice/internal/eventbus"
	"github.com/arrowcrest/supervice/internal/logger"
	"github.com/arrowcrest/supervice/internal/orchestrator"
	"github.com/arrowcrest/supervice/pkg/client"
)

func writeRaw(w io.Writer, body []byte) error {
	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T, configBody string) (*Server, *client.Client, func()) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "supervice.conf")
	if err := os.WriteFile(cfgPath, []byte(configBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	bus := eventbus.New(eventbus.DefaultCapacity, nil)
	orch, err := orchestrator.New(cfgPath, bus, testLogger(), logger.Config{})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := orch.Run(ctx); err != nil {
		t.Fatalf("orch.Run: %v", err)
	}

	sockPath := filepath.Join(dir, "supervice.sock")
	srv := New(sockPath, orch, testLogger())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("srv.Start: %v", err)
	}

	cl := client.New(sockPath)
	cleanup := func() {
		srv.Stop()
		orch.Shutdown(time.Second)
		cancel()
	}
	return srv, cl, cleanup
}

func TestStatusRoundTrip(t *testing.T) {
	_, cl, cleanup := newTestServer(t, `
[program:web]
command=true
`)
	defer cleanup()

	resp, err := cl.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if err := resp.Err(); err != nil {
		t.Fatalf("response error: %v", err)
	}
	if len(resp.Data) == 0 {
		t.Fatal("expected non-empty status data")
	}
}

func TestStartUnknownProcessReturnsNotFound(t *testing.T) {
	_, cl, cleanup := newTestServer(t, `
[program:web]
command=true
`)
	defer cleanup()

	resp, err := cl.Start("does-not-exist")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if resp.Status != "error" || resp.Code != "Process not found" {
		t.Fatalf("expected Process not found error, got %+v", resp)
	}
}

func TestStartThenStopInstance(t *testing.T) {
	_, cl, cleanup := newTestServer(t, `
[program:web]
command=sleep 5
autostart=false
`)
	defer cleanup()

	resp, err := cl.Start("web")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := resp.Err(); err != nil {
		t.Fatalf("start response error: %v", err)
	}

	resp, err = cl.Stop("web", false)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := resp.Err(); err != nil {
		t.Fatalf("stop response error: %v", err)
	}
}

func TestReloadRoundTrip(t *testing.T) {
	_, cl, cleanup := newTestServer(t, `
[program:web]
command=true
`)
	defer cleanup()

	resp, err := cl.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if err := resp.Err(); err != nil {
		t.Fatalf("reload response error: %v", err)
	}
}

func TestStartGroupUnknownGroupReturnsNotFound(t *testing.T) {
	_, cl, cleanup := newTestServer(t, `
[program:web]
command=true
`)
	defer cleanup()

	resp, err := cl.StartGroup("no-such-group")
	if err != nil {
		t.Fatalf("StartGroup: %v", err)
	}
	if resp.Status != "error" || resp.Code != "Group not found" {
		t.Fatalf("expected Group not found error, got %+v", resp)
	}
}

func TestInvalidRequestRootNotObject(t *testing.T) {
	srv, _, cleanup := newTestServer(t, `
[program:web]
command=true
`)
	defer cleanup()

	conn, err := net.Dial("unix", srv.path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := writeRaw(conn, []byte("[1,2,3]")); err != nil {
		t.Fatalf("writeRaw: %v", err)
	}
	data, err := readMessage(conn)
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != "error" || resp.Code != "INVALID_REQUEST" {
		t.Fatalf("expected INVALID_REQUEST error, got %+v", resp)
	}
}

func TestInvalidJSONRejected(t *testing.T) {
	srv, _, cleanup := newTestServer(t, `
[program:web]
command=true
`)
	defer cleanup()

	conn, err := net.Dial("unix", srv.path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := writeRaw(conn, []byte("not json")); err != nil {
		t.Fatalf("writeRaw: %v", err)
	}
	data, err := readMessage(conn)
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != "error" || resp.Code != "INVALID_JSON" {
		t.Fatalf("expected INVALID_JSON error, got %+v", resp)
	}
}

func TestUnknownCommandRejected(t *testing.T) {
	srv, _, cleanup := newTestServer(t, `
[program:web]
command=true
`)
	defer cleanup()

	conn, err := net.Dial("unix", srv.path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	body, _ := json.Marshal(Request{Command: "bogus"})
	if err := writeRaw(conn, body); err != nil {
		t.Fatalf("writeRaw: %v", err)
	}
	data, err := readMessage(conn)
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != "error" || resp.Code != "UNKNOWN_COMMAND" {
		t.Fatalf("expected UNKNOWN_COMMAND error, got %+v", resp)
	}
}
