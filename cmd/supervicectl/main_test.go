package main

import (
	"encoding/binary"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"

	"github.com/arrowcrest/supervice/pkg/client"
)

// fakeDaemon accepts one connection, decodes the request, and replies with
// resp, mirroring internal/rpcserver's wire framing.
func fakeDaemon(t *testing.T, resp client.Response) string {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var header [4]byte
		if _, err := conn.Read(header[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(header[:])
		buf := make([]byte, n)
		_, _ = conn.Read(buf)

		body, _ := json.Marshal(resp)
		var out [4]byte
		binary.BigEndian.PutUint32(out[:], uint32(len(body)))
		_, _ = conn.Write(out[:])
		_, _ = conn.Write(body)
	}()
	return sockPath
}

func TestCallSucceedsOnOKResponse(t *testing.T) {
	sockPath := fakeDaemon(t, client.Response{Status: "ok"})
	err := call(sockPath, func(c *client.Client) (client.Response, error) { return c.Status() })
	if err != nil {
		t.Fatalf("call: %v", err)
	}
}

func TestCallReturnsErrorOnErrorResponse(t *testing.T) {
	sockPath := fakeDaemon(t, client.Response{Status: "error", Code: "Process not found", Message: "no such process: web"})
	err := call(sockPath, func(c *client.Client) (client.Response, error) { return c.Start("web") })
	if err == nil {
		t.Fatal("expected an error for an error-status response")
	}
}

func TestStopCmdForceFlagWired(t *testing.T) {
	var gotForce bool
	socketPath := fakeDaemonCapturingForce(t, &gotForce)

	cmd := stopCmd(&socketPath)
	cmd.SetArgs([]string{"web", "--force"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !gotForce {
		t.Fatal("expected --force to be forwarded to the RPC request")
	}
}

func fakeDaemonCapturingForce(t *testing.T, gotForce *bool) string {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "force.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var header [4]byte
		if _, err := conn.Read(header[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(header[:])
		buf := make([]byte, n)
		_, _ = conn.Read(buf)

		var req client.Request
		_ = json.Unmarshal(buf, &req)
		*gotForce = req.Force

		body, _ := json.Marshal(client.Response{Status: "ok"})
		var out [4]byte
		binary.BigEndian.PutUint32(out[:], uint32(len(body)))
		_, _ = conn.Write(out[:])
		_, _ = conn.Write(body)
	}()
	return sockPath
}

func TestStartCmdRequiresExactlyOneArg(t *testing.T) {
	var socketPath string
	cmd := startCmd(&socketPath)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error when no instance name is given")
	}
}
