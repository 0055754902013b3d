package health

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestTCPCheckerSucceeds(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	c := TCPChecker{Host: "127.0.0.1", Port: addr.Port, Timeout: time.Second}
	res := c.Check(context.Background())
	if !res.Healthy {
		t.Fatalf("expected healthy result, got %+v", res)
	}
}

func TestTCPCheckerRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close() // nothing listening now, connection should be refused

	c := TCPChecker{Host: "127.0.0.1", Port: addr.Port, Timeout: time.Second}
	res := c.Check(context.Background())
	if res.Healthy {
		t.Fatal("expected unhealthy result for refused connection")
	}
}

func TestScriptCheckerSuccessAndFailure(t *testing.T) {
	ok := ScriptChecker{Command: "exit 0", Timeout: time.Second}
	if res := ok.Check(context.Background()); !res.Healthy {
		t.Fatalf("expected healthy result, got %+v", res)
	}

	fail := ScriptChecker{Command: "exit 1", Timeout: time.Second}
	if res := fail.Check(context.Background()); res.Healthy {
		t.Fatalf("expected unhealthy result, got %+v", res)
	}
}

func TestScriptCheckerTimeout(t *testing.T) {
	c := ScriptChecker{Command: "sleep 5", Timeout: 10 * time.Millisecond}
	res := c.Check(context.Background())
	if res.Healthy {
		t.Fatal("expected timeout to report unhealthy")
	}
}

func TestScriptCheckerNoCommand(t *testing.T) {
	c := ScriptChecker{Timeout: time.Second}
	res := c.Check(context.Background())
	if res.Healthy {
		t.Fatal("expected unhealthy result when no command is configured")
	}
}

func TestNewSelectsCheckerByTag(t *testing.T) {
	if _, ok := New("tcp", "localhost", 80, "", time.Second).(TCPChecker); !ok {
		t.Fatal("expected TCPChecker for tag \"tcp\"")
	}
	if _, ok := New("script", "", 0, "exit 0", time.Second).(ScriptChecker); !ok {
		t.Fatal("expected ScriptChecker for tag \"script\"")
	}
	if c := New("none", "", 0, "", time.Second); c != nil {
		t.Fatalf("expected nil checker for tag \"none\", got %v", c)
	}
}
