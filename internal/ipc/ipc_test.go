package ipc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRoundTrip verifies commands reach the handler and responses come back.
func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rsbp.sock")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	err := StartServer(ctx, path, func(req Request) Response {
		got <- req.Cmd
		switch req.Cmd {
		case CmdStatus:
			return Response{OK: true, State: "IDLE", Uptime: "1m0s"}
		case CmdPress:
			return Response{OK: true}
		default:
			return Response{Error: "unknown command " + req.Cmd}
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := SendCommand(path, CmdStatus)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if resp.State != "IDLE" || resp.Uptime != "1m0s" {
		t.Fatalf("resp = %+v", resp)
	}
	if <-got != CmdStatus {
		t.Fatal("handler saw wrong command")
	}

	if _, err := SendCommand(path, "dance"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

// TestServerRemovesSocket verifies the socket file goes away on shutdown.
func TestServerRemovesSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rsbp.sock")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := StartServer(ctx, path, func(Request) Response { return Response{OK: true} }); err != nil {
		t.Fatalf("stale socket not replaced: %v", err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("socket file left behind")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
