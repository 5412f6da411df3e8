package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"

	"rsbp/internal/button"
	"rsbp/internal/state"
)

func hub(t *testing.T) (string, <-chan *ws.Conn) {
	t.Helper()
	conns := make(chan *ws.Conn, 1)
	release := make(chan struct{})
	up := ws.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- c
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns
}

func readLine(t *testing.T, c *ws.Conn) string {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("hub read: %v", err)
	}
	return string(msg)
}

// TestMonitorMirrorsStateAndForwardsPress verifies state is published on
// connect and on change, and PRESS from the hub reaches the press channel.
func TestMonitorMirrorsStateAndForwardsPress(t *testing.T) {
	url, conns := hub(t)
	presses := make(chan button.Press, 1)
	m := New(url, "RSBP", presses)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	var c *ws.Conn
	select {
	case c = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never connected")
	}

	if got := readLine(t, c); got != "ALL:STATE:IDLE:RSBP" {
		t.Fatalf("first message = %q", got)
	}

	if err := c.WriteMessage(ws.TextMessage, []byte("RSBP:PRESS:BUTTON:HUB")); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-presses:
		if p.Origin != "monitor" {
			t.Fatalf("origin = %q", p.Origin)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("press not forwarded")
	}
	if got := readLine(t, c); got != "HUB:OK:BUTTON:RSBP" {
		t.Fatalf("press reply = %q", got)
	}

	// Messages for other shards are ignored.
	c.WriteMessage(ws.TextMessage, []byte("LAMP:PRESS:BUTTON:HUB"))

	m.SetState(state.Recording)
	if got := readLine(t, c); got != "ALL:STATE:RECORDING:RSBP" {
		t.Fatalf("state message = %q", got)
	}

	if err := c.WriteMessage(ws.TextMessage, []byte("RSBP:GET:STATE:HUB")); err != nil {
		t.Fatal(err)
	}
	if got := readLine(t, c); got != "HUB:OK:STATE:RECORDING:RSBP" {
		t.Fatalf("get reply = %q", got)
	}
	if len(presses) != 0 {
		t.Fatal("foreign press forwarded")
	}
}

// TestSetStateNeverBlocks verifies callers are not held up without a hub.
func TestSetStateNeverBlocks(t *testing.T) {
	m := New("ws://127.0.0.1:1/", "RSBP", make(chan button.Press))
	done := make(chan struct{})
	go func() {
		for _, s := range state.All {
			m.SetState(s)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SetState blocked")
	}
	if m.current() != state.Error {
		t.Fatalf("current = %s", m.current())
	}
}
