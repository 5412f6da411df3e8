// Package monitor mirrors the control state to a websocket hub and accepts
// remote presses from it.
package monitor

import (
	"context"
	log "log/slog"
	"sync/atomic"
	"time"

	"rsbp/internal/button"
	"rsbp/internal/state"
	"rsbp/pkg/protocol"
)

const defaultReconnect = 3 * time.Second

type Monitor struct {
	url       string
	shard     string
	presses   chan<- button.Press
	reconnect time.Duration

	mailbox chan state.State
	cur     atomic.Value // state.State
}

// New returns a monitor for the hub at url. Presses requested by the hub
// are sent on presses without blocking.
func New(url, shard string, presses chan<- button.Press) *Monitor {
	m := &Monitor{
		url:       url,
		shard:     shard,
		presses:   presses,
		reconnect: defaultReconnect,
		mailbox:   make(chan state.State, 1),
	}
	m.cur.Store(state.Idle)
	return m
}

// SetState records s and queues it for publishing. It never blocks.
func (m *Monitor) SetState(s state.State) {
	m.cur.Store(s)
	select {
	case m.mailbox <- s:
	default:
		// the writer sends the latest value from cur anyway
	}
}

func (m *Monitor) current() state.State {
	return m.cur.Load().(state.State)
}

// Run keeps a hub connection alive until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	for ctx.Err() == nil {
		conn, err := protocol.Dial(ctx, m.url)
		if err != nil {
			log.Warn("Monitor hub unreachable", "url", m.url, "err", err)
		} else {
			log.Info("Connected to monitor hub", "url", m.url)
			m.serve(ctx, conn)
		}

		select {
		case <-ctx.Done():
		case <-time.After(m.reconnect):
		}
	}
}

func (m *Monitor) serve(ctx context.Context, conn *protocol.WebSocket) {
	defer conn.Close()

	replies := make(chan *protocol.Message, 4)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		m.read(conn, replies)
	}()

	if err := m.publish(conn, m.current()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-readerDone:
			return
		case <-m.mailbox:
			if err := m.publish(conn, m.current()); err != nil {
				return
			}
		case r := <-replies:
			if err := conn.Write([]byte(r.String())); err != nil {
				log.Warn("Monitor write failed", "err", err)
				return
			}
		}
	}
}

func (m *Monitor) publish(conn *protocol.WebSocket, s state.State) error {
	msg := &protocol.Message{To: protocol.Broadcast, Verb: protocol.VerbState, Noun: s.String(), From: m.shard}
	if err := conn.Write([]byte(msg.String())); err != nil {
		log.Warn("Monitor write failed", "err", err)
		return err
	}
	return nil
}

func (m *Monitor) read(conn *protocol.WebSocket, replies chan<- *protocol.Message) {
	for {
		in := conn.Read()
		switch in.Kind {
		case protocol.ConnClosed:
			log.Warn("Monitor hub closed connection", "url", m.url)
			return
		case protocol.ReadFailure:
			log.Warn("Monitor read failed", "err", in.Err)
			return
		}

		if !protocol.AddressedTo(in.Msg, m.shard) {
			continue
		}
		msg, err := protocol.Parse(string(in.Msg))
		if err != nil {
			log.Warn("Failed to parse hub message", "msg", string(in.Msg), "err", err)
			continue
		}

		switch msg.Verb {
		case protocol.VerbPress:
			select {
			case m.presses <- button.Press{At: time.Now(), Origin: "monitor"}:
			default:
				log.Debug("Remote press dropped, consumer busy")
			}
			reply := msg.Reply(m.shard)
			m.queue(replies, reply)
		case protocol.VerbGet:
			reply := msg.Reply(m.shard)
			reply.Args = []string{m.current().String()}
			m.queue(replies, reply)
		default:
			reply := msg.Reply(m.shard)
			reply.Error("UNSUPPORTED", msg.Verb)
			m.queue(replies, reply)
		}
	}
}

func (m *Monitor) queue(replies chan<- *protocol.Message, msg *protocol.Message) {
	select {
	case replies <- msg:
	default:
		log.Debug("Hub reply dropped", "msg", msg.String())
	}
}
