package protocol

import (
	"context"
	log "log/slog"
	"time"

	ws "github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

type WebSocket struct {
	conn *ws.Conn
	url  string
}

func Dial(ctx context.Context, url string) (*WebSocket, error) {
	log.Debug("Dial websocket", "url", url)

	conn, _, err := ws.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &WebSocket{conn: conn, url: url}, nil
}

func (web *WebSocket) Write(payload []byte) error {
	log.Debug("Write ws", "msg", string(payload))
	_ = web.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return web.conn.WriteMessage(ws.TextMessage, payload)
}

type IncomeKind uint

const (
	ConnClosed IncomeKind = iota
	ReadFailure
	ReadOK
)

type Income struct {
	Kind IncomeKind
	Msg  []byte
	Err  error
}

func (web *WebSocket) Read() Income {
	_, msg, err := web.conn.ReadMessage()
	if err != nil {
		if IsClosed(err) {
			return Income{Kind: ConnClosed, Err: err}
		}
		return Income{Kind: ReadFailure, Err: err}
	}

	log.Debug("Read ws", "msg", string(msg))
	return Income{Kind: ReadOK, Msg: msg}
}

// Close sends a close frame and drops the connection.
func (web *WebSocket) Close() error {
	_ = web.conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return web.conn.Close()
}

func IsClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
