package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Recv once the underlying socket has closed.
var ErrClosed = errors.New("transport: websocket closed")

// WS wraps a gorilla/websocket connection as a bidirectional text-frame
// stream. Send is safe to call concurrently from multiple goroutines
// (gorilla's Conn is not); Recv is intended for a single reader
// goroutine, matching the teacher's per-connection reader/writer pair
// in cdpproxy.proxyWebSocketMessages.
type WS struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	closeMu  sync.Mutex
	closed   bool
	closeErr error
}

func NewWS(conn *websocket.Conn) *WS {
	return &WS{conn: conn}
}

// Send writes a single text frame.
func (w *WS) Send(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Recv blocks for the next text frame, transparently skipping
// ping/pong/binary frames, and returns ErrClosed when the peer closes
// the connection.
func (w *WS) Recv(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil, err
			}
			w.closeMu.Lock()
			w.closed = true
			w.closeErr = err
			w.closeMu.Unlock()
			return nil, ErrClosed
		}
		if msgType != websocket.TextMessage {
			continue // ping/pong/binary ignored per transport contract
		}
		return data, nil
	}
}

func (w *WS) Close() error {
	return w.conn.Close()
}

func (w *WS) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}
