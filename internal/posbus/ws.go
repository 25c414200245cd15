// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

package posbus

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// pongWait is how long a connection may stay silent before reads fail; the
// pong handler extends it.
var pongWait = 2 * pingInterval

// WSTransport adapts a gorilla connection to the bus Transport. Writes are
// serialised by the subscription's write loop; the mutex only guards the
// close race.
type WSTransport struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewWSTransport wraps an upgraded connection.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	return &WSTransport{conn: conn}
}

// WriteMessage sends one text frame under the given deadline.
func (t *WSTransport) WriteMessage(data []byte, deadline time.Time) error {
	_ = t.conn.SetWriteDeadline(deadline)
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// WritePing sends a ping control frame under the given deadline.
func (t *WSTransport) WritePing(deadline time.Time) error {
	_ = t.conn.SetWriteDeadline(deadline)
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close sends the close frame with the given code and shuts the socket.
func (t *WSTransport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	msg := websocket.FormatCloseMessage(code, reason)
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	return t.conn.Close()
}

// ServeConn subscribes an upgraded websocket to the bus and pumps its reads
// until the client goes away. It blocks for the life of the connection.
func ServeConn(bus *Bus, theaterID string, conn *websocket.Conn) error {
	transport := NewWSTransport(conn)
	sub, err := bus.Subscribe(theaterID, transport)
	if err != nil {
		_ = transport.Close(CloseInternalError, "bus unavailable")
		return err
	}
	defer bus.Unsubscribe(sub)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		sub.MarkAlive()
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Inbound frames are drained and discarded; the stream is server-push.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}
