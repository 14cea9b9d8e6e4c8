/*
 * Copyright 2025 The Coedit Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package server

import (
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coedit-team/coedit/server/logging"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from
	// the peer.
	pongWait = 60 * time.Second

	// pingPeriod is the period of pings to peer. It must be less than
	// pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum inbound message size allowed.
	// Document snapshots ride the same pipe, so it is generous.
	maxMessageSize = 1 << 20

	// sendBufferSize is the per-connection outbound queue. A peer that
	// cannot drain it is dropped rather than allowed to stall the room.
	sendBufferSize = 256
)

// connection is one live websocket connection. Its id is opaque and
// unique per connection, not per logical user.
type connection struct {
	id     string
	sock   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger logging.Logger

	mu     gosync.Mutex
	closed bool
}

func newConnection(id string, sock *websocket.Conn) *connection {
	return &connection{
		id:     id,
		sock:   sock,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logging.New("conn").With("id", id),
	}
}

// trySend queues the message without blocking. It reports false when
// the connection is closed or its queue is full, which the server
// treats as a dead peer. The send channel is never closed, so a send
// racing close cannot panic; the mutex orders it against close.
func (c *connection) trySend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// close marks the connection closed exactly once and signals the
// write pump to shut down, which closes the socket.
func (c *connection) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
}

// readPump reads messages from the socket and dispatches them until
// the connection drops. It runs in the connection's handler goroutine.
func (c *connection) readPump(s *Server) {
	defer s.unregister(c)

	c.sock.SetReadLimit(maxMessageSize)
	if err := c.sock.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warnf("set read deadline: %v", err)
	}
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnf("read: %v", err)
			}
			return
		}
		s.dispatch(c, message)
	}
}

// writePump writes queued messages and pings to the socket until the
// connection is closed.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.sock.Close(); err != nil {
			c.logger.Debugf("close socket: %v", err)
		}
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.done:
			if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			_ = c.sock.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
