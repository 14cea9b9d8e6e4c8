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

package server_test

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coedit-team/coedit/api/types"
	"github.com/coedit-team/coedit/server"
)

func newTestServer(t *testing.T) *server.Server {
	t.Helper()

	conf := server.NewConfig()
	conf.Port = freePort(t)
	conf.Profiling = nil

	svr, err := server.New(conf)
	require.NoError(t, err)
	require.NoError(t, svr.Start())
	t.Cleanup(func() {
		assert.NoError(t, svr.Shutdown(true))
	})
	return svr
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

// testConn is a raw websocket peer speaking the relay protocol.
type testConn struct {
	t    *testing.T
	sock *websocket.Conn
}

func dial(t *testing.T, svr *server.Server) *testConn {
	t.Helper()

	_, port, err := net.SplitHostPort(svr.RPCAddr())
	require.NoError(t, err)

	sock, _, err := websocket.DefaultDialer.Dial(
		fmt.Sprintf("ws://127.0.0.1:%s/ws", port), nil,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sock.Close()
	})
	return &testConn{t: t, sock: sock}
}

func (c *testConn) send(eventType types.EventType, payload interface{}) {
	c.t.Helper()
	event, err := types.NewEvent(eventType, payload)
	require.NoError(c.t, err)
	encoded, err := event.Marshal()
	require.NoError(c.t, err)
	require.NoError(c.t, c.sock.WriteMessage(websocket.TextMessage, encoded))
}

func (c *testConn) sendRaw(message string) {
	c.t.Helper()
	require.NoError(c.t, c.sock.WriteMessage(websocket.TextMessage, []byte(message)))
}

// next reads the next event, failing the test after three seconds.
func (c *testConn) next() *types.Event {
	c.t.Helper()
	require.NoError(c.t, c.sock.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, encoded, err := c.sock.ReadMessage()
	require.NoError(c.t, err)

	event := &types.Event{}
	require.NoError(c.t, json.Unmarshal(encoded, event))
	return event
}

// nextOfType reads events until one of the given type arrives.
func (c *testConn) nextOfType(eventType types.EventType) *types.Event {
	c.t.Helper()
	for i := 0; i < 10; i++ {
		if event := c.next(); event.Type == eventType {
			return event
		}
	}
	c.t.Fatalf("no %s event received", eventType)
	return nil
}

// expectSilence asserts that nothing arrives within the window.
func (c *testConn) expectSilence(window time.Duration) {
	c.t.Helper()
	require.NoError(c.t, c.sock.SetReadDeadline(time.Now().Add(window)))
	_, encoded, err := c.sock.ReadMessage()
	if err == nil {
		c.t.Fatalf("expected silence, received %s", encoded)
	}
	require.True(c.t, strings.Contains(err.Error(), "timeout"), "read failed with %v", err)
}

func (c *testConn) join(roomID, userID string) {
	c.t.Helper()
	c.send(types.RoomJoinEvent, types.RoomJoinPayload{
		RoomID: roomID,
		User:   types.User{ID: userID, Name: userID},
	})
}

// waitMembers reads room:users events until the list reaches n members.
func (c *testConn) waitMembers(roomID string, n int) []types.Member {
	c.t.Helper()
	for i := 0; i < 10; i++ {
		event := c.nextOfType(types.RoomUsersEvent)
		payload := types.RoomUsersPayload{}
		require.NoError(c.t, event.UnmarshalPayload(&payload))
		if payload.RoomID == roomID && len(payload.Members) == n {
			return payload.Members
		}
	}
	c.t.Fatalf("room %s never reached %d members", roomID, n)
	return nil
}

func TestServer(t *testing.T) {
	t.Run("join broadcasts membership test", func(t *testing.T) {
		svr := newTestServer(t)

		conn1 := dial(t, svr)
		conn1.join("room-a", "alice")
		members := conn1.waitMembers("room-a", 1)
		assert.Equal(t, "alice", members[0].User.ID)

		conn2 := dial(t, svr)
		conn2.join("room-a", "bob")
		conn2.waitMembers("room-a", 2)

		members = conn1.waitMembers("room-a", 2)
		userIDs := []string{members[0].User.ID, members[1].User.ID}
		assert.ElementsMatch(t, []string{"alice", "bob"}, userIDs)
	})

	t.Run("leave broadcasts membership test", func(t *testing.T) {
		svr := newTestServer(t)

		conn1 := dial(t, svr)
		conn1.join("room-a", "alice")
		conn1.waitMembers("room-a", 1)

		conn2 := dial(t, svr)
		conn2.join("room-a", "bob")
		conn1.waitMembers("room-a", 2)

		conn2.send(types.RoomLeaveEvent, types.RoomLeavePayload{RoomID: "room-a"})
		members := conn1.waitMembers("room-a", 1)
		assert.Equal(t, "alice", members[0].User.ID)
	})

	t.Run("disconnect broadcasts membership test", func(t *testing.T) {
		svr := newTestServer(t)

		conn1 := dial(t, svr)
		conn1.join("room-a", "alice")
		conn1.waitMembers("room-a", 1)

		conn2 := dial(t, svr)
		conn2.join("room-a", "bob")
		conn1.waitMembers("room-a", 2)

		require.NoError(t, conn2.sock.Close())
		members := conn1.waitMembers("room-a", 1)
		assert.Equal(t, "alice", members[0].User.ID)
	})

	t.Run("room isolation test", func(t *testing.T) {
		svr := newTestServer(t)

		conn1 := dial(t, svr)
		conn1.join("room-a", "alice")
		conn1.waitMembers("room-a", 1)

		other := dial(t, svr)
		other.join("room-b", "carol")
		other.waitMembers("room-b", 1)

		conn2 := dial(t, svr)
		conn2.join("room-a", "bob")
		conn2.waitMembers("room-a", 2)

		// Membership noise in room-a never reaches room-b.
		other.expectSilence(300 * time.Millisecond)
	})

	t.Run("file relay test", func(t *testing.T) {
		svr := newTestServer(t)

		conn1 := dial(t, svr)
		conn1.join("room-a", "alice")
		conn1.waitMembers("room-a", 1)

		conn2 := dial(t, svr)
		conn2.join("room-a", "bob")
		conn2.waitMembers("room-a", 2)
		conn1.waitMembers("room-a", 2)

		data := json.RawMessage(`{"kind":"op","seq":7}`)
		conn1.send(types.FileEditEvent, types.FilePayload{
			RoomID:   "room-a",
			FilePath: "main.go",
			UserID:   "alice",
			Data:     data,
		})

		event := conn2.nextOfType(types.FileEditEvent)
		payload := types.FilePayload{}
		require.NoError(t, event.UnmarshalPayload(&payload))
		assert.Equal(t, "room-a", payload.RoomID)
		assert.Equal(t, "main.go", payload.FilePath)
		assert.Equal(t, "alice", payload.UserID)
		assert.JSONEq(t, string(data), string(payload.Data))

		// The sender never hears its own file event back.
		conn1.expectSilence(300 * time.Millisecond)
	})

	t.Run("file event kinds relay test", func(t *testing.T) {
		svr := newTestServer(t)

		conn1 := dial(t, svr)
		conn1.join("room-a", "alice")
		conn1.waitMembers("room-a", 1)

		conn2 := dial(t, svr)
		conn2.join("room-a", "bob")
		conn1.waitMembers("room-a", 2)

		for _, eventType := range []types.EventType{
			types.FileOpenEvent, types.FileCloseEvent, types.FileSaveEvent,
		} {
			conn1.send(eventType, types.FilePayload{
				RoomID:   "room-a",
				FilePath: "main.go",
				UserID:   "alice",
			})
			event := conn2.nextOfType(eventType)
			payload := types.FilePayload{}
			require.NoError(t, event.UnmarshalPayload(&payload))
			assert.Equal(t, "main.go", payload.FilePath)
		}
	})

	t.Run("chat broadcast test", func(t *testing.T) {
		svr := newTestServer(t)

		conn1 := dial(t, svr)
		conn1.join("room-a", "alice")
		conn1.waitMembers("room-a", 1)

		conn2 := dial(t, svr)
		conn2.join("room-a", "bob")
		conn1.waitMembers("room-a", 2)

		conn1.send(types.ChatMessageEvent, types.ChatSendPayload{
			RoomID:   "room-a",
			UserID:   "alice",
			UserName: "Alice",
			Text:     "hello everyone",
		})

		// Chat goes to every member, the sender included.
		for _, conn := range []*testConn{conn1, conn2} {
			event := conn.nextOfType(types.ChatMessageEvent)
			message := types.ChatMessage{}
			require.NoError(t, event.UnmarshalPayload(&message))
			assert.Equal(t, "hello everyone", message.Text)
			assert.Equal(t, "Alice", message.UserName)
			assert.NotEmpty(t, message.ID)
			assert.NotZero(t, message.Timestamp)
		}
	})

	t.Run("chat length cap test", func(t *testing.T) {
		svr := newTestServer(t)

		conn1 := dial(t, svr)
		conn1.join("room-a", "alice")
		conn1.waitMembers("room-a", 1)

		conn2 := dial(t, svr)
		conn2.join("room-a", "bob")
		conn2.waitMembers("room-a", 2)
		conn1.waitMembers("room-a", 2)

		conn1.send(types.ChatMessageEvent, types.ChatSendPayload{
			RoomID: "room-a",
			UserID: "alice",
			Text:   strings.Repeat("a", 501),
		})

		// Only the sender is notified of the rejection.
		event := conn1.nextOfType(types.ErrorEvent)
		payload := types.ErrorPayload{}
		require.NoError(t, event.UnmarshalPayload(&payload))
		assert.NotEmpty(t, payload.Message)
		conn2.expectSilence(300 * time.Millisecond)
	})

	t.Run("chat history test", func(t *testing.T) {
		svr := newTestServer(t)

		conn1 := dial(t, svr)
		conn1.join("room-a", "alice")
		conn1.waitMembers("room-a", 1)

		for i := 0; i < 3; i++ {
			conn1.send(types.ChatMessageEvent, types.ChatSendPayload{
				RoomID: "room-a",
				UserID: "alice",
				Text:   fmt.Sprintf("message %d", i),
			})
			conn1.nextOfType(types.ChatMessageEvent)
		}

		conn2 := dial(t, svr)
		conn2.join("room-a", "bob")
		conn2.waitMembers("room-a", 2)
		conn1.waitMembers("room-a", 2)

		conn2.send(types.ChatHistoryEvent, types.ChatHistoryRequestPayload{RoomID: "room-a"})
		event := conn2.nextOfType(types.ChatHistoryEvent)
		payload := types.ChatHistoryPayload{}
		require.NoError(t, event.UnmarshalPayload(&payload))
		require.Len(t, payload.Messages, 3)
		assert.Equal(t, "message 2", payload.Messages[0].Text)
		assert.Equal(t, "message 0", payload.Messages[2].Text)

		// History goes to the requester only.
		conn1.expectSilence(300 * time.Millisecond)
	})

	t.Run("malformed event test", func(t *testing.T) {
		svr := newTestServer(t)

		conn := dial(t, svr)
		conn.sendRaw("not json at all")
		conn.nextOfType(types.ErrorEvent)

		// A join missing its required fields is rejected the same way.
		conn.send(types.RoomJoinEvent, types.RoomJoinPayload{})
		conn.nextOfType(types.ErrorEvent)

		// The connection survives protocol errors.
		conn.join("room-a", "alice")
		conn.waitMembers("room-a", 1)
	})

	t.Run("unknown event type test", func(t *testing.T) {
		svr := newTestServer(t)

		conn := dial(t, svr)
		conn.sendRaw(`{"type":"room:explode","payload":{}}`)
		conn.nextOfType(types.ErrorEvent)
	})
}
