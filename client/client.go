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

// Package client provides the reconnect-aware handle every consuming
// UI uses to talk to the collaboration server. A transient network
// blip is absorbed here: the client re-dials with bounded backoff and
// silently re-issues the room join, so the UI layer never has to
// notice.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/coedit-team/coedit/api/types"
	"github.com/coedit-team/coedit/server/logging"
)

// Status is the connection status of a client.
type Status int

// The connection statuses. A dropped connection shows as
// StatusReconnecting rather than silently losing collaboration
// features; it becomes StatusDisconnected only when the bounded
// reconnect attempts are exhausted or the client is closed.
const (
	StatusDisconnected Status = iota
	StatusConnected
	StatusReconnecting
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ErrClientClosed is returned when operating on a closed client.
var ErrClientClosed = errors.New("client is closed")

type trackedRoom struct {
	roomID string
	user   types.User
}

// Client is one logical connection to the collaboration server.
type Client struct {
	key     string
	options Options
	logger  logging.Logger

	mu      gosync.Mutex
	writeMu gosync.Mutex
	sock    *websocket.Conn
	url     string
	status  Status
	closed  bool
	room    *trackedRoom

	// gen increments each time a socket is established. A run or
	// reconnect loop holding a stale gen has been superseded by a
	// direct Connect and must stand down instead of dialing a second
	// live socket.
	gen uint64

	statusSubs  *subscribers[Status]
	membersSubs *subscribers[types.RoomUsersPayload]
	chatSubs    *subscribers[*types.ChatMessage]
	historySubs *subscribers[types.ChatHistoryPayload]
	errorSubs   *subscribers[types.ErrorPayload]
	fileSubs    map[types.EventType]*subscribers[types.FilePayload]
}

// New creates an instance of Client.
func New(opts ...Option) *Client {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}

	if options.Key == "" {
		options.Key = uuid.New().String()
	}
	if options.MaxReconnectAttempts == 0 {
		options.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if options.ReconnectInterval == 0 {
		options.ReconnectInterval = DefaultReconnectInterval
	}
	if options.MaxReconnectInterval == 0 {
		options.MaxReconnectInterval = DefaultMaxReconnectInterval
	}
	if options.Logger == nil {
		options.Logger = logging.New("client")
	}

	fileSubs := make(map[types.EventType]*subscribers[types.FilePayload])
	for _, eventType := range types.FileEventTypes {
		fileSubs[eventType] = newSubscribers[types.FilePayload]()
	}

	return &Client{
		key:         options.Key,
		options:     options,
		logger:      options.Logger,
		status:      StatusDisconnected,
		statusSubs:  newSubscribers[Status](),
		membersSubs: newSubscribers[types.RoomUsersPayload](),
		chatSubs:    newSubscribers[*types.ChatMessage](),
		historySubs: newSubscribers[types.ChatHistoryPayload](),
		errorSubs:   newSubscribers[types.ErrorPayload](),
		fileSubs:    fileSubs,
	}
}

// Key returns the key of the client.
func (c *Client) Key() string {
	return c.key
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect establishes the transport to the given server address. It is
// idempotent if already connected. The address may be a host:port or a
// full websocket URL.
func (c *Client) Connect(ctx context.Context, addr string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.status == StatusConnected {
		c.mu.Unlock()
		return nil
	}
	c.url = wsURL(addr)
	url := c.url
	c.mu.Unlock()

	sock, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = sock.Close()
		return ErrClientClosed
	}
	if c.status == StatusConnected {
		// A concurrent Connect or reconnect won the race.
		c.mu.Unlock()
		_ = sock.Close()
		return nil
	}
	c.sock = sock
	c.status = StatusConnected
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.statusSubs.Dispatch(StatusConnected)
	c.rejoin()
	go c.run(sock, gen)

	return nil
}

// Close closes all resources of this client.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sock := c.sock
	c.sock = nil
	wasConnected := c.status != StatusDisconnected
	c.status = StatusDisconnected
	c.mu.Unlock()

	if sock != nil {
		if err := sock.Close(); err != nil {
			c.logger.Debugf("close socket: %v", err)
		}
	}
	if wasConnected {
		c.statusSubs.Dispatch(StatusDisconnected)
	}
	return nil
}

// JoinRoom joins the given room with the given identity. The room is
// tracked so that an automatic reconnect re-issues the join without
// caller involvement.
func (c *Client) JoinRoom(roomID string, user types.User) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.room = &trackedRoom{roomID: roomID, user: user}
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.sendEvent(types.RoomJoinEvent, types.RoomJoinPayload{RoomID: roomID, User: user})
}

// LeaveRoom leaves the tracked room, if any.
func (c *Client) LeaveRoom() error {
	c.mu.Lock()
	room := c.room
	c.room = nil
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if room == nil || !connected {
		return nil
	}
	return c.sendEvent(types.RoomLeaveEvent, types.RoomLeavePayload{RoomID: room.roomID})
}

// Room returns the tracked room id, or "" when not in a room.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil {
		return ""
	}
	return c.room.roomID
}

// SendFileOpen relays a file open event to the other room members.
func (c *Client) SendFileOpen(filePath string, data json.RawMessage) error {
	return c.sendFileEvent(types.FileOpenEvent, filePath, data)
}

// SendFileEdit relays a file edit event to the other room members.
func (c *Client) SendFileEdit(filePath string, data json.RawMessage) error {
	return c.sendFileEvent(types.FileEditEvent, filePath, data)
}

// SendFileClose relays a file close event to the other room members.
func (c *Client) SendFileClose(filePath string, data json.RawMessage) error {
	return c.sendFileEvent(types.FileCloseEvent, filePath, data)
}

// SendFileSave relays a file save event to the other room members.
func (c *Client) SendFileSave(filePath string, data json.RawMessage) error {
	return c.sendFileEvent(types.FileSaveEvent, filePath, data)
}

// sendFileEvent is a silent no-op when not connected or not in a room.
// That is an expected transient state, not an error; callers check
// Status for UX purposes.
func (c *Client) sendFileEvent(eventType types.EventType, filePath string, data json.RawMessage) error {
	c.mu.Lock()
	room := c.room
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if !connected || room == nil {
		return nil
	}

	return c.sendEvent(eventType, types.FilePayload{
		RoomID:    room.roomID,
		FilePath:  filePath,
		UserID:    room.user.ID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	})
}

// SendChatMessage posts a chat message to the tracked room. It is a
// silent no-op when not connected or not in a room.
func (c *Client) SendChatMessage(text string) error {
	c.mu.Lock()
	room := c.room
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if !connected || room == nil {
		return nil
	}

	return c.sendEvent(types.ChatMessageEvent, types.ChatSendPayload{
		RoomID:     room.roomID,
		Text:       text,
		UserID:     room.user.ID,
		UserName:   room.user.Name,
		UserAvatar: room.user.Avatar,
	})
}

// RequestChatHistory asks the server for the recent messages of the
// tracked room; the response arrives on the chat history subscription.
func (c *Client) RequestChatHistory() error {
	c.mu.Lock()
	room := c.room
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if !connected || room == nil {
		return nil
	}
	return c.sendEvent(types.ChatHistoryEvent, types.ChatHistoryRequestPayload{RoomID: room.roomID})
}

// OnStatusChange subscribes to connection status changes.
func (c *Client) OnStatusChange(handler func(Status)) func() {
	return c.statusSubs.Add(handler)
}

// OnRoomMembers subscribes to room membership broadcasts.
func (c *Client) OnRoomMembers(handler func(types.RoomUsersPayload)) func() {
	return c.membersSubs.Add(handler)
}

// OnChatMessage subscribes to chat messages.
func (c *Client) OnChatMessage(handler func(*types.ChatMessage)) func() {
	return c.chatSubs.Add(handler)
}

// OnChatHistory subscribes to chat history responses.
func (c *Client) OnChatHistory(handler func(types.ChatHistoryPayload)) func() {
	return c.historySubs.Add(handler)
}

// OnError subscribes to server error events.
func (c *Client) OnError(handler func(types.ErrorPayload)) func() {
	return c.errorSubs.Add(handler)
}

// OnFileEvent subscribes to one file operation event type.
func (c *Client) OnFileEvent(eventType types.EventType, handler func(types.FilePayload)) func() {
	subs, ok := c.fileSubs[eventType]
	if !ok {
		return func() {}
	}
	return subs.Add(handler)
}

func (c *Client) sendEvent(eventType types.EventType, payload interface{}) error {
	event, err := types.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	encoded, err := event.Marshal()
	if err != nil {
		return err
	}

	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return sock.WriteMessage(websocket.TextMessage, encoded)
}

// run owns the connection lifecycle: it reads until the transport
// drops, then reconnects with bounded backoff, rejoining the tracked
// room on success.
func (c *Client) run(sock *websocket.Conn, gen uint64) {
	for {
		c.readAll(sock)

		c.mu.Lock()
		if c.closed || c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.sock = nil
		c.status = StatusReconnecting
		c.mu.Unlock()
		c.statusSubs.Dispatch(StatusReconnecting)

		next, nextGen, ok := c.reconnect(gen)
		if !ok {
			c.mu.Lock()
			superseded := c.closed || c.gen != gen
			if !superseded {
				c.status = StatusDisconnected
			}
			c.mu.Unlock()
			if !superseded {
				c.statusSubs.Dispatch(StatusDisconnected)
			}
			return
		}
		sock, gen = next, nextGen
	}
}

func (c *Client) readAll(sock *websocket.Conn) {
	for {
		_, message, err := sock.ReadMessage()
		if err != nil {
			return
		}
		c.dispatch(message)
	}
}

func (c *Client) reconnect(gen uint64) (*websocket.Conn, uint64, bool) {
	delay := c.options.ReconnectInterval
	for attempt := 1; attempt <= c.options.MaxReconnectAttempts; attempt++ {
		time.Sleep(delay)
		if delay *= 2; delay > c.options.MaxReconnectInterval {
			delay = c.options.MaxReconnectInterval
		}

		c.mu.Lock()
		if c.closed || c.gen != gen {
			c.mu.Unlock()
			return nil, 0, false
		}
		url := c.url
		c.mu.Unlock()

		sock, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			c.logger.Warnf("reconnect attempt %d/%d: %v", attempt, c.options.MaxReconnectAttempts, err)
			continue
		}

		c.mu.Lock()
		if c.closed || c.gen != gen {
			c.mu.Unlock()
			_ = sock.Close()
			return nil, 0, false
		}
		c.sock = sock
		c.status = StatusConnected
		c.gen++
		nextGen := c.gen
		c.mu.Unlock()

		c.statusSubs.Dispatch(StatusConnected)
		c.rejoin()
		return sock, nextGen, true
	}

	return nil, 0, false
}

// rejoin re-issues the tracked room join after connect or reconnect.
func (c *Client) rejoin() {
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	if room == nil {
		return
	}

	if err := c.sendEvent(types.RoomJoinEvent, types.RoomJoinPayload{
		RoomID: room.roomID,
		User:   room.user,
	}); err != nil {
		c.logger.Warnf("rejoin %s: %v", room.roomID, err)
	}
}

// dispatch routes one inbound event to its subscribers. It runs on the
// single read loop, so callbacks fire in the order events arrive and
// never concurrently for the same event type.
func (c *Client) dispatch(message []byte) {
	event := &types.Event{}
	if err := json.Unmarshal(message, event); err != nil {
		c.logger.Warnf("unmarshal event: %v", err)
		return
	}

	switch event.Type {
	case types.RoomUsersEvent:
		payload := types.RoomUsersPayload{}
		if err := event.UnmarshalPayload(&payload); err != nil {
			c.logger.Warnf("%v", err)
			return
		}
		c.membersSubs.Dispatch(payload)
	case types.ChatMessageEvent:
		payload := &types.ChatMessage{}
		if err := event.UnmarshalPayload(payload); err != nil {
			c.logger.Warnf("%v", err)
			return
		}
		c.chatSubs.Dispatch(payload)
	case types.ChatHistoryEvent:
		payload := types.ChatHistoryPayload{}
		if err := event.UnmarshalPayload(&payload); err != nil {
			c.logger.Warnf("%v", err)
			return
		}
		c.historySubs.Dispatch(payload)
	case types.ErrorEvent:
		payload := types.ErrorPayload{}
		if err := event.UnmarshalPayload(&payload); err != nil {
			c.logger.Warnf("%v", err)
			return
		}
		c.errorSubs.Dispatch(payload)
	case types.FileOpenEvent, types.FileEditEvent, types.FileCloseEvent, types.FileSaveEvent:
		payload := types.FilePayload{}
		if err := event.UnmarshalPayload(&payload); err != nil {
			c.logger.Warnf("%v", err)
			return
		}
		c.fileSubs[event.Type].Dispatch(payload)
	default:
		c.logger.Warnf("unknown event type %q", event.Type)
	}
}

func wsURL(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	return "ws://" + addr + "/ws"
}
