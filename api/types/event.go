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

// Package types provides the wire types shared by the collaboration
// server and client. Every websocket message is one JSON Event.
package types

import (
	"encoding/json"
	"fmt"
)

// EventType is the type of an Event.
type EventType string

// The event types of the relay protocol.
const (
	RoomJoinEvent    EventType = "room:join"
	RoomLeaveEvent   EventType = "room:leave"
	RoomUsersEvent   EventType = "room:users"
	FileOpenEvent    EventType = "file:open"
	FileEditEvent    EventType = "file:edit"
	FileCloseEvent   EventType = "file:close"
	FileSaveEvent    EventType = "file:save"
	ChatMessageEvent EventType = "chat:message"
	ChatHistoryEvent EventType = "chat:history"
	ErrorEvent       EventType = "error"
)

// FileEventTypes lists the file operation events the server relays
// verbatim without echoing to the sender.
var FileEventTypes = []EventType{
	FileOpenEvent,
	FileEditEvent,
	FileCloseEvent,
	FileSaveEvent,
}

// Event is the envelope of every message on the wire.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent creates an Event with the given payload marshaled.
func NewEvent(eventType EventType, payload interface{}) (*Event, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	return &Event{Type: eventType, Payload: encoded}, nil
}

// Marshal returns the JSON encoding of the event.
func (e *Event) Marshal() ([]byte, error) {
	encoded, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	return encoded, nil
}

// UnmarshalPayload decodes the payload into the given value.
func (e *Event) UnmarshalPayload(payload interface{}) error {
	if err := json.Unmarshal(e.Payload, payload); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", e.Type, err)
	}
	return nil
}

// RoomJoinPayload is sent by a client to enter a room.
type RoomJoinPayload struct {
	RoomID string `json:"roomId" validate:"required"`
	User   User   `json:"user" validate:"required"`
}

// RoomLeavePayload is sent by a client to leave a room.
type RoomLeavePayload struct {
	RoomID string `json:"roomId" validate:"required"`
}

// RoomUsersPayload is broadcast to a room whenever its membership
// changes. Receiving it is the join acknowledgement: a joiner sees
// itself in the member list.
type RoomUsersPayload struct {
	RoomID  string   `json:"roomId"`
	Members []Member `json:"members"`
}

// FilePayload carries a file operation event. Data is opaque to the
// relay; only the document synchronizer interprets it.
type FilePayload struct {
	RoomID    string          `json:"roomId" validate:"required"`
	FilePath  string          `json:"filePath" validate:"required"`
	UserID    string          `json:"userId"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ChatSendPayload is sent by a client to post a chat message.
type ChatSendPayload struct {
	RoomID     string `json:"roomId" validate:"required"`
	Text       string `json:"text" validate:"required"`
	UserID     string `json:"userId" validate:"required"`
	UserName   string `json:"userName"`
	UserAvatar string `json:"userAvatar,omitempty"`
}

// ChatHistoryRequestPayload asks the server for recent messages of a
// room. The response goes to the requester only.
type ChatHistoryRequestPayload struct {
	RoomID string `json:"roomId" validate:"required"`
}

// ChatHistoryPayload carries up to the most recent stored messages of
// a room, newest first.
type ChatHistoryPayload struct {
	RoomID   string         `json:"roomId"`
	Messages []*ChatMessage `json:"messages"`
}

// ErrorPayload notifies the offending connection, and only it, that an
// operation was dropped.
type ErrorPayload struct {
	Message string `json:"message"`
}
