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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/coedit-team/coedit/api/types"
	"github.com/coedit-team/coedit/server/chat"
)

var payloadValidator = validator.New()

// dispatch routes one inbound message. A malformed payload is dropped
// with a best-effort error event back to the offending connection; it
// never reaches another room member and never crashes the server.
func (s *Server) dispatch(conn *connection, message []byte) {
	event := &types.Event{}
	if err := json.Unmarshal(message, event); err != nil {
		s.protocolError(conn, fmt.Errorf("unmarshal event: %w", err))
		return
	}

	switch event.Type {
	case types.RoomJoinEvent:
		s.handleRoomJoin(conn, event)
	case types.RoomLeaveEvent:
		s.handleRoomLeave(conn, event)
	case types.FileOpenEvent, types.FileEditEvent, types.FileCloseEvent, types.FileSaveEvent:
		s.handleFileEvent(conn, event)
	case types.ChatMessageEvent:
		s.handleChatMessage(conn, event)
	case types.ChatHistoryEvent:
		s.handleChatHistory(conn, event)
	default:
		s.protocolError(conn, fmt.Errorf("unknown event type %q", event.Type))
	}
}

func (s *Server) handleRoomJoin(conn *connection, event *types.Event) {
	payload := types.RoomJoinPayload{}
	if err := s.decode(event, &payload); err != nil {
		s.protocolError(conn, err)
		return
	}

	s.registry.AddMember(payload.RoomID, types.Member{
		ConnectionID: conn.id,
		User:         payload.User,
	})
	s.metrics.SetRooms(s.registry.Len())

	// The joiner confirms the join by seeing itself in this broadcast.
	s.broadcastMembers(payload.RoomID)
}

func (s *Server) handleRoomLeave(conn *connection, event *types.Event) {
	payload := types.RoomLeavePayload{}
	if err := s.decode(event, &payload); err != nil {
		s.protocolError(conn, err)
		return
	}

	s.registry.RemoveMember(payload.RoomID, conn.id)

	// The leaver does not need self-removal confirmation.
	s.broadcastMembers(payload.RoomID)
}

// handleFileEvent relays a file operation verbatim to every other
// member of the room. The data blob is opaque to the relay.
func (s *Server) handleFileEvent(conn *connection, event *types.Event) {
	payload := types.FilePayload{}
	if err := s.decode(event, &payload); err != nil {
		s.protocolError(conn, err)
		return
	}

	s.registry.Touch(payload.RoomID)
	s.relayToRoom(payload.RoomID, event, conn.id)
}

func (s *Server) handleChatMessage(conn *connection, event *types.Event) {
	payload := types.ChatSendPayload{}
	if err := s.decode(event, &payload); err != nil {
		s.protocolError(conn, err)
		return
	}

	message, err := s.chatStore.Append(payload.RoomID, payload)
	if err != nil {
		if errors.Is(err, chat.ErrTextTooLong) {
			s.metrics.AddChatRejected()
			s.sendError(conn, err.Error())
			return
		}
		s.protocolError(conn, err)
		return
	}
	s.metrics.AddChatMessages()
	s.registry.Touch(payload.RoomID)

	// The sender is included: it needs the assigned id and timestamp.
	broadcast, err := types.NewEvent(types.ChatMessageEvent, message)
	if err != nil {
		s.logger.Errorf("chat broadcast: %v", err)
		return
	}
	s.relayToRoom(payload.RoomID, broadcast, "")
}

// handleChatHistory answers the requesting connection only.
func (s *Server) handleChatHistory(conn *connection, event *types.Event) {
	payload := types.ChatHistoryRequestPayload{}
	if err := s.decode(event, &payload); err != nil {
		s.protocolError(conn, err)
		return
	}

	response, err := types.NewEvent(types.ChatHistoryEvent, types.ChatHistoryPayload{
		RoomID:   payload.RoomID,
		Messages: s.chatStore.History(payload.RoomID),
	})
	if err != nil {
		s.logger.Errorf("chat history: %v", err)
		return
	}
	s.sendEvent(conn, response)
}

// broadcastMembers sends the room's fresh member list to every
// connection currently in it.
func (s *Server) broadcastMembers(roomID string) {
	event, err := types.NewEvent(types.RoomUsersEvent, types.RoomUsersPayload{
		RoomID:  roomID,
		Members: s.registry.Members(roomID),
	})
	if err != nil {
		s.logger.Errorf("members broadcast: %v", err)
		return
	}
	s.relayToRoom(roomID, event, "")
}

// relayToRoom fans the event out to the room's members, skipping
// exclude. Sends are independent: a slow or dead peer is dropped and
// never stalls delivery to the others.
func (s *Server) relayToRoom(roomID string, event *types.Event, exclude string) {
	encoded, err := event.Marshal()
	if err != nil {
		s.logger.Errorf("relay: %v", err)
		return
	}

	relayed := 0
	for _, member := range s.registry.Members(roomID) {
		if member.ConnectionID == exclude {
			continue
		}
		conn := s.lookup(member.ConnectionID)
		if conn == nil {
			continue
		}
		if !conn.trySend(encoded) {
			s.logger.Warnf("connection %s stalled, dropping", conn.id)
			go s.unregister(conn)
			continue
		}
		relayed++
	}
	s.metrics.AddRelayedEvents(string(event.Type), relayed)
}

func (s *Server) sendEvent(conn *connection, event *types.Event) {
	encoded, err := event.Marshal()
	if err != nil {
		s.logger.Errorf("send: %v", err)
		return
	}
	if !conn.trySend(encoded) {
		go s.unregister(conn)
	}
}

func (s *Server) sendError(conn *connection, message string) {
	event, err := types.NewEvent(types.ErrorEvent, types.ErrorPayload{Message: message})
	if err != nil {
		s.logger.Errorf("error event: %v", err)
		return
	}
	s.sendEvent(conn, event)
}

func (s *Server) protocolError(conn *connection, err error) {
	s.metrics.AddProtocolErrors()
	s.logger.Warnf("connection %s: %v", conn.id, err)
	s.sendError(conn, err.Error())
}

func (s *Server) decode(event *types.Event, payload interface{}) error {
	if err := event.UnmarshalPayload(payload); err != nil {
		return err
	}
	if err := payloadValidator.Struct(payload); err != nil {
		return fmt.Errorf("validate %s payload: %w", event.Type, err)
	}
	return nil
}
