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

// Package chat provides the per-room bounded message store. Messages
// live only for the process lifetime; durable history is an external
// collaborator's job.
package chat

import (
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/rs/xid"

	"github.com/coedit-team/coedit/api/types"
)

const (
	// DefaultHistorySize is the number of messages retained per room.
	DefaultHistorySize = 50

	// DefaultMaxTextLength is the hard cap on message text length,
	// counted in runes, enforced at intake.
	DefaultMaxTextLength = 500
)

// ErrTextTooLong is returned when a message exceeds the length cap.
var ErrTextTooLong = errors.New("chat message exceeds maximum length")

// Config is the configuration for the chat store.
type Config struct {
	HistorySize   int `yaml:"HistorySize"`
	MaxTextLength int `yaml:"MaxTextLength"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.HistorySize <= 0 {
		return fmt.Errorf(`invalid argument %d for "--chat-history-size" flag`, c.HistorySize)
	}
	if c.MaxTextLength <= 0 {
		return fmt.Errorf(`invalid argument %d for "--chat-max-text-length" flag`, c.MaxTextLength)
	}
	return nil
}

// ring is a fixed-size buffer keeping the most recent messages.
type ring struct {
	messages []*types.ChatMessage
	next     int
	filled   bool
}

func newRing(size int) *ring {
	return &ring{messages: make([]*types.ChatMessage, size)}
}

func (r *ring) append(message *types.ChatMessage) {
	r.messages[r.next] = message
	r.next = (r.next + 1) % len(r.messages)
	if r.next == 0 {
		r.filled = true
	}
}

// newestFirst returns the stored messages, most recent first.
func (r *ring) newestFirst() []*types.ChatMessage {
	size := r.next
	if r.filled {
		size = len(r.messages)
	}

	out := make([]*types.ChatMessage, 0, size)
	for i := 0; i < size; i++ {
		idx := (r.next - 1 - i + len(r.messages)) % len(r.messages)
		out = append(out, r.messages[idx])
	}
	return out
}

// Store owns the bounded message buffers, keyed identically to rooms.
type Store struct {
	mu      gosync.Mutex
	conf    *Config
	buffers map[string]*ring
}

// NewStore creates a Store with the given configuration.
func NewStore(conf *Config) (*Store, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return &Store{
		conf:    conf,
		buffers: make(map[string]*ring),
	}, nil
}

// MaxTextLength returns the hard cap on message text length.
func (s *Store) MaxTextLength() int {
	return s.conf.MaxTextLength
}

// Append validates, stamps and stores the message, returning the
// stored form with its assigned id and timestamp. A message over the
// length cap is rejected before anything is stored.
func (s *Store) Append(roomID string, payload types.ChatSendPayload) (*types.ChatMessage, error) {
	if len([]rune(payload.Text)) > s.conf.MaxTextLength {
		return nil, fmt.Errorf("%d characters, maximum is %d: %w",
			len([]rune(payload.Text)), s.conf.MaxTextLength, ErrTextTooLong)
	}

	message := &types.ChatMessage{
		ID:         xid.New().String(),
		RoomID:     roomID,
		UserID:     payload.UserID,
		UserName:   payload.UserName,
		UserAvatar: payload.UserAvatar,
		Text:       payload.Text,
		Timestamp:  time.Now().UnixMilli(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buffer, ok := s.buffers[roomID]
	if !ok {
		buffer = newRing(s.conf.HistorySize)
		s.buffers[roomID] = buffer
	}
	buffer.append(message)

	return message, nil
}

// History returns up to HistorySize stored messages for the room,
// newest first. An unknown room yields an empty list.
func (s *Store) History(roomID string) []*types.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	buffer, ok := s.buffers[roomID]
	if !ok {
		return []*types.ChatMessage{}
	}
	return buffer.newestFirst()
}

// Drop discards the room's buffer. The server calls it when the room
// registry expires the room.
func (s *Store) Drop(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, roomID)
}
