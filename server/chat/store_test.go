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

package chat_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coedit-team/coedit/api/types"
	"github.com/coedit-team/coedit/server/chat"
)

func newStore(t *testing.T, conf *chat.Config) *chat.Store {
	t.Helper()
	store, err := chat.NewStore(conf)
	require.NoError(t, err)
	return store
}

func send(userID, text string) types.ChatSendPayload {
	return types.ChatSendPayload{
		RoomID:   "room-a",
		UserID:   userID,
		UserName: userID,
		Text:     text,
	}
}

func TestStore(t *testing.T) {
	conf := &chat.Config{
		HistorySize:   chat.DefaultHistorySize,
		MaxTextLength: chat.DefaultMaxTextLength,
	}

	t.Run("append and history test", func(t *testing.T) {
		store := newStore(t, conf)

		first, err := store.Append("room-a", send("alice", "hello"))
		require.NoError(t, err)
		assert.NotEmpty(t, first.ID)
		assert.NotZero(t, first.Timestamp)

		second, err := store.Append("room-a", send("bob", "hi"))
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)

		history := store.History("room-a")
		require.Len(t, history, 2)
		assert.Equal(t, "hi", history[0].Text)
		assert.Equal(t, "hello", history[1].Text)
	})

	t.Run("unknown room test", func(t *testing.T) {
		store := newStore(t, conf)
		assert.Len(t, store.History("nowhere"), 0)
	})

	t.Run("length cap test", func(t *testing.T) {
		store := newStore(t, conf)

		accepted := strings.Repeat("a", chat.DefaultMaxTextLength)
		_, err := store.Append("room-a", send("alice", accepted))
		assert.NoError(t, err)

		rejected := strings.Repeat("a", chat.DefaultMaxTextLength+1)
		_, err = store.Append("room-a", send("alice", rejected))
		assert.ErrorIs(t, err, chat.ErrTextTooLong)

		// The rejected message was never stored.
		history := store.History("room-a")
		require.Len(t, history, 1)
		assert.Equal(t, accepted, history[0].Text)
	})

	t.Run("length cap counts runes test", func(t *testing.T) {
		store := newStore(t, &chat.Config{HistorySize: 10, MaxTextLength: 5})

		_, err := store.Append("room-a", send("alice", "안녕하세요"))
		assert.NoError(t, err)

		_, err = store.Append("room-a", send("alice", "안녕하세요!"))
		assert.ErrorIs(t, err, chat.ErrTextTooLong)
	})

	t.Run("history bound test", func(t *testing.T) {
		store := newStore(t, conf)

		for i := 0; i < 75; i++ {
			_, err := store.Append("room-a", send("alice", fmt.Sprintf("message %d", i)))
			require.NoError(t, err)
		}

		history := store.History("room-a")
		require.Len(t, history, chat.DefaultHistorySize)
		assert.Equal(t, "message 74", history[0].Text)
		assert.Equal(t, "message 25", history[len(history)-1].Text)
	})

	t.Run("room isolation test", func(t *testing.T) {
		store := newStore(t, conf)

		_, err := store.Append("room-a", send("alice", "for a"))
		require.NoError(t, err)
		_, err = store.Append("room-b", send("bob", "for b"))
		require.NoError(t, err)

		require.Len(t, store.History("room-a"), 1)
		assert.Equal(t, "for a", store.History("room-a")[0].Text)
		require.Len(t, store.History("room-b"), 1)
		assert.Equal(t, "for b", store.History("room-b")[0].Text)
	})

	t.Run("drop test", func(t *testing.T) {
		store := newStore(t, conf)

		_, err := store.Append("room-a", send("alice", "hello"))
		require.NoError(t, err)
		store.Drop("room-a")
		assert.Len(t, store.History("room-a"), 0)
	})

	t.Run("config validation test", func(t *testing.T) {
		_, err := chat.NewStore(&chat.Config{HistorySize: 0, MaxTextLength: 500})
		assert.Error(t, err)
		_, err = chat.NewStore(&chat.Config{HistorySize: 50, MaxTextLength: -1})
		assert.Error(t, err)
	})
}
