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

package client_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coedit-team/coedit/api/types"
	"github.com/coedit-team/coedit/client"
	"github.com/coedit-team/coedit/pkg/document"
)

// fakeEditor is an in-memory editor buffer. Replace applies edits
// coming from the synchronizer; localEdit models the user typing.
type fakeEditor struct {
	mu       sync.Mutex
	content  []rune
	replaces int
}

func (e *fakeEditor) Replace(from, to document.Position, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fromOffset := e.offsetLocked(from)
	toOffset := e.offsetLocked(to)

	out := make([]rune, 0, len(e.content))
	out = append(out, e.content[:fromOffset]...)
	out = append(out, []rune(text)...)
	out = append(out, e.content[toOffset:]...)
	e.content = out
	e.replaces++
}

// localEdit applies a user edit to the buffer only; reporting it to the
// synchronizer is the caller's job, as it is for a real editor.
func (e *fakeEditor) localEdit(from, to int, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]rune, 0, len(e.content))
	out = append(out, e.content[:from]...)
	out = append(out, []rune(text)...)
	out = append(out, e.content[to:]...)
	e.content = out
}

func (e *fakeEditor) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return string(e.content)
}

func (e *fakeEditor) Replaces() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replaces
}

func (e *fakeEditor) offsetLocked(pos document.Position) int {
	line, column := 0, 0
	for i, r := range e.content {
		if line == pos.Line && column == pos.Column {
			return i
		}
		if r == '\n' {
			line++
			column = 0
		} else {
			column++
		}
	}
	return len(e.content)
}

// typeText models the user replacing the rune range [from, to) with
// text: the editor buffer changes first, then the change is reported.
func typeText(t *testing.T, syncer *client.Synchronizer, editor *fakeEditor, from, to int, text string) {
	t.Helper()
	editor.localEdit(from, to, text)
	require.NoError(t, syncer.HandleLocalEdit(from, to, text))
}

func waitText(t *testing.T, editor *fakeEditor, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if editor.String() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("editor content %q, want %q", editor.String(), want)
}

func waitConverged(t *testing.T, editors ...*fakeEditor) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		converged := true
		for _, editor := range editors[1:] {
			if editor.String() != editors[0].String() {
				converged = false
			}
		}
		if converged {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("editors did not converge: %q vs %q", editors[0].String(), editors[1].String())
}

func openSyncer(t *testing.T, addr, userID, filePath string) (*client.Synchronizer, *fakeEditor) {
	t.Helper()

	cli := newConnectedClient(t, addr)
	require.NoError(t, cli.JoinRoom("room-a", types.User{ID: userID, Name: userID}))

	editor := &fakeEditor{}
	syncer, err := client.Open(cli, editor, filePath)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, syncer.Close())
	})
	return syncer, editor
}

func TestSynchronizer(t *testing.T) {
	t.Run("edit propagation test", func(t *testing.T) {
		_, addr := newTestServer(t)

		syncer1, editor1 := openSyncer(t, addr, "alice", "main.go")
		_, editor2 := openSyncer(t, addr, "bob", "main.go")

		typeText(t, syncer1, editor1, 0, 0, "Hello")
		waitText(t, editor2, "Hello")

		typeText(t, syncer1, editor1, 5, 5, " World")
		waitText(t, editor2, "Hello World")
		assert.Equal(t, "Hello World", syncer1.Content())

		// The originator never replays its own edits.
		assert.Equal(t, 0, editor1.Replaces())
	})

	t.Run("late joiner snapshot test", func(t *testing.T) {
		_, addr := newTestServer(t)

		syncer1, editor1 := openSyncer(t, addr, "alice", "main.go")
		typeText(t, syncer1, editor1, 0, 0, "package main\n\nfunc main() {}\n")

		_, editor2 := openSyncer(t, addr, "bob", "main.go")
		waitText(t, editor2, "package main\n\nfunc main() {}\n")
	})

	t.Run("bidirectional editing test", func(t *testing.T) {
		_, addr := newTestServer(t)

		syncer1, editor1 := openSyncer(t, addr, "alice", "main.go")
		syncer2, editor2 := openSyncer(t, addr, "bob", "main.go")

		typeText(t, syncer1, editor1, 0, 0, "ab")
		waitText(t, editor2, "ab")

		typeText(t, syncer2, editor2, 2, 2, "cd")
		waitText(t, editor1, "abcd")

		typeText(t, syncer1, editor1, 1, 3, "")
		waitText(t, editor2, "ad")
		assert.Equal(t, "ad", editor1.String())
	})

	t.Run("multiline position translation test", func(t *testing.T) {
		_, addr := newTestServer(t)

		syncer1, editor1 := openSyncer(t, addr, "alice", "main.go")
		_, editor2 := openSyncer(t, addr, "bob", "main.go")

		typeText(t, syncer1, editor1, 0, 0, "first\nsecond\nthird")
		waitText(t, editor2, "first\nsecond\nthird")

		// Replace "second" across a line boundary context.
		typeText(t, syncer1, editor1, 6, 12, "2nd")
		waitText(t, editor2, "first\n2nd\nthird")
	})

	t.Run("concurrent typing convergence test", func(t *testing.T) {
		_, addr := newTestServer(t)

		syncer1, editor1 := openSyncer(t, addr, "alice", "main.go")
		syncer2, editor2 := openSyncer(t, addr, "bob", "main.go")

		typeText(t, syncer1, editor1, 0, 0, "The fox jumps")
		waitText(t, editor2, "The fox jumps")

		// Both sides type at once at different places.
		typeText(t, syncer1, editor1, 4, 4, "quick ")
		typeText(t, syncer2, editor2, 13, 13, " high")

		waitConverged(t, editor1, editor2)
		assert.Equal(t, editor1.String(), syncer1.Content())
		assert.Equal(t, editor2.String(), syncer2.Content())
		assert.Contains(t, editor1.String(), "quick")
		assert.Contains(t, editor1.String(), "high")
	})

	t.Run("file isolation test", func(t *testing.T) {
		_, addr := newTestServer(t)

		syncer1, editor1 := openSyncer(t, addr, "alice", "main.go")
		_, editor2 := openSyncer(t, addr, "bob", "main.go")
		_, other := openSyncer(t, addr, "carol", "other.go")

		typeText(t, syncer1, editor1, 0, 0, "Hello")
		waitText(t, editor2, "Hello")

		// A synchronizer bound to another path never sees the edits.
		assert.Equal(t, "", other.String())
	})

	t.Run("closed synchronizer ignores edits test", func(t *testing.T) {
		_, addr := newTestServer(t)

		syncer1, editor1 := openSyncer(t, addr, "alice", "main.go")
		syncer2, editor2 := openSyncer(t, addr, "bob", "main.go")

		typeText(t, syncer1, editor1, 0, 0, "Hello")
		waitText(t, editor2, "Hello")

		require.NoError(t, syncer2.Close())
		typeText(t, syncer1, editor1, 5, 5, "!")

		time.Sleep(300 * time.Millisecond)
		assert.Equal(t, "Hello", editor2.String())

		// Closing twice is fine, and local edits after close are no-ops.
		require.NoError(t, syncer2.Close())
		require.NoError(t, syncer2.HandleLocalEdit(0, 0, "x"))
	})
}
