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

package client

import (
	"encoding/json"
	"fmt"
	gosync "sync"

	"github.com/coedit-team/coedit/api/types"
	"github.com/coedit-team/coedit/pkg/document"
	"github.com/coedit-team/coedit/pkg/document/crdt"
	"github.com/coedit-team/coedit/server/logging"
)

// The kinds of document sync messages carried as the opaque data blob
// of file events. Only synchronizers interpret them; the relay server
// does not.
const (
	syncKindOperation   = "op"
	syncKindSyncRequest = "sync-request"
	syncKindSnapshot    = "snapshot"
)

type syncMessage struct {
	Kind     string              `json:"kind"`
	Op       *document.Operation `json:"op,omitempty"`
	Snapshot *document.Snapshot  `json:"snapshot,omitempty"`
}

// Synchronizer binds one replicated document, identified by the
// tracked room and a file path, to a host editor. Local edits flow
// editor -> CRDT -> relay; remote updates flow relay -> CRDT -> editor
// without re-triggering the outbound path.
type Synchronizer struct {
	client   *Client
	doc      *document.Document
	editor   document.Editor
	filePath string
	logger   logging.Logger

	mu gosync.Mutex

	// mirror tracks the editor's buffer. The CRDT is the source of
	// truth; mirror exists to translate delta offsets into editor
	// line/column positions and to detect binding divergence.
	mirror []rune

	// synced becomes true when the full state arrived from a peer, or
	// on the first local edit when this replica turns out to be the
	// first peer of the document.
	synced  bool
	pending []*document.Operation

	// rerequested limits the parked-op sync re-request to one per
	// unsynced phase.
	rerequested bool

	unsubs []func()
	closed bool
}

// Open creates a Synchronizer for the file and requests a full state
// sync from whichever peer has the document open. With zero remote
// peers the document behaves as a local-only buffer; the CRDT is still
// used so a later-joining peer merges cleanly.
func Open(cli *Client, editor document.Editor, filePath string) (*Synchronizer, error) {
	doc, err := document.New()
	if err != nil {
		return nil, err
	}

	s := &Synchronizer{
		client:   cli,
		doc:      doc,
		editor:   editor,
		filePath: filePath,
		logger:   logging.New("syncer").With("path", filePath),
	}

	s.unsubs = append(s.unsubs,
		cli.OnFileEvent(types.FileOpenEvent, s.handleFileOpen),
		cli.OnFileEvent(types.FileEditEvent, s.handleFileEdit),
	)

	data, err := json.Marshal(syncMessage{Kind: syncKindSyncRequest})
	if err != nil {
		return nil, fmt.Errorf("marshal sync request: %w", err)
	}
	if err := cli.SendFileOpen(filePath, data); err != nil {
		return nil, err
	}

	return s, nil
}

// Document returns the underlying document replica.
func (s *Synchronizer) Document() *document.Document {
	return s.doc
}

// Content returns the current document text.
func (s *Synchronizer) Content() string {
	return s.doc.Content()
}

// HandleLocalEdit is called by the host whenever the editor reports a
// local change: the rune range [from, to) was replaced with text. The
// change is applied to the CRDT in one transaction and its operation
// is relayed to the other peers.
func (s *Synchronizer) HandleLocalEdit(from, to int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	// A local edit before any snapshot arrived means this replica is
	// the document's first peer.
	s.synced = true

	op, err := s.doc.Edit(from, to, text)
	if err != nil {
		return err
	}
	s.mirror = spliceRunes(s.mirror, from, to, text)

	data, err := json.Marshal(syncMessage{Kind: syncKindOperation, Op: op})
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}
	return s.client.SendFileEdit(s.filePath, data)
}

// Save relays a save event for the file.
func (s *Synchronizer) Save() error {
	return s.client.SendFileSave(s.filePath, nil)
}

// Close tears the binding down: it cancels the inbound subscriptions
// so no callback leaks after the editor closes, and announces the
// close to the other peers. Outbound edits are applied synchronously
// in HandleLocalEdit, so there is nothing left to flush beyond taking
// the lock, which waits out an in-flight edit.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	return s.client.SendFileClose(s.filePath, nil)
}

// handleFileOpen serves full-state sync requests from late joiners.
// Serving the sync is the synchronizer's job, not the relay server's.
func (s *Synchronizer) handleFileOpen(payload types.FilePayload) {
	if payload.FilePath != s.filePath {
		return
	}

	msg, ok := s.decode(payload)
	if !ok || msg.Kind != syncKindSyncRequest {
		return
	}

	s.mu.Lock()
	serve := s.synced && !s.closed
	s.mu.Unlock()
	if !serve {
		return
	}

	data, err := json.Marshal(syncMessage{Kind: syncKindSnapshot, Snapshot: s.doc.Snapshot()})
	if err != nil {
		s.logger.Errorf("marshal snapshot: %v", err)
		return
	}
	if err := s.client.SendFileEdit(s.filePath, data); err != nil {
		s.logger.Warnf("serve sync: %v", err)
	}
}

// handleFileEdit applies remote updates. Duplicate delivery is a safe
// no-op at the CRDT layer; delivery order does not matter for
// convergence.
func (s *Synchronizer) handleFileEdit(payload types.FilePayload) {
	if payload.FilePath != s.filePath {
		return
	}

	msg, ok := s.decode(payload)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	switch msg.Kind {
	case syncKindOperation:
		if msg.Op == nil {
			return
		}
		if !s.synced {
			// Updates racing ahead of the snapshot are parked and
			// replayed after it; the CRDT skips any the snapshot
			// already contains. The update also proves a peer holds
			// the full state now, even if none did when the initial
			// sync request went out, so ask once more.
			s.pending = append(s.pending, msg.Op)
			if !s.rerequested {
				s.rerequested = true
				s.requestSync()
			}
			return
		}
		s.applyRemote(msg.Op)
	case syncKindSnapshot:
		if msg.Snapshot == nil || s.synced {
			return
		}
		s.doc.ApplySnapshot(msg.Snapshot)
		for _, op := range s.pending {
			if _, err := s.doc.ApplyOperation(op); err != nil {
				s.logger.Errorf("replay parked operation: %v", err)
			}
		}
		s.pending = nil
		s.synced = true
		s.rerequested = false
		s.resetEditor()
	}
}

func (s *Synchronizer) applyRemote(op *document.Operation) {
	delta, err := s.doc.ApplyOperation(op)
	if err != nil {
		s.logger.Errorf("apply remote operation: %v", err)
		s.resync()
		return
	}
	s.replay(delta)

	// Any divergence between mirror and CRDT is a binding bug, and
	// the binding is treated as fatal: reset and sync from scratch
	// rather than silently drifting.
	if string(s.mirror) != s.doc.Content() {
		s.logger.Errorf("editor mirror diverged from document")
		s.resync()
	}
}

// replay walks the delta, translating the running rune offset into the
// editor's line/column addressing and applying each step as an editor
// edit. The editor does not report these edits back (Editor contract),
// so a remote replay never echoes into the outbound path.
func (s *Synchronizer) replay(delta crdt.Delta) {
	index := 0
	for _, op := range delta {
		switch op.Type {
		case crdt.DeltaRetain:
			index += op.Length
		case crdt.DeltaInsert:
			pos := document.PositionAt(string(s.mirror), index)
			s.editor.Replace(pos, pos, op.Value)
			s.mirror = spliceRunes(s.mirror, index, index, op.Value)
			index += op.Length
		case crdt.DeltaDelete:
			from := document.PositionAt(string(s.mirror), index)
			to := document.PositionAt(string(s.mirror), index+op.Length)
			s.editor.Replace(from, to, "")
			s.mirror = spliceRunes(s.mirror, index, index+op.Length, "")
		}
	}
}

// resetEditor replaces the whole editor buffer with the document text.
func (s *Synchronizer) resetEditor() {
	content := s.doc.Content()
	end := document.PositionAt(string(s.mirror), len(s.mirror))
	s.editor.Replace(document.Position{}, end, content)
	s.mirror = []rune(content)
}

// resync drops the local replica state and asks the peers for a fresh
// snapshot.
func (s *Synchronizer) resync() {
	doc, err := document.New()
	if err != nil {
		s.logger.Errorf("resync: %v", err)
		return
	}
	s.doc = doc
	s.synced = false
	s.pending = nil
	s.rerequested = false
	s.requestSync()
}

// requestSync asks the peers for a fresh full-state snapshot.
func (s *Synchronizer) requestSync() {
	data, err := json.Marshal(syncMessage{Kind: syncKindSyncRequest})
	if err != nil {
		s.logger.Errorf("marshal sync request: %v", err)
		return
	}
	if err := s.client.SendFileOpen(s.filePath, data); err != nil {
		s.logger.Warnf("request sync: %v", err)
	}
}

func (s *Synchronizer) decode(payload types.FilePayload) (syncMessage, bool) {
	msg := syncMessage{}
	if len(payload.Data) == 0 {
		return msg, false
	}
	if err := json.Unmarshal(payload.Data, &msg); err != nil {
		s.logger.Warnf("unmarshal sync message: %v", err)
		return msg, false
	}
	return msg, true
}

func spliceRunes(content []rune, from, to int, text string) []rune {
	out := make([]rune, 0, len(content)-(to-from)+len([]rune(text)))
	out = append(out, content[:from]...)
	out = append(out, []rune(text)...)
	out = append(out, content[to:]...)
	return out
}
