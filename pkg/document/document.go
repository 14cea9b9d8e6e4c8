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

// Package document provides the replicated document that a peer edits
// locally and synchronizes with other peers through relayed updates.
package document

import (
	"encoding/json"
	"fmt"
	gosync "sync"

	"github.com/coedit-team/coedit/pkg/document/crdt"
	"github.com/coedit-team/coedit/pkg/document/time"
)

// Origin tells whether an edit came from the local editor or from a
// remote peer. It is passed explicitly through the binding so a remote
// replay is never mistaken for fresh local input.
type Origin int

// The two origins of an edit.
const (
	Local Origin = iota
	Remote
)

// Document is one replica of a text document. All mutations are
// serialized by an internal lock, so local edits and remote replays
// never interleave mid-operation.
type Document struct {
	mu      gosync.Mutex
	text    *crdt.Text
	actorID *time.ActorID
	lamport int64
}

// New creates a Document replica with a fresh actor ID.
func New() (*Document, error) {
	actorID, err := time.NewActorID()
	if err != nil {
		return nil, err
	}

	return &Document{
		text:    crdt.NewText(),
		actorID: actorID,
	}, nil
}

// ActorID returns the actor ID of this replica.
func (d *Document) ActorID() *time.ActorID {
	return d.actorID
}

// Content returns the current visible text.
func (d *Document) Content() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text.String()
}

// Len returns the visible length of the text in runes.
func (d *Document) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text.Len()
}

// Edit applies a local edit replacing the visible rune range [from, to)
// with content, and returns the operation to relay to other peers.
func (d *Document) Edit(from, to int, content string) (*Operation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if from > to {
		return nil, fmt.Errorf("edit range [%d, %d): %w", from, to, crdt.ErrIndexOutOfRange)
	}

	fromPos, toPos, err := d.text.CreateRange(from, to)
	if err != nil {
		return nil, err
	}

	d.lamport++
	executedAt := time.NewTicket(d.lamport, 0, d.actorID)

	// nil here means the local editor has seen every block in range.
	maxCreatedAtMapByActor, _, err := d.text.Edit(fromPos, toPos, content, executedAt, nil)
	if err != nil {
		return nil, err
	}

	return &Operation{
		From:                   fromPos,
		To:                     toPos,
		Content:                content,
		ExecutedAt:             executedAt,
		MaxCreatedAtMapByActor: maxCreatedAtMapByActor,
	}, nil
}

// ApplyOperation applies an operation relayed from a remote peer and
// returns the delta to replay into a mirrored editor buffer. Applying
// the same operation twice is a no-op with an empty delta.
func (d *Document) ApplyOperation(op *Operation) (crdt.Delta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if lamport := op.ExecutedAt.Lamport(); lamport > d.lamport {
		d.lamport = lamport
	}

	if op.Content != "" && d.text.HasApplied(op.ExecutedAt) {
		return nil, nil
	}

	_, delta, err := d.text.Edit(op.From, op.To, op.Content, op.ExecutedAt, op.MaxCreatedAtMapByActor)
	if err != nil {
		return nil, err
	}

	return delta, nil
}

// Snapshot returns the full replica state for late-joining peers.
func (d *Document) Snapshot() *Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	return &Snapshot{
		Lamport: d.lamport,
		Nodes:   d.text.Snapshot(),
	}
}

// ApplySnapshot replaces the replica state with the given snapshot and
// returns the delta from the previous visible text to the new one.
func (d *Document) ApplySnapshot(snapshot *Snapshot) crdt.Delta {
	d.mu.Lock()
	defer d.mu.Unlock()

	previous := d.text.String()
	d.text = crdt.TextFromSnapshot(snapshot.Nodes)
	if snapshot.Lamport > d.lamport {
		d.lamport = snapshot.Lamport
	}

	var delta crdt.Delta
	delta = delta.Delete(len([]rune(previous)))
	delta = delta.Insert(d.text.String())
	return delta.Compact()
}

// Snapshot is the wire form of a full replica state.
type Snapshot struct {
	Lamport int64               `json:"lamport"`
	Nodes   []crdt.NodeSnapshot `json:"nodes"`
}

// Operation is the wire form of one edit, relayed verbatim between
// peers as the opaque payload of a file edit event.
type Operation struct {
	From                   *crdt.Pos
	To                     *crdt.Pos
	Content                string
	ExecutedAt             *time.Ticket
	MaxCreatedAtMapByActor map[string]*time.Ticket
}

type posJSON struct {
	CreatedAt *time.Ticket `json:"t"`
	Offset    int          `json:"o"`
	Relative  int          `json:"r"`
}

type operationJSON struct {
	From                   posJSON                 `json:"from"`
	To                     posJSON                 `json:"to"`
	Content                string                  `json:"content,omitempty"`
	ExecutedAt             *time.Ticket            `json:"at"`
	MaxCreatedAtMapByActor map[string]*time.Ticket `json:"maxCreatedAt,omitempty"`
}

func toPosJSON(pos *crdt.Pos) posJSON {
	return posJSON{
		CreatedAt: pos.ID().CreatedAt(),
		Offset:    pos.ID().Offset(),
		Relative:  pos.RelativeOffset(),
	}
}

func fromPosJSON(wire posJSON) *crdt.Pos {
	return crdt.NewPos(crdt.NewNodeID(wire.CreatedAt, wire.Offset), wire.Relative)
}

// MarshalJSON implements json.Marshaler.
func (op *Operation) MarshalJSON() ([]byte, error) {
	encoded, err := json.Marshal(operationJSON{
		From:                   toPosJSON(op.From),
		To:                     toPosJSON(op.To),
		Content:                op.Content,
		ExecutedAt:             op.ExecutedAt,
		MaxCreatedAtMapByActor: op.MaxCreatedAtMapByActor,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal operation: %w", err)
	}
	return encoded, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (op *Operation) UnmarshalJSON(data []byte) error {
	wire := operationJSON{}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("unmarshal operation: %w", err)
	}

	op.From = fromPosJSON(wire.From)
	op.To = fromPosJSON(wire.To)
	op.Content = wire.Content
	op.ExecutedAt = wire.ExecutedAt
	op.MaxCreatedAtMapByActor = wire.MaxCreatedAtMapByActor
	return nil
}
