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

// Package crdt provides the replicated text type that reconciles
// concurrent edits of the same document without a central sequencer.
package crdt

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/coedit-team/coedit/pkg/document/time"
)

var (
	// ErrIndexOutOfRange is returned when the given index exceeds the
	// length of the visible text.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrNodeNotFound is returned when a position references a block
	// this replica has never seen. It indicates a binding-layer bug or
	// an update applied before the snapshot it depends on.
	ErrNodeNotFound = errors.New("node not found")
)

// NodeID identifies a block of inserted text by the ticket of the edit
// that created it plus the rune offset within that edit's content.
// Splitting a block never mints a new ticket, only a new offset.
type NodeID struct {
	createdAt *time.Ticket
	offset    int
}

// NewNodeID creates a new instance of NodeID.
func NewNodeID(createdAt *time.Ticket, offset int) *NodeID {
	return &NodeID{
		createdAt: createdAt,
		offset:    offset,
	}
}

// CreatedAt returns the creation time of this ID.
func (id *NodeID) CreatedAt() *time.Ticket {
	return id.createdAt
}

// Offset returns the offset of this ID.
func (id *NodeID) Offset() int {
	return id.offset
}

// Split creates a new ID with an offset from this ID.
func (id *NodeID) Split(offset int) *NodeID {
	return NewNodeID(id.createdAt, id.offset+offset)
}

func (id *NodeID) hasSameCreatedAt(other *NodeID) bool {
	return id.createdAt.Compare(other.createdAt) == 0
}

// Pos is the position of a caret inside a block. It addresses text by
// block identity, not by document offset, so it stays valid under
// concurrent edits elsewhere in the document.
type Pos struct {
	id             *NodeID
	relativeOffset int
}

// NewPos creates a new instance of Pos.
func NewPos(id *NodeID, relativeOffset int) *Pos {
	return &Pos{id, relativeOffset}
}

// ID returns the ID of this Pos.
func (pos *Pos) ID() *NodeID {
	return pos.id
}

// RelativeOffset returns the relative offset of this Pos.
func (pos *Pos) RelativeOffset() int {
	return pos.relativeOffset
}

func (pos *Pos) absoluteID() *NodeID {
	return NewNodeID(pos.id.createdAt, pos.id.offset+pos.relativeOffset)
}

// Node is a block of the text. A deleted block stays in the list as a
// tombstone so that positions referencing it keep resolving.
type Node struct {
	id        *NodeID
	value     []rune
	removedAt *time.Ticket

	prev    *Node
	next    *Node
	insPrev *Node
	insNext *Node
}

// NewNode creates a new instance of Node.
func NewNode(id *NodeID, value string) *Node {
	return &Node{
		id:    id,
		value: []rune(value),
	}
}

// ID returns the ID of this Node.
func (n *Node) ID() *NodeID {
	return n.id
}

// String returns the visible content of this Node.
func (n *Node) String() string {
	return string(n.value)
}

// RemovedAt returns the deletion time of this Node, or nil if alive.
func (n *Node) RemovedAt() *time.Ticket {
	return n.removedAt
}

func (n *Node) contentLen() int {
	return len(n.value)
}

// Len returns the visible length of this Node in runes.
func (n *Node) Len() int {
	if n.removedAt != nil {
		return 0
	}
	return n.contentLen()
}

func (n *Node) createdAt() *time.Ticket {
	return n.id.createdAt
}

func (n *Node) setPrev(node *Node) {
	n.prev = node
	node.next = n
}

func (n *Node) setInsPrev(node *Node) {
	n.insPrev = node
	node.insNext = n
}

func (n *Node) split(offset int) *Node {
	split := NewNode(n.id.Split(offset), string(n.value[offset:]))
	split.removedAt = n.removedAt
	n.value = n.value[:offset]
	return split
}

// remove tombstones this node. The node is only removed when the
// deleter had already seen it (latestCreatedAt), which keeps a
// concurrent insert from being deleted by a range deletion that never
// observed it.
func (n *Node) remove(removedAt, latestCreatedAt *time.Ticket) bool {
	if !n.createdAt().After(latestCreatedAt) &&
		(n.removedAt == nil || removedAt.After(n.removedAt)) {
		n.removedAt = removedAt
		return true
	}
	return false
}

// Text is a block-based replicated text. Blocks form a doubly linked
// list ordered so that all replicas applying the same set of edits,
// in any order, converge to the same visible string. An index from
// ticket key to the blocks minted by that ticket supports position
// resolution after blocks have been split.
type Text struct {
	head           *Node
	nodesByCreated map[string][]*Node
}

// NewText creates a new instance of Text.
func NewText() *Text {
	head := NewNode(NewNodeID(time.InitialTicket, 0), "")
	text := &Text{
		head:           head,
		nodesByCreated: make(map[string][]*Node),
	}
	text.register(head)
	return text
}

// String returns the visible content of the text.
func (t *Text) String() string {
	builder := strings.Builder{}
	for n := t.head.next; n != nil; n = n.next {
		if n.removedAt == nil {
			builder.WriteString(n.String())
		}
	}
	return builder.String()
}

// Len returns the visible length of the text in runes.
func (t *Text) Len() int {
	length := 0
	for n := t.head.next; n != nil; n = n.next {
		length += n.Len()
	}
	return length
}

// HasApplied reports whether an edit stamped with the given ticket has
// already been applied. Duplicate delivery of the same update is a
// safe no-op because of this check.
func (t *Text) HasApplied(editedAt *time.Ticket) bool {
	return len(t.nodesByCreated[editedAt.Key()]) > 0
}

// CreateRange returns positions addressing the given visible rune
// range. The positions survive concurrent edits because they address
// blocks, not offsets.
func (t *Text) CreateRange(from, to int) (*Pos, *Pos, error) {
	fromPos, err := t.findPos(from)
	if err != nil {
		return nil, nil, err
	}
	if from == to {
		return fromPos, fromPos, nil
	}

	toPos, err := t.findPos(to)
	if err != nil {
		return nil, nil, err
	}
	return fromPos, toPos, nil
}

func (t *Text) findPos(index int) (*Pos, error) {
	if index == 0 {
		return NewPos(t.head.id, 0), nil
	}

	remaining := index
	for n := t.head.next; n != nil; n = n.next {
		length := n.Len()
		if length == 0 {
			continue
		}
		if remaining <= length {
			return NewPos(n.id, remaining), nil
		}
		remaining -= length
	}

	return nil, fmt.Errorf("index %d: %w", index, ErrIndexOutOfRange)
}

// Edit replaces the range between from and to with the given content
// at editedAt. maxCreatedAtMapByActor carries, per actor, the newest
// block the editor had seen when it produced the edit; nil means the
// edit is local and has seen everything. It returns the map of blocks
// actually removed per actor and the delta to replay into a mirrored
// editor buffer.
func (t *Text) Edit(
	from, to *Pos,
	content string,
	editedAt *time.Ticket,
	maxCreatedAtMapByActor map[string]*time.Ticket,
) (map[string]*time.Ticket, Delta, error) {
	_, toRight, err := t.findWithSplit(to, editedAt)
	if err != nil {
		return nil, nil, err
	}
	fromLeft, fromRight, err := t.findWithSplit(from, editedAt)
	if err != nil {
		return nil, nil, err
	}

	editStart := t.visibleIndexBefore(fromRight)

	var delta Delta
	delta = delta.Retain(editStart)
	if content != "" {
		delta = delta.Insert(content)
	}

	createdAtMapByActor := make(map[string]*time.Ticket)
	for _, node := range t.findBetween(fromRight, toRight) {
		visible := node.Len()
		actor := node.createdAt().ActorID().String()

		latestCreatedAt := time.MaxTicket
		if maxCreatedAtMapByActor != nil {
			latestCreatedAt = time.InitialTicket
			if createdAt, ok := maxCreatedAtMapByActor[actor]; ok {
				latestCreatedAt = createdAt
			}
		}

		if node.remove(editedAt, latestCreatedAt) {
			if latest := createdAtMapByActor[actor]; latest == nil || node.createdAt().After(latest) {
				createdAtMapByActor[actor] = node.createdAt()
			}
			delta = delta.Delete(visible)
		} else {
			delta = delta.Retain(visible)
		}
	}

	if content != "" {
		inserted := NewNode(NewNodeID(editedAt, 0), content)
		t.insertAfter(fromLeft, inserted)
	}

	return createdAtMapByActor, delta.Compact(), nil
}

// findWithSplit splits the block containing pos and returns the blocks
// at its left and right. The left block then slides right past blocks
// created after editedAt, which yields the deterministic ordering of
// concurrent inserts at the same position.
func (t *Text) findWithSplit(pos *Pos, editedAt *time.Ticket) (*Node, *Node, error) {
	absoluteID := pos.absoluteID()
	node, err := t.findFloorPreferToLeft(absoluteID)
	if err != nil {
		return nil, nil, err
	}

	if err := t.splitNode(node, absoluteID.offset-node.id.offset); err != nil {
		return nil, nil, err
	}

	for node.next != nil && node.next.createdAt().After(editedAt) {
		node = node.next
	}

	return node, node.next, nil
}

func (t *Text) findFloorPreferToLeft(id *NodeID) (*Node, error) {
	node := t.findFloorNode(id)
	if node == nil {
		return nil, fmt.Errorf("%s:%d: %w", id.createdAt.Key(), id.offset, ErrNodeNotFound)
	}

	if id.offset > 0 && node.id.offset == id.offset {
		// A position on a split boundary belongs to the block that
		// ends there, not the one that starts there.
		if node.insPrev == nil {
			return node, nil
		}
		node = node.insPrev
	}

	return node, nil
}

func (t *Text) findFloorNode(id *NodeID) *Node {
	nodes := t.nodesByCreated[id.createdAt.Key()]
	if len(nodes) == 0 {
		return nil
	}

	// nodes are kept sorted by offset; find the greatest offset <= id.offset.
	idx := sort.Search(len(nodes), func(i int) bool {
		return nodes[i].id.offset > id.offset
	})
	if idx == 0 {
		return nil
	}
	return nodes[idx-1]
}

func (t *Text) splitNode(node *Node, offset int) error {
	if offset > node.contentLen() {
		return fmt.Errorf("split offset %d exceeds length %d: %w",
			offset, node.contentLen(), ErrIndexOutOfRange)
	}

	if offset == 0 || offset == node.contentLen() {
		return nil
	}

	split := node.split(offset)
	t.insertAfter(node, split)

	if insNext := node.insNext; insNext != nil {
		insNext.setInsPrev(split)
	}
	split.setInsPrev(node)

	return nil
}

func (t *Text) insertAfter(prev, node *Node) {
	next := prev.next
	node.setPrev(prev)
	if next != nil {
		next.setPrev(node)
	}
	t.register(node)
}

func (t *Text) register(node *Node) {
	key := node.id.createdAt.Key()
	nodes := t.nodesByCreated[key]
	idx := sort.Search(len(nodes), func(i int) bool {
		return nodes[i].id.offset > node.id.offset
	})
	nodes = append(nodes, nil)
	copy(nodes[idx+1:], nodes[idx:])
	nodes[idx] = node
	t.nodesByCreated[key] = nodes
}

func (t *Text) findBetween(from, to *Node) []*Node {
	var nodes []*Node
	for current := from; current != nil && current != to; current = current.next {
		nodes = append(nodes, current)
	}
	return nodes
}

func (t *Text) visibleIndexBefore(node *Node) int {
	index := 0
	for n := t.head.next; n != nil && n != node; n = n.next {
		index += n.Len()
	}
	return index
}

// NodeSnapshot is the wire form of one block, used for full-state
// sync when a peer opens a document late.
type NodeSnapshot struct {
	CreatedAt *time.Ticket `json:"c"`
	Offset    int          `json:"o"`
	Value     string       `json:"v"`
	RemovedAt *time.Ticket `json:"r,omitempty"`
}

// Snapshot returns all blocks, tombstones included, in list order.
func (t *Text) Snapshot() []NodeSnapshot {
	var snapshot []NodeSnapshot
	for n := t.head.next; n != nil; n = n.next {
		snapshot = append(snapshot, NodeSnapshot{
			CreatedAt: n.id.createdAt,
			Offset:    n.id.offset,
			Value:     n.String(),
			RemovedAt: n.removedAt,
		})
	}
	return snapshot
}

// TextFromSnapshot reconstructs a Text from blocks in list order.
// Split relationships between blocks of the same ticket are recovered
// from offset adjacency.
func TextFromSnapshot(snapshot []NodeSnapshot) *Text {
	text := NewText()

	last := text.head
	for _, s := range snapshot {
		node := NewNode(NewNodeID(s.CreatedAt, s.Offset), s.Value)
		node.removedAt = s.RemovedAt
		text.insertAfter(last, node)
		last = node
	}

	for _, nodes := range text.nodesByCreated {
		for i := 1; i < len(nodes); i++ {
			if nodes[i-1].id.offset+nodes[i-1].contentLen() == nodes[i].id.offset {
				nodes[i].setInsPrev(nodes[i-1])
			}
		}
	}

	return text
}
