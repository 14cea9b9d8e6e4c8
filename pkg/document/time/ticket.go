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

package time

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

const (
	// InitialLamport is the initial value of the Lamport timestamp.
	InitialLamport = 0

	// MaxLamport is the maximum value stored in lamport.
	MaxLamport = math.MaxInt64

	// MaxDelimiter is the maximum value stored in delimiter.
	MaxDelimiter = math.MaxUint32
)

var (
	// InitialTicket is the initial value of Ticket.
	InitialTicket = NewTicket(InitialLamport, 0, InitialActorID)

	// MaxTicket is the maximum value of Ticket.
	MaxTicket = NewTicket(MaxLamport, MaxDelimiter, MaxActorID)
)

// Ticket is the logical timestamp stamped on every edit. It totally
// orders concurrent edits so that all replicas converge to the same
// text regardless of delivery order. It cannot be used to detect the
// causal relationship between edits.
type Ticket struct {
	lamport   int64
	delimiter uint32
	actorID   *ActorID

	// cachedKey caches the string representation of the ticket.
	cachedKey string
}

// NewTicket creates an instance of Ticket.
func NewTicket(lamport int64, delimiter uint32, actorID *ActorID) *Ticket {
	return &Ticket{
		lamport:   lamport,
		delimiter: delimiter,
		actorID:   actorID,
	}
}

// Key returns the key string for this Ticket.
func (t *Ticket) Key() string {
	if t.cachedKey == "" {
		t.cachedKey = strconv.FormatInt(t.lamport, 10) +
			":" + strconv.FormatUint(uint64(t.delimiter), 10) +
			":" + t.actorID.String()
	}

	return t.cachedKey
}

// Lamport returns the lamport value.
func (t *Ticket) Lamport() int64 {
	return t.lamport
}

// Delimiter returns the delimiter value.
func (t *Ticket) Delimiter() uint32 {
	return t.delimiter
}

// ActorID returns the actorID value.
func (t *Ticket) ActorID() *ActorID {
	return t.actorID
}

// After returns whether the given ticket was created later.
func (t *Ticket) After(other *Ticket) bool {
	return t.Compare(other) > 0
}

// Compare returns an integer comparing two Ticket.
// The result will be 0 if t==other, -1 if t < other, and +1 if t > other.
// If the receiver or argument is nil, it would panic at runtime.
func (t *Ticket) Compare(other *Ticket) int {
	if t.lamport > other.lamport {
		return 1
	} else if t.lamport < other.lamport {
		return -1
	}

	compare := t.actorID.Compare(other.ActorID())
	if compare != 0 {
		return compare
	}

	if t.delimiter > other.delimiter {
		return 1
	} else if t.delimiter < other.delimiter {
		return -1
	}

	return 0
}

// ticketJSON is the wire form of Ticket.
type ticketJSON struct {
	Lamport   int64  `json:"l"`
	Delimiter uint32 `json:"d"`
	ActorID   string `json:"a"`
}

// MarshalJSON implements json.Marshaler so tickets can travel inside
// relayed document operations.
func (t *Ticket) MarshalJSON() ([]byte, error) {
	encoded, err := json.Marshal(ticketJSON{
		Lamport:   t.lamport,
		Delimiter: t.delimiter,
		ActorID:   t.actorID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ticket: %w", err)
	}

	return encoded, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Ticket) UnmarshalJSON(data []byte) error {
	wire := ticketJSON{}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("unmarshal ticket: %w", err)
	}

	actorID, err := ActorIDFromHex(wire.ActorID)
	if err != nil {
		return err
	}

	t.lamport = wire.Lamport
	t.delimiter = wire.Delimiter
	t.actorID = actorID
	t.cachedKey = ""
	return nil
}
