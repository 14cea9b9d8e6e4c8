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

// Package time provides the logical clock and ticket used to order
// concurrent edits of a replicated document.
package time

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
)

const actorIDSize = 12

var (
	// InitialActorID represents the initial value of ActorID.
	InitialActorID = &ActorID{}

	// MaxActorID represents the maximum value of ActorID.
	MaxActorID = &ActorID{
		bytes: [actorIDSize]byte{
			math.MaxUint8, math.MaxUint8, math.MaxUint8, math.MaxUint8,
			math.MaxUint8, math.MaxUint8, math.MaxUint8, math.MaxUint8,
			math.MaxUint8, math.MaxUint8, math.MaxUint8, math.MaxUint8,
		},
	}

	// ErrInvalidHexString is returned when the given string is not valid hex.
	ErrInvalidHexString = errors.New("invalid hex string")
)

// ActorID is the unique ID of a document replica. One is issued per
// document handle, not per logical user, so two tabs editing the same
// file never share an ActorID.
type ActorID struct {
	bytes [actorIDSize]byte

	// cachedString caches the hex representation to avoid repeated
	// calls to hex.EncodeToString. ActorID is effectively immutable
	// after creation, so the cache is safe once published.
	cachedString string
}

// NewActorID creates a random ActorID.
func NewActorID() (*ActorID, error) {
	actorID := &ActorID{}
	if _, err := rand.Read(actorID.bytes[:]); err != nil {
		return nil, fmt.Errorf("generate actor id: %w", err)
	}

	return actorID, nil
}

// ActorIDFromHex returns the ActorID represented by the hexadecimal string.
func ActorIDFromHex(str string) (*ActorID, error) {
	actorID := &ActorID{}

	if str == "" {
		return actorID, fmt.Errorf("%s: %w", str, ErrInvalidHexString)
	}

	decoded, err := hex.DecodeString(str)
	if err != nil {
		return actorID, fmt.Errorf("%s: %w", str, ErrInvalidHexString)
	}

	if len(decoded) != actorIDSize {
		return actorID, fmt.Errorf("decoded length %d: %w", len(decoded), ErrInvalidHexString)
	}

	copy(actorID.bytes[:], decoded[:actorIDSize])
	return actorID, nil
}

// String returns the hexadecimal encoding of ActorID.
func (id *ActorID) String() string {
	if id.cachedString == "" {
		id.cachedString = hex.EncodeToString(id.bytes[:])
	}

	return id.cachedString
}

// Bytes returns the bytes of ActorID itself.
func (id *ActorID) Bytes() []byte {
	return id.bytes[:]
}

// Compare returns an integer comparing two ActorID lexicographically.
// The result will be 0 if id==other, -1 if id < other, and +1 if id > other.
// If the receiver or argument is nil, it would panic at runtime.
func (id *ActorID) Compare(other *ActorID) int {
	return bytes.Compare(id.bytes[:], other.bytes[:])
}
