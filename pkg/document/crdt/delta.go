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

package crdt

// DeltaOpType is the type of a DeltaOp.
type DeltaOpType int

// The three primitive ways a delta transforms a text.
const (
	DeltaRetain DeltaOpType = iota
	DeltaInsert
	DeltaDelete
)

// DeltaOp is one step of a Delta. Retain and Delete consume runes of
// the text the delta is applied to; Insert produces new runes.
type DeltaOp struct {
	Type   DeltaOpType
	Length int
	Value  string
}

// Delta describes the visible effect of one edit as a sequence of
// retain, insert and delete steps from the start of the text. It is
// what a mirrored editor buffer replays to catch up with the CRDT.
type Delta []DeltaOp

// Retain appends a retain step. Zero-length retains are dropped.
func (d Delta) Retain(length int) Delta {
	if length == 0 {
		return d
	}
	return append(d, DeltaOp{Type: DeltaRetain, Length: length})
}

// Insert appends an insert step.
func (d Delta) Insert(value string) Delta {
	if value == "" {
		return d
	}
	return append(d, DeltaOp{Type: DeltaInsert, Value: value, Length: len([]rune(value))})
}

// Delete appends a delete step. Zero-length deletes are dropped.
func (d Delta) Delete(length int) Delta {
	if length == 0 {
		return d
	}
	return append(d, DeltaOp{Type: DeltaDelete, Length: length})
}

// Compact merges adjacent steps of the same type and drops a trailing
// retain, which is a no-op by definition.
func (d Delta) Compact() Delta {
	var compacted Delta
	for _, op := range d {
		if len(compacted) > 0 {
			last := &compacted[len(compacted)-1]
			if last.Type == op.Type && op.Type != DeltaInsert {
				last.Length += op.Length
				continue
			}
			if last.Type == op.Type && op.Type == DeltaInsert {
				last.Value += op.Value
				last.Length += op.Length
				continue
			}
		}
		compacted = append(compacted, op)
	}

	if n := len(compacted); n > 0 && compacted[n-1].Type == DeltaRetain {
		compacted = compacted[:n-1]
	}
	return compacted
}

// IsEmpty reports whether the delta changes nothing.
func (d Delta) IsEmpty() bool {
	for _, op := range d {
		if op.Type != DeltaRetain {
			return false
		}
	}
	return true
}
