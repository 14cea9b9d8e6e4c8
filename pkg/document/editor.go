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

package document

// Position addresses a point in an editor buffer by line and column,
// both zero-based and counted in runes.
type Position struct {
	Line   int
	Column int
}

// Editor is the host text-editing widget a document is mirrored into.
// Replace must apply the edit without notifying it back to the
// synchronizer; the synchronizer reports local edits itself via
// HandleLocalEdit.
type Editor interface {
	Replace(from, to Position, text string)
}

// PositionAt translates a rune offset in content into a line/column
// Position. Offsets past the end clamp to the last position.
func PositionAt(content string, offset int) Position {
	line, column := 0, 0
	for i, r := range []rune(content) {
		if i == offset {
			break
		}
		if r == '\n' {
			line++
			column = 0
		} else {
			column++
		}
	}
	return Position{Line: line, Column: column}
}
