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

package document_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coedit-team/coedit/pkg/document"
)

func TestDocument(t *testing.T) {
	t.Run("local edit test", func(t *testing.T) {
		doc, err := document.New()
		require.NoError(t, err)

		op, err := doc.Edit(0, 0, "Hello World")
		require.NoError(t, err)
		assert.Equal(t, "Hello World", doc.Content())
		assert.Equal(t, int64(1), op.ExecutedAt.Lamport())
		assert.Equal(t, doc.ActorID().String(), op.ExecutedAt.ActorID().String())

		_, err = doc.Edit(6, 11, "Go")
		require.NoError(t, err)
		assert.Equal(t, "Hello Go", doc.Content())
		assert.Equal(t, 8, doc.Len())
	})

	t.Run("invalid range test", func(t *testing.T) {
		doc, err := document.New()
		require.NoError(t, err)
		_, err = doc.Edit(0, 0, "ab")
		require.NoError(t, err)

		_, err = doc.Edit(2, 1, "")
		assert.Error(t, err)
		_, err = doc.Edit(0, 5, "")
		assert.Error(t, err)
		assert.Equal(t, "ab", doc.Content())
	})

	t.Run("remote apply test", func(t *testing.T) {
		doc1, err := document.New()
		require.NoError(t, err)
		doc2, err := document.New()
		require.NoError(t, err)

		op, err := doc1.Edit(0, 0, "Hello")
		require.NoError(t, err)

		delta, err := doc2.ApplyOperation(op)
		require.NoError(t, err)
		assert.Equal(t, "Hello", doc2.Content())
		assert.False(t, delta.IsEmpty())

		// Duplicate delivery is a no-op.
		delta, err = doc2.ApplyOperation(op)
		require.NoError(t, err)
		assert.Nil(t, delta)
		assert.Equal(t, "Hello", doc2.Content())
	})

	t.Run("lamport advance test", func(t *testing.T) {
		doc1, err := document.New()
		require.NoError(t, err)
		doc2, err := document.New()
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			op, err := doc1.Edit(doc1.Len(), doc1.Len(), "a")
			require.NoError(t, err)
			_, err = doc2.ApplyOperation(op)
			require.NoError(t, err)
		}

		// The next local edit on doc2 must be ordered after everything
		// it has seen from doc1.
		op2, err := doc2.Edit(0, 0, "b")
		require.NoError(t, err)
		assert.Equal(t, int64(4), op2.ExecutedAt.Lamport())
	})

	t.Run("concurrent convergence test", func(t *testing.T) {
		doc1, err := document.New()
		require.NoError(t, err)
		doc2, err := document.New()
		require.NoError(t, err)

		base, err := doc1.Edit(0, 0, "The quick brown fox")
		require.NoError(t, err)
		_, err = doc2.ApplyOperation(base)
		require.NoError(t, err)

		// Both replicas edit without seeing each other.
		op1, err := doc1.Edit(4, 9, "slow")
		require.NoError(t, err)
		op2, err := doc2.Edit(10, 15, "red")
		require.NoError(t, err)

		_, err = doc1.ApplyOperation(op2)
		require.NoError(t, err)
		_, err = doc2.ApplyOperation(op1)
		require.NoError(t, err)

		assert.Equal(t, doc1.Content(), doc2.Content())
		assert.Equal(t, "The slow red fox", doc1.Content())
	})

	t.Run("snapshot test", func(t *testing.T) {
		doc1, err := document.New()
		require.NoError(t, err)
		doc2, err := document.New()
		require.NoError(t, err)

		_, err = doc1.Edit(0, 0, "Hello World")
		require.NoError(t, err)
		_, err = doc1.Edit(5, 5, ",")
		require.NoError(t, err)

		delta := doc2.ApplySnapshot(doc1.Snapshot())
		assert.Equal(t, "Hello, World", doc2.Content())
		assert.False(t, delta.IsEmpty())

		// The restored replica keeps converging with the source.
		op, err := doc1.Edit(0, 5, "Goodbye")
		require.NoError(t, err)
		_, err = doc2.ApplyOperation(op)
		require.NoError(t, err)
		assert.Equal(t, doc1.Content(), doc2.Content())
	})
}

func TestOperationJSON(t *testing.T) {
	t.Run("round trip test", func(t *testing.T) {
		doc1, err := document.New()
		require.NoError(t, err)
		doc2, err := document.New()
		require.NoError(t, err)

		baseOp, err := doc1.Edit(0, 0, "abcd")
		require.NoError(t, err)
		op, err := doc1.Edit(1, 3, "X")
		require.NoError(t, err)

		encoded, err := json.Marshal(op)
		require.NoError(t, err)

		decoded := &document.Operation{}
		require.NoError(t, json.Unmarshal(encoded, decoded))
		assert.Equal(t, op.Content, decoded.Content)
		assert.Equal(t, 0, op.ExecutedAt.Compare(decoded.ExecutedAt))

		// A decoded operation still applies cleanly on another replica.
		_, err = doc2.ApplyOperation(baseOp)
		require.NoError(t, err)
		_, err = doc2.ApplyOperation(decoded)
		require.NoError(t, err)
		assert.Equal(t, doc1.Content(), doc2.Content())
	})
}
