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

package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnection(t *testing.T) {
	t.Run("send after close is refused test", func(t *testing.T) {
		conn := newConnection("conn-1", nil)

		assert.True(t, conn.trySend([]byte("queued")))
		conn.close()
		assert.False(t, conn.trySend([]byte("late")))
	})

	t.Run("close is idempotent test", func(t *testing.T) {
		conn := newConnection("conn-1", nil)
		conn.close()
		conn.close()
		assert.False(t, conn.trySend([]byte("late")))
	})

	t.Run("full queue refuses without closing test", func(t *testing.T) {
		conn := newConnection("conn-1", nil)
		for i := 0; i < sendBufferSize; i++ {
			assert.True(t, conn.trySend([]byte("fill")))
		}
		assert.False(t, conn.trySend([]byte("overflow")))
	})

	// Relay goroutines send while unregister closes; a send racing the
	// close must be refused, never panic.
	t.Run("concurrent send and close test", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			conn := newConnection(fmt.Sprintf("conn-%d", i), nil)

			var wg sync.WaitGroup
			start := make(chan struct{})
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					for j := 0; j < 64; j++ {
						conn.trySend([]byte("payload"))
					}
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				conn.close()
			}()

			close(start)
			wg.Wait()
			assert.False(t, conn.trySend([]byte("payload")))
		}
	})
}
