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
	"sort"
	gosync "sync"
)

// subscribers is a fan-out set of event handlers. Multiple subscribers
// are supported; each Add returns an unsubscribe handle. Dispatch
// happens from the client's single read loop, so handlers for the same
// event type never run concurrently.
type subscribers[T any] struct {
	mu       gosync.Mutex
	handlers map[int]func(T)
	nextID   int
}

func newSubscribers[T any]() *subscribers[T] {
	return &subscribers[T]{handlers: make(map[int]func(T))}
}

// Add registers the handler and returns its unsubscribe handle.
func (s *subscribers[T]) Add(handler func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.handlers[id] = handler

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

// Dispatch invokes every handler in registration order.
func (s *subscribers[T]) Dispatch(event T) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(T), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, s.handlers[id])
	}
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}
