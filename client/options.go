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
	"time"

	"github.com/coedit-team/coedit/server/logging"
)

// Below are the default values of the client options.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectInterval    = time.Second
	DefaultMaxReconnectInterval = 30 * time.Second
)

// Option configures Options.
type Option func(*Options)

// Options configures how we set up the client.
type Options struct {
	// Key identifies the client instance. A fresh one is generated
	// when not given.
	Key string

	// MaxReconnectAttempts bounds automatic reconnection. Reconnects
	// are never infinite.
	MaxReconnectAttempts int

	// ReconnectInterval is the delay before the first reconnect
	// attempt. Subsequent attempts back off exponentially up to
	// MaxReconnectInterval.
	ReconnectInterval time.Duration

	// MaxReconnectInterval caps the backoff delay.
	MaxReconnectInterval time.Duration

	// Logger is the logger of the client.
	Logger logging.Logger
}

// WithKey configures the key of the client.
func WithKey(key string) Option {
	return func(o *Options) { o.Key = key }
}

// WithMaxReconnectAttempts configures the reconnect attempt bound.
func WithMaxReconnectAttempts(attempts int) Option {
	return func(o *Options) { o.MaxReconnectAttempts = attempts }
}

// WithReconnectInterval configures the initial reconnect delay.
func WithReconnectInterval(interval time.Duration) Option {
	return func(o *Options) { o.ReconnectInterval = interval }
}

// WithMaxReconnectInterval configures the backoff cap.
func WithMaxReconnectInterval(interval time.Duration) Option {
	return func(o *Options) { o.MaxReconnectInterval = interval }
}

// WithLogger configures the logger of the client.
func WithLogger(logger logging.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}
