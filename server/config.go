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
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coedit-team/coedit/server/chat"
	"github.com/coedit-team/coedit/server/profiling"
	"github.com/coedit-team/coedit/server/rooms"
)

// Below are the default values of the Coedit server config.
const (
	DefaultPort          = 8119
	DefaultProfilingPort = 8121

	DefaultRoomGracePeriod         = "5m"
	DefaultRoomInactivityThreshold = "60m"
	DefaultRoomSweepInterval       = "1m"
)

// Config is the configuration for creating a Server instance.
type Config struct {
	Port      int               `yaml:"Port"`
	Rooms     *rooms.Config     `yaml:"Rooms"`
	Chat      *chat.Config      `yaml:"Chat"`
	Profiling *profiling.Config `yaml:"Profiling"`
}

// NewConfig returns a Config struct that contains reasonable defaults
// for most of the configurations.
func NewConfig() *Config {
	return newConfig(DefaultPort, DefaultProfilingPort)
}

// NewConfigFromFile returns a Config struct for the given config file.
func NewConfigFromFile(path string) (*Config, error) {
	conf := &Config{}
	bytes, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(bytes, conf); err != nil {
		return nil, fmt.Errorf("unmarshal config file %s: %w", path, err)
	}

	conf.ensureDefaultValue()
	return conf, nil
}

// Validate returns an error if the provided Config is invalid.
func (c *Config) Validate() error {
	if c.Port < 1 || 65535 < c.Port {
		return fmt.Errorf("must be between 1 and 65535, given %d: invalid port", c.Port)
	}

	if err := c.Rooms.Validate(); err != nil {
		return err
	}

	if err := c.Chat.Validate(); err != nil {
		return err
	}

	if c.Profiling != nil {
		if err := c.Profiling.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// RPCAddr returns the listen address of the server.
func (c *Config) RPCAddr() string {
	return fmt.Sprintf("localhost:%d", c.Port)
}

// ensureDefaultValue sets the value of the option to which the default
// value should be applied when the user does not input it.
func (c *Config) ensureDefaultValue() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}

	if c.Rooms == nil {
		c.Rooms = &rooms.Config{}
	}
	if c.Rooms.GracePeriod == "" {
		c.Rooms.GracePeriod = DefaultRoomGracePeriod
	}
	if c.Rooms.InactivityThreshold == "" {
		c.Rooms.InactivityThreshold = DefaultRoomInactivityThreshold
	}
	if c.Rooms.SweepInterval == "" {
		c.Rooms.SweepInterval = DefaultRoomSweepInterval
	}

	if c.Chat == nil {
		c.Chat = &chat.Config{}
	}
	if c.Chat.HistorySize == 0 {
		c.Chat.HistorySize = chat.DefaultHistorySize
	}
	if c.Chat.MaxTextLength == 0 {
		c.Chat.MaxTextLength = chat.DefaultMaxTextLength
	}

	if c.Profiling != nil && c.Profiling.Port == 0 {
		c.Profiling.Port = DefaultProfilingPort
	}
}

func newConfig(port int, profilingPort int) *Config {
	return &Config{
		Port: port,
		Rooms: &rooms.Config{
			GracePeriod:         DefaultRoomGracePeriod,
			InactivityThreshold: DefaultRoomInactivityThreshold,
			SweepInterval:       DefaultRoomSweepInterval,
		},
		Chat: &chat.Config{
			HistorySize:   chat.DefaultHistorySize,
			MaxTextLength: chat.DefaultMaxTextLength,
		},
		Profiling: &profiling.Config{
			Port: profilingPort,
		},
	}
}
