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

package rooms

import (
	"fmt"
	"time"
)

// Config is the configuration for the room registry.
type Config struct {
	// GracePeriod is how long an empty room survives before deletion,
	// absorbing rapid reconnects.
	GracePeriod string `yaml:"GracePeriod"`

	// InactivityThreshold is how long a room may stay empty and
	// inactive before the periodic sweep deletes it. It covers empty
	// rooms whose grace timer was lost.
	InactivityThreshold string `yaml:"InactivityThreshold"`

	// SweepInterval is the time between sweep runs.
	SweepInterval string `yaml:"SweepInterval"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.GracePeriod); err != nil {
		return fmt.Errorf(`invalid argument %s for "--room-grace-period" flag: %w`, c.GracePeriod, err)
	}

	if _, err := time.ParseDuration(c.InactivityThreshold); err != nil {
		return fmt.Errorf(`invalid argument %s for "--room-inactivity-threshold" flag: %w`, c.InactivityThreshold, err)
	}

	if _, err := time.ParseDuration(c.SweepInterval); err != nil {
		return fmt.Errorf(`invalid argument %s for "--room-sweep-interval" flag: %w`, c.SweepInterval, err)
	}

	return nil
}

// ParseGracePeriod parses the grace period.
func (c *Config) ParseGracePeriod() (time.Duration, error) {
	period, err := time.ParseDuration(c.GracePeriod)
	if err != nil {
		return 0, fmt.Errorf("parse grace period %s: %w", c.GracePeriod, err)
	}
	return period, nil
}

// ParseInactivityThreshold parses the inactivity threshold.
func (c *Config) ParseInactivityThreshold() (time.Duration, error) {
	threshold, err := time.ParseDuration(c.InactivityThreshold)
	if err != nil {
		return 0, fmt.Errorf("parse inactivity threshold %s: %w", c.InactivityThreshold, err)
	}
	return threshold, nil
}

// ParseSweepInterval parses the sweep interval.
func (c *Config) ParseSweepInterval() (time.Duration, error) {
	interval, err := time.ParseDuration(c.SweepInterval)
	if err != nil {
		return 0, fmt.Errorf("parse sweep interval %s: %w", c.SweepInterval, err)
	}
	return interval, nil
}
