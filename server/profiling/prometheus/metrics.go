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

// Package prometheus provides a Prometheus metrics exporter.
package prometheus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace      = "coedit"
	eventTypeLabel = "event_type"
)

// Metrics manages the metric information that the collaboration server
// is trying to measure.
type Metrics struct {
	registry *prometheus.Registry

	connectionsTotal    prometheus.Gauge
	roomsTotal          prometheus.Gauge
	relayedEventsTotal  *prometheus.CounterVec
	chatMessagesTotal   prometheus.Counter
	chatRejectedTotal   prometheus.Counter
	protocolErrorsTotal prometheus.Counter
}

// NewMetrics creates a new instance of Metrics.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	return &Metrics{
		registry: reg,
		connectionsTotal: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections",
			Help:      "The current number of live connections.",
		}),
		roomsTotal: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "rooms",
			Help:      "The current number of rooms in the registry.",
		}),
		relayedEventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "relayed_events_total",
			Help:      "The total number of events relayed to room members.",
		}, []string{eventTypeLabel}),
		chatMessagesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "chat_messages_total",
			Help:      "The total number of chat messages stored.",
		}),
		chatRejectedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "chat_rejected_total",
			Help:      "The total number of chat messages rejected at intake.",
		}),
		protocolErrorsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "protocol_errors_total",
			Help:      "The total number of malformed payloads dropped.",
		}),
	}, nil
}

// Registry returns the registry of this metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetConnections sets the current number of live connections.
func (m *Metrics) SetConnections(count int) {
	m.connectionsTotal.Set(float64(count))
}

// SetRooms sets the current number of rooms.
func (m *Metrics) SetRooms(count int) {
	m.roomsTotal.Set(float64(count))
}

// AddRelayedEvents adds the number of events relayed for the type.
func (m *Metrics) AddRelayedEvents(eventType string, count int) {
	m.relayedEventsTotal.With(prometheus.Labels{eventTypeLabel: eventType}).Add(float64(count))
}

// AddChatMessages increments the stored chat message counter.
func (m *Metrics) AddChatMessages() {
	m.chatMessagesTotal.Inc()
}

// AddChatRejected increments the rejected chat message counter.
func (m *Metrics) AddChatRejected() {
	m.chatRejectedTotal.Inc()
}

// AddProtocolErrors increments the dropped malformed payload counter.
func (m *Metrics) AddProtocolErrors() {
	m.protocolErrorsTotal.Inc()
}
