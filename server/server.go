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

// Package server provides the collaboration server, the single relay
// point of a deployment. It terminates websocket connections, tracks
// room membership and fans events out to the right peer set. It owns
// no document content; document updates pass through as opaque blobs.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	gosync "sync"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/coedit-team/coedit/server/chat"
	"github.com/coedit-team/coedit/server/logging"
	"github.com/coedit-team/coedit/server/profiling"
	"github.com/coedit-team/coedit/server/profiling/prometheus"
	"github.com/coedit-team/coedit/server/rooms"
)

// Server is the collaboration server.
type Server struct {
	conf   *Config
	logger logging.Logger

	registry  *rooms.Registry
	chatStore *chat.Store
	metrics   *prometheus.Metrics

	profilingServer *profiling.Server
	httpServer      *http.Server
	listener        net.Listener
	upgrader        websocket.Upgrader

	connMu gosync.RWMutex
	conns  map[string]*connection

	lock       gosync.Mutex
	shutdown   bool
	shutdownCh chan struct{}
}

// New creates a new instance of Server.
func New(conf *Config) (*Server, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	metrics, err := prometheus.NewMetrics()
	if err != nil {
		return nil, err
	}

	registry, err := rooms.New(conf.Rooms)
	if err != nil {
		return nil, err
	}

	chatStore, err := chat.NewStore(conf.Chat)
	if err != nil {
		return nil, err
	}

	var profilingServer *profiling.Server
	if conf.Profiling != nil {
		profilingServer = profiling.NewServer(conf.Profiling, metrics)
	}

	s := &Server{
		conf:            conf,
		logger:          logging.New("server"),
		registry:        registry,
		chatStore:       chatStore,
		metrics:         metrics,
		profilingServer: profilingServer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Authorization happens upstream; the relay accepts any
			// origin the deployment lets through to it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:      make(map[string]*connection),
		shutdownCh: make(chan struct{}),
	}

	// Room expiry drops the room's chat buffer with it.
	registry.SetOnRoomExpired(chatStore.Drop)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	s.httpServer = &http.Server{Handler: mux}

	return s, nil
}

// Start starts the server by opening the listen port.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.conf.Port))
	if err != nil {
		return fmt.Errorf("listen on %d: %w", s.conf.Port, err)
	}
	s.listener = listener

	s.registry.Start()

	if s.profilingServer != nil {
		if err := s.profilingServer.Start(); err != nil {
			return err
		}
	}

	go func() {
		s.logger.Infof("serving collaboration on %s", listener.Addr())
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			s.logger.Errorf("HTTP server Serve: %v", err)
		}
	}()

	return nil
}

// RPCAddr returns the address the server is listening on.
func (s *Server) RPCAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.conf.RPCAddr()
}

// Shutdown shuts down the server.
func (s *Server) Shutdown(graceful bool) error {
	s.lock.Lock()
	if s.shutdown {
		s.lock.Unlock()
		return nil
	}
	s.shutdown = true
	s.lock.Unlock()

	s.registry.Stop()

	s.connMu.Lock()
	for _, conn := range s.conns {
		conn.close()
	}
	s.conns = make(map[string]*connection)
	s.connMu.Unlock()

	if graceful {
		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
	} else {
		if err := s.httpServer.Close(); err != nil {
			return fmt.Errorf("HTTP server close: %w", err)
		}
	}

	if s.profilingServer != nil {
		s.profilingServer.Shutdown(graceful)
	}

	close(s.shutdownCh)
	return nil
}

// ShutdownCh returns the shutdown channel.
func (s *Server) ShutdownCh() <-chan struct{} {
	return s.shutdownCh
}

// serveWS upgrades an HTTP request to a websocket connection and runs
// its read pump until the peer drops.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("upgrade: %v", err)
		return
	}

	conn := newConnection(xid.New().String(), sock)

	s.connMu.Lock()
	s.conns[conn.id] = conn
	count := len(s.conns)
	s.connMu.Unlock()
	s.metrics.SetConnections(count)
	s.logger.Infof("connection %s opened, %d live", conn.id, count)

	go conn.writePump()
	conn.readPump(s)
}

// unregister tears the connection down, removes it from every room it
// was in and rebroadcasts presence per affected room.
func (s *Server) unregister(conn *connection) {
	s.connMu.Lock()
	if _, ok := s.conns[conn.id]; !ok {
		s.connMu.Unlock()
		return
	}
	delete(s.conns, conn.id)
	count := len(s.conns)
	s.connMu.Unlock()

	conn.close()
	s.metrics.SetConnections(count)
	s.logger.Infof("connection %s closed, %d live", conn.id, count)

	for _, roomID := range s.registry.RemoveConnectionEverywhere(conn.id) {
		s.broadcastMembers(roomID)
	}
	s.metrics.SetRooms(s.registry.Len())
}

func (s *Server) lookup(connectionID string) *connection {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conns[connectionID]
}
