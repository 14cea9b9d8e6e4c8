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

// Package rooms provides the authoritative bookkeeping of which
// connections belong to which rooms. It has no transport or document
// knowledge; it is the leaf dependency of the collaboration server.
package rooms

import (
	"context"
	"sort"
	gosync "sync"
	"time"

	"github.com/coedit-team/coedit/api/types"
	"github.com/coedit-team/coedit/server/logging"
)

// Room is one collaboration session. A room exists in the registry iff
// it has at least one member or is within the grace period after
// becoming empty.
type Room struct {
	id           string
	members      map[string]types.Member
	createdAt    time.Time
	lastActivity time.Time

	// cleanup is the pending grace-period deletion timer of an empty
	// room. It is cancelled when a member rejoins before it fires.
	cleanup *time.Timer
}

// ID returns the room identifier.
func (r *Room) ID() string {
	return r.id
}

// Registry tracks rooms and their members. All mutating operations are
// safe under concurrent invocation; a single mutex guards the room
// map, since room counts are small relative to per-room churn.
type Registry struct {
	mu    gosync.Mutex
	rooms map[string]*Room

	gracePeriod         time.Duration
	inactivityThreshold time.Duration
	sweepInterval       time.Duration

	// onRoomExpired is invoked, outside the registry lock, for every
	// room deleted by the grace timer or the sweep. The server uses it
	// to drop sibling per-room state such as chat buffers.
	onRoomExpired func(roomID string)

	logger     logging.Logger
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// New creates a Registry with the given configuration.
func New(conf *Config) (*Registry, error) {
	gracePeriod, err := conf.ParseGracePeriod()
	if err != nil {
		return nil, err
	}
	inactivityThreshold, err := conf.ParseInactivityThreshold()
	if err != nil {
		return nil, err
	}
	sweepInterval, err := conf.ParseSweepInterval()
	if err != nil {
		return nil, err
	}

	ctx, cancelFunc := context.WithCancel(context.Background())

	return &Registry{
		rooms:               make(map[string]*Room),
		gracePeriod:         gracePeriod,
		inactivityThreshold: inactivityThreshold,
		sweepInterval:       sweepInterval,
		logger:              logging.New("rooms"),
		ctx:                 ctx,
		cancelFunc:          cancelFunc,
	}, nil
}

// SetOnRoomExpired registers the callback invoked after a room is
// deleted by the grace timer or the sweep.
func (r *Registry) SetOnRoomExpired(callback func(roomID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRoomExpired = callback
}

// Start starts the periodic sweep of idle rooms.
func (r *Registry) Start() {
	go r.sweepLoop()
}

// Stop stops the sweep and cancels all pending grace timers.
func (r *Registry) Stop() {
	r.cancelFunc()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range r.rooms {
		if room.cleanup != nil {
			room.cleanup.Stop()
			room.cleanup = nil
		}
	}
}

// CreateRoom returns the room with the given id, creating it with
// empty membership if absent.
func (r *Registry) CreateRoom(roomID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createRoomLocked(roomID)
}

func (r *Registry) createRoomLocked(roomID string) *Room {
	if room, ok := r.rooms[roomID]; ok {
		return room
	}

	now := time.Now()
	room := &Room{
		id:           roomID,
		members:      make(map[string]types.Member),
		createdAt:    now,
		lastActivity: now,
	}
	r.rooms[roomID] = room
	r.logger.Infof("room %s created", roomID)
	return room
}

// AddMember inserts the member into the room, creating the room if
// absent. Overwriting an existing connection id is a silent update;
// that is the reconnect-with-same-id case.
func (r *Registry) AddMember(roomID string, member types.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.createRoomLocked(roomID)
	if room.cleanup != nil {
		room.cleanup.Stop()
		room.cleanup = nil
	}

	room.members[member.ConnectionID] = member
	room.lastActivity = time.Now()
}

// RemoveMember removes the member if present; it is a no-op if the
// room or member is absent. An emptied room gets a grace-period
// deletion timer.
func (r *Registry) RemoveMember(roomID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeMemberLocked(roomID, connectionID)
}

func (r *Registry) removeMemberLocked(roomID, connectionID string) {
	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	if _, ok := room.members[connectionID]; !ok {
		return
	}

	delete(room.members, connectionID)
	room.lastActivity = time.Now()

	if len(room.members) == 0 {
		r.scheduleCleanupLocked(room)
	}
}

func (r *Registry) scheduleCleanupLocked(room *Room) {
	if room.cleanup != nil {
		room.cleanup.Stop()
	}

	roomID := room.id
	room.cleanup = time.AfterFunc(r.gracePeriod, func() {
		r.expireRoom(roomID)
	})
}

func (r *Registry) expireRoom(roomID string) {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok || len(room.members) > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.rooms, roomID)
	callback := r.onRoomExpired
	r.mu.Unlock()

	r.logger.Infof("room %s expired", roomID)
	if callback != nil {
		callback(roomID)
	}
}

// Members returns a snapshot of the room's members ordered by
// connection id. An unknown room yields an empty list, not an error.
func (r *Registry) Members(roomID string) []types.Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return []types.Member{}
	}

	members := make([]types.Member, 0, len(room.members))
	for _, member := range room.members {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].ConnectionID < members[j].ConnectionID
	})
	return members
}

// HasRoom reports whether the room exists in the registry.
func (r *Registry) HasRoom(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomID]
	return ok
}

// Len returns the number of rooms in the registry.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// RemoveConnectionEverywhere removes the connection from every room it
// belongs to and returns the affected room ids, so the server can
// broadcast updated presence per room.
func (r *Registry) RemoveConnectionEverywhere(connectionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected []string
	for roomID, room := range r.rooms {
		if _, ok := room.members[connectionID]; ok {
			r.removeMemberLocked(roomID, connectionID)
			affected = append(affected, roomID)
		}
	}
	sort.Strings(affected)
	return affected
}

// Touch refreshes the room's last-activity timestamp.
func (r *Registry) Touch(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[roomID]; ok {
		room.lastActivity = time.Now()
	}
}

// sweepLoop periodically deletes rooms that have had zero members and
// no activity past the inactivity threshold. It covers empty rooms
// whose grace timer was lost.
func (r *Registry) sweepLoop() {
	for {
		select {
		case <-time.After(r.sweepInterval):
		case <-r.ctx.Done():
			return
		}

		for _, roomID := range r.sweepCandidates() {
			r.expireRoom(roomID)
		}
	}
}

func (r *Registry) sweepCandidates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var candidates []string
	for roomID, room := range r.rooms {
		if len(room.members) == 0 && now.Sub(room.lastActivity) > r.inactivityThreshold {
			candidates = append(candidates, roomID)
		}
	}
	return candidates
}
