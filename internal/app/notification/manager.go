// Package notification provides the broadcast bus that delivers events to
// connections on this process and, through the coordination store, on every
// other process.
package notification

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/roomsync/internal/infra/coord"
	"github.com/osa030/roomsync/internal/infra/metrics"
)

// Channel is the coordination store pub/sub channel shared by all processes.
const Channel = "roomsync:bus"

// Envelope is the message delivered to a connection.
type Envelope struct {
	Type       string          `json:"type"`
	RoomID     string          `json:"room_id,omitempty"`
	SequenceNo uint64          `json:"seq"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Stream represents a connection's outbound message stream.
type Stream interface {
	Send(*Envelope) error
}

// Scope selects the recipients of a message.
type Scope string

const (
	ScopeRoom Scope = "room"
	ScopeUser Scope = "user"
	ScopeConn Scope = "conn"
)

// wireMessage is what travels between processes. It carries either an
// envelope to deliver or a room leave to apply.
type wireMessage struct {
	Origin   string     `json:"origin"`
	Scope    Scope      `json:"scope,omitempty"`
	Target   string     `json:"target,omitempty"`
	Envelope *Envelope  `json:"envelope,omitempty"`
	Leave    *roomLeave `json:"leave,omitempty"`
}

// roomLeave drops a user's connections from a room's group.
type roomLeave struct {
	UserID string `json:"user_id"`
	RoomID string `json:"room_id"`
}

// subscription represents a connection's subscription.
type subscription struct {
	connID string
	userID string
	stream Stream
	rooms  map[string]struct{}
}

// Manager manages subscriptions and routes messages to them.
type Manager struct {
	nodeID      string
	store       coord.Store
	metrics     *metrics.Metrics
	sendTimeout time.Duration

	mu     sync.RWMutex
	conns  map[string]*subscription
	byRoom map[string]map[string]struct{}
	byUser map[string]map[string]struct{}

	sequenceNo atomic.Uint64
}

// NewManager creates a new notification manager. store may be nil, in which
// case messages only reach connections on this process.
func NewManager(store coord.Store, m *metrics.Metrics, sendTimeout time.Duration) *Manager {
	if sendTimeout <= 0 {
		sendTimeout = 500 * time.Millisecond
	}
	return &Manager{
		nodeID:      uuid.New().String(),
		store:       store,
		metrics:     m,
		sendTimeout: sendTimeout,
		conns:       make(map[string]*subscription),
		byRoom:      make(map[string]map[string]struct{}),
		byUser:      make(map[string]map[string]struct{}),
	}
}

// Run relays messages published by other processes until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if m.store == nil {
		<-ctx.Done()
		return nil
	}

	msgs, closeFn, err := m.store.Subscribe(ctx, Channel)
	if err != nil {
		return errors.Wrap(err, "failed to subscribe to bus")
	}
	defer closeFn()

	zlog.Info().Msgf("bus relay started: node_id=%s channel=%s", m.nodeID, Channel)
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			var msg wireMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				zlog.Warn().Msgf("dropping malformed bus message: error=%v", err)
				continue
			}
			if msg.Origin == m.nodeID {
				continue
			}
			switch {
			case msg.Leave != nil:
				m.leaveLocal(msg.Leave.UserID, msg.Leave.RoomID)
			case msg.Envelope != nil:
				m.deliverLocal(msg.Scope, msg.Target, msg.Envelope)
			}
		}
	}
}

// Subscribe registers a connection.
func (m *Manager) Subscribe(connID, userID string, stream Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conns[connID] = &subscription{
		connID: connID,
		userID: userID,
		stream: stream,
		rooms:  make(map[string]struct{}),
	}
	addIndex(m.byUser, userID, connID)
}

// Unsubscribe removes a connection and its room memberships.
func (m *Manager) Unsubscribe(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.conns[connID]
	if !ok {
		return
	}
	for roomID := range sub.rooms {
		removeIndex(m.byRoom, roomID, connID)
	}
	removeIndex(m.byUser, sub.userID, connID)
	delete(m.conns, connID)
}

// JoinRoom adds the connection to a room's multicast group.
func (m *Manager) JoinRoom(connID, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.conns[connID]
	if !ok {
		return
	}
	sub.rooms[roomID] = struct{}{}
	addIndex(m.byRoom, roomID, connID)
}

// LeaveRoom removes the connection from a room's multicast group.
func (m *Manager) LeaveRoom(connID, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.conns[connID]; ok {
		delete(sub.rooms, roomID)
	}
	removeIndex(m.byRoom, roomID, connID)
}

// LeaveRoomUser removes every connection of the user from a room's group on
// any process.
func (m *Manager) LeaveRoomUser(ctx context.Context, userID, roomID string) {
	m.leaveLocal(userID, roomID)
	if m.store == nil {
		return
	}

	payload, err := json.Marshal(wireMessage{Origin: m.nodeID, Leave: &roomLeave{UserID: userID, RoomID: roomID}})
	if err != nil {
		zlog.Error().Msgf("failed to encode room leave: user_id=%s room_id=%s error=%v", userID, roomID, err)
		return
	}
	if err := m.store.Publish(ctx, Channel, payload); err != nil {
		zlog.Warn().Msgf("bus publish failed, room left locally only: user_id=%s room_id=%s error=%v", userID, roomID, err)
	}
}

func (m *Manager) leaveLocal(userID, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for connID := range m.byUser[userID] {
		if sub, ok := m.conns[connID]; ok {
			delete(sub.rooms, roomID)
		}
		removeIndex(m.byRoom, roomID, connID)
	}
}

// Rooms returns the rooms a connection has joined.
func (m *Manager) Rooms(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.conns[connID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(sub.rooms))
	for roomID := range sub.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// ToRoom sends to every connection in the room on any process.
func (m *Manager) ToRoom(ctx context.Context, roomID, msgType string, data any) error {
	return m.route(ctx, ScopeRoom, roomID, roomID, msgType, data)
}

// ToUser sends to every connection of the user on any process.
func (m *Manager) ToUser(ctx context.Context, userID, roomID, msgType string, data any) error {
	return m.route(ctx, ScopeUser, userID, roomID, msgType, data)
}

// ToConn sends to a single connection, wherever it lives.
func (m *Manager) ToConn(ctx context.Context, connID, roomID, msgType string, data any) error {
	return m.route(ctx, ScopeConn, connID, roomID, msgType, data)
}

func (m *Manager) route(ctx context.Context, scope Scope, target, roomID, msgType string, data any) error {
	env, err := m.envelope(roomID, msgType, data)
	if err != nil {
		return err
	}

	local := m.deliverLocal(scope, target, env)
	if m.store == nil || (scope == ScopeConn && local > 0) {
		return nil
	}

	payload, err := json.Marshal(wireMessage{Origin: m.nodeID, Scope: scope, Target: target, Envelope: env})
	if err != nil {
		return errors.Wrap(err, "failed to encode bus message")
	}
	if err := m.store.Publish(ctx, Channel, payload); err != nil {
		// Remote processes miss this message; local delivery already happened.
		zlog.Warn().Msgf("bus publish failed, delivered locally only: scope=%s target=%s type=%s error=%v",
			scope, target, msgType, err)
	}
	return nil
}

func (m *Manager) envelope(roomID, msgType string, data any) (*Envelope, error) {
	env := &Envelope{
		Type:       msgType,
		RoomID:     roomID,
		SequenceNo: m.sequenceNo.Add(1),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode %s payload", msgType)
		}
		env.Data = raw
	}
	return env, nil
}

// deliverLocal sends env to matching local connections and returns how many matched.
// Each send runs in its own goroutine with a timeout so a slow connection
// cannot hold up the others.
func (m *Manager) deliverLocal(scope Scope, target string, env *Envelope) int {
	subs := m.lookup(scope, target)
	if len(subs) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(env)
			}()

			select {
			case err := <-done:
				if err != nil {
					m.metrics.BusDropped()
					zlog.Debug().Msgf("send failed: conn_id=%s type=%s error=%v", s.connID, env.Type, err)
				}
			case <-ctx.Done():
				m.metrics.BusDropped()
				zlog.Debug().Msgf("send timed out: conn_id=%s type=%s", s.connID, env.Type)
			}
		}(sub)
	}
	wg.Wait()
	return len(subs)
}

func (m *Manager) lookup(scope Scope, target string) []*subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids map[string]struct{}
	switch scope {
	case ScopeRoom:
		ids = m.byRoom[target]
	case ScopeUser:
		ids = m.byUser[target]
	case ScopeConn:
		if sub, ok := m.conns[target]; ok {
			return []*subscription{sub}
		}
		return nil
	}

	subs := make([]*subscription, 0, len(ids))
	for id := range ids {
		if sub, ok := m.conns[id]; ok {
			subs = append(subs, sub)
		}
	}
	return subs
}

// SubscriberCount returns the number of local connections.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns = make(map[string]*subscription)
	m.byRoom = make(map[string]map[string]struct{})
	m.byUser = make(map[string]map[string]struct{})
}

func addIndex(index map[string]map[string]struct{}, key, connID string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[connID] = struct{}{}
}

func removeIndex(index map[string]map[string]struct{}, key, connID string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(index, key)
	}
}
