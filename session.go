// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"sync"
	"time"
)

// Will holds the Last Will and Testament a client registered at CONNECT
// time, to be published if the connection ends without a clean DISCONNECT.
type Will struct {
	Topic   string
	Payload []byte
	Qos     byte
	Retain  bool
}

// sessionState is the lifecycle of a connection's session.
type sessionState byte

const (
	stateAwaitConnect sessionState = iota
	stateConnected
	stateDisconnecting
	stateClosed
)

// Session holds everything the broker remembers about a client identity
// across possibly-many network connections: its subscriptions, its
// in-flight QoS bookkeeping, and (for persistent sessions) the queue of
// messages that piled up while it was offline.
type Session struct {
	mu sync.RWMutex

	id    string // the client identifier
	clean bool   // true if the session must not survive disconnection

	conn  *Connection // nil while the client is offline
	state sessionState

	inflight *Inflight

	offline     []*queuedMessage
	maxOffline  int
	keepalive   uint16
	lastActive  time.Time
	disconnectedAt time.Time

	will *Will
}

// queuedMessage is a message held for a disconnected persistent session,
// to be delivered once it reconnects.
type queuedMessage struct {
	topic   string
	payload []byte
	qos     byte
	retain  bool
}

// NewSession creates a fresh session for a client identifier.
func NewSession(id string, clean bool, maxOffline int) *Session {
	return &Session{
		id:         id,
		clean:      clean,
		state:      stateAwaitConnect,
		inflight:   NewInflight(),
		maxOffline: maxOffline,
		lastActive: time.Now(),
	}
}

// ID returns the client identifier that owns this session.
func (s *Session) ID() string {
	return s.id
}

// Attach binds a live connection to the session, marking it connected.
func (s *Session) Attach(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = c
	s.state = stateConnected
	s.lastActive = time.Now()
}

// Detach unbinds the connection from the session without deleting any
// session state, used whenever a connection ends; the connection handler
// then deletes clean sessions outright.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = nil
	s.state = stateClosed
	s.disconnectedAt = time.Now()
}

// IsConnected reports whether a live connection currently owns the session.
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

// Connection returns the currently attached connection, if any.
func (s *Session) Connection() *Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// Touch records activity for keep-alive tracking.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// LastActive returns the last time a packet was seen from this session.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// SetWill records the will registered at CONNECT; nil clears it.
func (s *Session) SetWill(w *Will) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.will = w
}

// Will returns the currently registered will, or nil.
func (s *Session) Will() *Will {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.will
}

// Enqueue stores a message for later delivery while the session is
// offline, dropping the oldest entry first if the queue is at capacity.
func (s *Session) Enqueue(topic string, payload []byte, qos byte, retain bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxOffline > 0 && len(s.offline) >= s.maxOffline {
		s.offline = s.offline[1:]
	}
	s.offline = append(s.offline, &queuedMessage{topic: topic, payload: payload, qos: qos, retain: retain})
}

// DrainOffline removes and returns every message queued while offline, in
// the order they were queued.
func (s *Session) DrainOffline() []*queuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.offline
	s.offline = nil
	return q
}

// Inflight returns the session's QoS 1/2 bookkeeping table.
func (s *Session) Inflight() *Inflight {
	return s.inflight
}

// SessionStore tracks every known session keyed by client identifier, and
// handles the session-takeover and persistent-expiry bookkeeping the
// connection handshake and broker housekeeping tasks rely on.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore returns an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: map[string]*Session{}}
}

// CreateOrTakeover returns the session for a client id. If one already
// exists it is returned as-is (the caller is responsible for evicting any
// existing connection - see Connection.takeover); otherwise a new session
// is created and stored.
func (ss *SessionStore) CreateOrTakeover(id string, clean bool, maxOffline int) (sess *Session, existed bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if existing, ok := ss.sessions[id]; ok {
		return existing, true
	}

	sess = NewSession(id, clean, maxOffline)
	ss.sessions[id] = sess
	return sess, false
}

// Get returns the session for a client id, if any.
func (ss *SessionStore) Get(id string) (*Session, bool) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	sess, ok := ss.sessions[id]
	return sess, ok
}

// Delete permanently removes a session, used when a clean session
// disconnects or a persistent session's expiry interval elapses.
func (ss *SessionStore) Delete(id string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.sessions, id)
}

// Len returns the number of sessions currently tracked.
func (ss *SessionStore) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

// ExpireOffline deletes every disconnected, non-clean session whose
// disconnection happened more than ttl ago, returning the ids removed.
// Called periodically by the broker's housekeeping loop.
func (ss *SessionStore) ExpireOffline(ttl time.Duration) []string {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := time.Now()
	var expired []string
	for id, sess := range ss.sessions {
		sess.mu.RLock()
		stale := sess.conn == nil && !sess.disconnectedAt.IsZero() && now.Sub(sess.disconnectedAt) >= ttl
		sess.mu.RUnlock()
		if stale {
			expired = append(expired, id)
			delete(ss.sessions, id)
		}
	}
	return expired
}

// All returns a snapshot slice of every tracked session, for iteration by
// housekeeping tasks such as keep-alive enforcement and QoS retry.
func (ss *SessionStore) All() []*Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	all := make([]*Session, 0, len(ss.sessions))
	for _, sess := range ss.sessions {
		all = append(all, sess)
	}
	return all
}
