// Package store persists the kiosk's session identity (cart ID plus the
// ephemeral customer-session pair) and notifies in-process observers of
// every change. All mutation goes through Set/SetSession/Clear; nothing
// else writes the state file.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Key names a persisted field.
type Key string

const (
	KeyCartID    Key = "cart_id"
	KeySessionID Key = "session_id"
	KeyAuthToken Key = "auth_token"
)

// Listener receives a key and its new value ("" when cleared).
type Listener func(key Key, value string)

// Session is a point-in-time snapshot of the persisted fields.
type Session struct {
	CartID    string `json:"cart_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	AuthToken string `json:"auth_token,omitempty"`
}

type subscriber struct {
	id string
	fn Listener
}

// SessionStore is a durable key/value store for the three session fields.
// Writes go through to the state file before memory is updated; if the file
// write fails neither memory nor subscribers see the change.
type SessionStore struct {
	path string

	mu   sync.Mutex
	cur  Session
	subs []subscriber
}

// Open loads (or initializes) the store at path.
func Open(path string) (*SessionStore, error) {
	s := &SessionStore{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if err := json.Unmarshal(data, &s.cur); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	return s, nil
}

// Get returns the stored value for key and whether it is set.
func (s *SessionStore) Get(key Key) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.cur.field(key)
	return v, v != ""
}

// Snapshot returns a copy of all persisted fields.
func (s *SessionStore) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Set writes one field. Subscribers are notified synchronously before Set
// returns, so a successful Set guarantees read-your-write for in-process
// observers.
func (s *SessionStore) Set(key Key, value string) error {
	s.mu.Lock()
	next := s.cur
	next.setField(key, value)
	if err := s.persist(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cur = next
	subs := s.snapshotSubs()
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(key, value)
	}
	return nil
}

// SetSession writes the session ID and auth token as one durable write.
// Observers never see one set without the other: both fields are in memory
// before the first notification goes out.
func (s *SessionStore) SetSession(sessionID, token string) error {
	s.mu.Lock()
	next := s.cur
	next.SessionID = sessionID
	next.AuthToken = token
	if err := s.persist(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cur = next
	subs := s.snapshotSubs()
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(KeySessionID, sessionID)
		sub.fn(KeyAuthToken, token)
	}
	return nil
}

// Clear removes the given keys. Like SetSession, the memory update is
// atomic across all keys before any notification.
func (s *SessionStore) Clear(keys ...Key) error {
	s.mu.Lock()
	next := s.cur
	for _, k := range keys {
		next.setField(k, "")
	}
	if err := s.persist(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cur = next
	subs := s.snapshotSubs()
	s.mu.Unlock()

	for _, sub := range subs {
		for _, k := range keys {
			sub.fn(k, "")
		}
	}
	return nil
}

// Subscribe registers a listener for all subsequent changes. The returned
// function unregisters it; after it returns the listener is never invoked
// again.
func (s *SessionStore) Subscribe(fn Listener) (unsubscribe func()) {
	id := uuid.NewString()

	s.mu.Lock()
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// persist writes the candidate state to disk. Called with s.mu held.
func (s *SessionStore) persist(next Session) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// snapshotSubs copies the subscriber list for notification outside the lock.
// Called with s.mu held.
func (s *SessionStore) snapshotSubs() []subscriber {
	out := make([]subscriber, len(s.subs))
	copy(out, s.subs)
	return out
}

func (sess *Session) field(key Key) string {
	switch key {
	case KeyCartID:
		return sess.CartID
	case KeySessionID:
		return sess.SessionID
	case KeyAuthToken:
		return sess.AuthToken
	}
	return ""
}

func (sess *Session) setField(key Key, value string) {
	switch key {
	case KeyCartID:
		sess.CartID = value
	case KeySessionID:
		sess.SessionID = value
	case KeyAuthToken:
		sess.AuthToken = value
	}
}
