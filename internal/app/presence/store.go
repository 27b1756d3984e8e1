/*
Package presence implements the live presence engine: the record store, the session
registry, the event hub that serializes every mutation and dispatches broadcasts and
relays, the WebSocket client pumps, and the retention sweeper.
*/
package presence

import (
	"sync"
	"time"

	"geomap/internal/app/user"
)

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

// Store is the authoritative identity -> record mapping.
// Every method takes the lock for a single read or read-modify-write, so readers
// never observe a partially updated record.
type Store struct {
	mu       sync.RWMutex
	records  map[string]user.Record
	revision uint64
	now      Clock
}

// NewStore returns an empty store. A nil clock uses the UTC wall clock.
func NewStore(clock Clock) *Store {
	if clock == nil {
		clock = systemClock
	}
	return &Store{
		records: make(map[string]user.Record),
		now:     clock,
	}
}

// Now returns the store's notion of the current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Upsert creates the record for identity or merges p into the existing one.
// LastSeen is always refreshed. created reports whether the identity was new.
func (s *Store) Upsert(identity string, p user.Patch) (rec user.Record, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upsertLocked(identity, p, nil)
}

// UpsertAttached is Upsert that also points the record at sessionID in the same step.
func (s *Store) UpsertAttached(identity string, p user.Patch, sessionID string) (rec user.Record, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upsertLocked(identity, p, &sessionID)
}

func (s *Store) upsertLocked(identity string, p user.Patch, sessionID *string) (user.Record, bool) {
	now := s.now()

	rec, ok := s.records[identity]
	if !ok {
		rec = user.New(identity, now)
	}
	rec.Apply(p)
	if sessionID != nil {
		rec.SessionID = *sessionID
	}
	rec.LastSeen = now

	s.records[identity] = rec
	s.revision++

	return rec, !ok
}

// Detach clears the session handle of identity if it still points at sessionID and
// refreshes LastSeen. The record itself is kept.
func (s *Store) Detach(identity, sessionID string) (user.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identity]
	if !ok {
		return user.Record{}, false
	}
	if rec.SessionID != sessionID {
		return rec, false
	}

	rec.SessionID = ""
	rec.LastSeen = s.now()
	s.records[identity] = rec
	s.revision++

	return rec, true
}

// Get returns the record for identity.
func (s *Store) Get(identity string) (user.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[identity]
	return rec, ok
}

// Remove deletes the record for identity entirely.
func (s *Store) Remove(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[identity]; !ok {
		return false
	}
	delete(s.records, identity)
	s.revision++
	return true
}

// Inactive returns the identities whose LastSeen is before cutoff, attached or not.
func (s *Store) Inactive(cutoff time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []string
	for identity, rec := range s.records {
		if rec.LastSeen.Before(cutoff) {
			expired = append(expired, identity)
		}
	}
	return expired
}

// All returns a copy of every record, in no particular order.
func (s *Store) All() []user.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]user.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}

// Snapshot returns a copy of every record together with the revision it reflects.
func (s *Store) Snapshot() ([]user.Record, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]user.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, s.revision
}

// Restore replaces the store contents with records loaded from a snapshot.
// Restored records are detached; later duplicates of an identity overwrite earlier ones.
func (s *Store) Restore(records []user.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]user.Record, len(records))
	for _, rec := range records {
		if rec.Username == "" {
			continue
		}
		rec.SessionID = ""
		s.records[rec.Username] = rec
	}
	s.revision++
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Revision increases on every mutation.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}
