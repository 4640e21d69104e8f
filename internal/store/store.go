// Package store holds the authoritative per-slot status snapshot shared by
// the poll loop, the notification listener and the render worker.
package store

import (
	"sync"

	"boxdisplay/internal/model"
)

// Store is a mutex-guarded slot -> record map. The lock is held only for the
// map assignment or copy, never across rendering or I/O.
type Store struct {
	mu      sync.Mutex
	records model.Snapshot
	version uint64
}

// New returns a store with every known slot set to empty.
func New() *Store {
	s := &Store{records: make(model.Snapshot, len(model.Slots))}
	for _, id := range model.Slots {
		s.records[id] = model.Empty()
	}
	return s
}

// Merge replaces the record for id. Last write wins per slot.
func (s *Store) Merge(id model.SlotID, rec model.Record) {
	s.mu.Lock()
	s.records[id] = rec
	s.version++
	s.mu.Unlock()
}

// Seed merges every entry of snap, e.g. the full fetch done at boot.
func (s *Store) Seed(snap model.Snapshot) {
	s.mu.Lock()
	for id, rec := range snap {
		s.records[id] = rec
	}
	s.version++
	s.mu.Unlock()
}

// ReadAll returns a copy of all records that the caller owns.
func (s *Store) ReadAll() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records.Clone()
}

// Version counts applied merges. It only ever grows.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}
