// Package memory provides an in-process binding store for tests and
// single-instance deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"keybind/internal/license"
)

// Store keeps binding records in a map.
type Store struct {
	mu      sync.RWMutex
	records map[string]license.Record
}

// New returns a Store seeded with records.
func New(records ...license.Record) *Store {
	s := &Store{records: make(map[string]license.Record, len(records))}
	for _, rec := range records {
		s.records[rec.Key] = rec
	}
	return s
}

// Get returns the record for key.
func (s *Store) Get(ctx context.Context, key string) (license.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return license.Record{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	return rec, ok, nil
}

// Set binds an unbound key.
func (s *Store) Set(ctx context.Context, key, boundDevice string, boundAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return license.ErrNotFound
	}
	if rec.IsBound() {
		return license.ErrAlreadyBound
	}
	rec.BoundDevice = boundDevice
	rec.BoundAt = boundAt
	s.records[key] = rec
	return nil
}

// Provision adds an unbound record for key.
func (s *Store) Provision(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; ok {
		return license.ErrKeyExists
	}
	s.records[key] = license.Record{Key: key}
	return nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
