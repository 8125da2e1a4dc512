// Package metadata implements a thread-safe two-level key/value store.
//
// A Store maps unique IDs to buckets, and each bucket maps string keys to
// string values. Every exported method holds a single store-wide mutex for
// its full duration, reads included. That gives up read parallelism in
// exchange for one simple invariant: an ID and its bucket are always
// observed together.
package metadata

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

var (
	ErrAlreadyExists  = errors.New("already exists")
	ErrNotFound       = errors.New("not found")
	ErrMalformedInput = errors.New("malformed input")
)

// bucket holds the key/value pairs owned by a single ID.
type bucket map[string]string

// Store is a thread-safe mapping of ID -> key -> value.
// The zero value is an empty store ready for use.
type Store struct {
	mu      sync.Mutex
	buckets map[string]bucket
}

// New creates an empty store.
func New() *Store {
	return &Store{buckets: make(map[string]bucket)}
}

// bucketFor returns the bucket for id. With create set, a missing ID is
// created as an empty bucket first. Callers must hold s.mu.
func (s *Store) bucketFor(id string, create bool) bucket {
	b, ok := s.buckets[id]
	if !ok && create {
		if s.buckets == nil {
			s.buckets = make(map[string]bucket)
		}
		b = make(bucket)
		s.buckets[id] = b
	}
	return b
}

// Exists reports whether id is present.
func (s *Store) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[id]
	return ok
}

// KeyExists reports whether id is present and its bucket contains key.
func (s *Store) KeyExists(id, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bucketFor(id, false)[key]
	return ok
}

// CreateID adds an empty bucket for id.
func (s *Store) CreateID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[id]; ok {
		return fmt.Errorf("create id %q: %w", id, ErrAlreadyExists)
	}
	s.bucketFor(id, true)
	return nil
}

// CreateKey inserts key=value into the bucket for id, creating the ID if
// it does not exist yet. It fails if the key is already present.
//
// An ID created here stays in place even when the insert fails, so a failed
// CreateKey can leave behind an empty bucket.
func (s *Store) CreateKey(id, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucketFor(id, true)
	if _, ok := b[key]; ok {
		return fmt.Errorf("create key %q in %q: %w", key, id, ErrAlreadyExists)
	}
	b[key] = value
	return nil
}

// IDs returns a sorted copy of every ID in the store.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.buckets))
}

// Keys returns a sorted copy of the keys stored under id.
func (s *Store) Keys(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[id]
	if !ok {
		return nil, fmt.Errorf("list keys of %q: %w", id, ErrNotFound)
	}
	return slices.Sorted(maps.Keys(b)), nil
}

// Bucket returns a copy of every key/value pair stored under id.
func (s *Store) Bucket(id string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[id]
	if !ok {
		return nil, fmt.Errorf("read %q: %w", id, ErrNotFound)
	}
	out := make(map[string]string, len(b))
	maps.Copy(out, b)
	return out, nil
}

// Value returns the value stored at id/key.
func (s *Store) Value(id, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[id]
	if !ok {
		return "", fmt.Errorf("read %q/%q: id %w", id, key, ErrNotFound)
	}
	v, ok := b[key]
	if !ok {
		return "", fmt.Errorf("read %q/%q: key %w", id, key, ErrNotFound)
	}
	return v, nil
}

// DeleteID removes id and its whole bucket. Missing IDs are ignored.
func (s *Store) DeleteID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, id)
}

// DeleteKey removes key from the bucket for id. Missing IDs and keys are ignored.
func (s *Store) DeleteKey(id, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bucketFor(id, false), key)
}

// Upsert sets id/key to value, creating the ID and the key as needed.
func (s *Store) Upsert(id, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucketFor(id, true)
	b[key] = value
}

// Len returns the number of IDs in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Snapshot returns a deep copy of the whole store.
func (s *Store) Snapshot() map[string]map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]string, len(s.buckets))
	for id, b := range s.buckets {
		kv := make(map[string]string, len(b))
		maps.Copy(kv, b)
		out[id] = kv
	}
	return out
}

// Restore replaces the contents of the store with a copy of data.
func (s *Store) Restore(data map[string]map[string]string) {
	buckets := make(map[string]bucket, len(data))
	for id, kv := range data {
		b := make(bucket, len(kv))
		maps.Copy(b, kv)
		buckets[id] = b
	}
	s.mu.Lock()
	s.buckets = buckets
	s.mu.Unlock()
}
