// Package history keeps time-bounded observation windows per key.
package history

import (
	"sync"
	"time"
)

// Entry is one timestamped observation.
type Entry[T any] struct {
	At    time.Time
	Value T
}

// Store holds, per key, the observations of the last Window. Entries are
// evicted by age only, never by count.
type Store[T any] struct {
	window time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string][]Entry[T]
}

// New creates a store retaining entries for window.
func New[T any](window time.Duration) *Store[T] {
	return &Store[T]{
		window:  window,
		now:     time.Now,
		entries: make(map[string][]Entry[T]),
	}
}

// Window returns the retention window.
func (s *Store[T]) Window() time.Duration {
	return s.window
}

// Add appends an observation for key and prunes entries older than the window.
// Observations are expected in chronological order per key.
func (s *Store[T]) Add(key string, at time.Time, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = append(s.entries[key], Entry[T]{At: at, Value: value})
	s.pruneLocked(key)
}

// Entries returns a chronological copy of the retained entries for key.
func (s *Store[T]) Entries(key string) []Entry[T] {
	return s.Since(key, time.Time{})
}

// Since returns entries for key observed at or after t, chronologically.
func (s *Store[T]) Since(key string, t time.Time) []Entry[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(key)
	src := s.entries[key]
	out := make([]Entry[T], 0, len(src))
	for _, e := range src {
		if !e.At.Before(t) {
			out = append(out, e)
		}
	}
	return out
}

// Values is Since without the timestamps.
func (s *Store[T]) Values(key string, since time.Time) []T {
	entries := s.Since(key, since)
	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out
}

// Keys returns the keys currently holding entries.
func (s *Store[T]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k, v := range s.entries {
		if len(v) > 0 {
			keys = append(keys, k)
		}
	}
	return keys
}

// Len returns the number of retained entries across all keys.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, v := range s.entries {
		n += len(v)
	}
	return n
}

func (s *Store[T]) pruneLocked(key string) {
	list := s.entries[key]
	cutoff := s.now().Add(-s.window)

	i := 0
	for i < len(list) && list[i].At.Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	if i == len(list) {
		delete(s.entries, key)
		return
	}
	s.entries[key] = append([]Entry[T](nil), list[i:]...)
}
