package service

import "sync"

// Store holds the latest published snapshot of one concern. It is written
// exclusively by the Refresh Coordinator and read by everything else;
// this single-writer rule is what makes ordering-token rejection
// sufficient without further locking in consumers.
//
// Values are immutable once published: a change is always a new pointer.
type Store[T any] struct {
	mu      sync.RWMutex
	latest  *T
	lastSeq uint64
}

// NewStore creates an empty store. It stays empty until the first
// successful publish.
func NewStore[T any]() *Store[T] {
	return &Store[T]{}
}

// Publish applies value only if its ordering token is newer than the last
// applied one. Returns false when the value is stale and was discarded.
func (s *Store[T]) Publish(value *T, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq <= s.lastSeq {
		return false
	}
	s.latest = value
	s.lastSeq = seq
	return true
}

// Latest returns the current snapshot, or nil before first population.
func (s *Store[T]) Latest() *T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// LastSeq returns the ordering token of the current snapshot.
func (s *Store[T]) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}

// Clear discards the snapshot on sign-out. The sequence floor is kept so
// an in-flight result from before the clear still loses the publish race.
func (s *Store[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = nil
}
