package tle

import (
	"sync/atomic"
	"time"
)

// Store holds the snapshot currently served by the process.
// Reads are lock-free; Set replaces the snapshot wholesale.
type Store struct {
	snapshot atomic.Pointer[Snapshot]
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current snapshot, or nil if none has been loaded.
func (s *Store) Get() *Snapshot {
	return s.snapshot.Load()
}

// Set replaces the current snapshot.
func (s *Store) Set(snap *Snapshot) {
	s.snapshot.Store(snap)
}

// AgeSeconds returns the age of the current snapshot in seconds, or -1 if
// none is loaded.
func (s *Store) AgeSeconds() float64 {
	snap := s.snapshot.Load()
	if snap == nil {
		return -1
	}
	return time.Since(snap.DownloadedAt).Seconds()
}
