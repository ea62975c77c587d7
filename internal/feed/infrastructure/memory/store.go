package memory

import (
	"context"
	"sort"
	"sync"

	feed "home-manager/internal/feed/domain"
)

// Store is an in-memory feed for demo/testing.
type Store struct {
	mu      sync.RWMutex
	entries []feed.Entry
	byID    map[string]int
}

// NewStore constructs an empty feed.
func NewStore() *Store {
	return &Store{byID: make(map[string]int)}
}

// Append assigns the next sequence number. A repeated id returns the stored entry.
func (s *Store) Append(ctx context.Context, entry feed.Entry) (feed.Entry, error) {
	if err := ctx.Err(); err != nil {
		return feed.Entry{}, err
	}
	if err := entry.Validate(); err != nil {
		return feed.Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byID[entry.ID]; ok {
		return s.entries[idx], nil
	}
	entry.Seq = int64(len(s.entries)) + 1
	s.byID[entry.ID] = len(s.entries)
	s.entries = append(s.entries, entry)
	return entry, nil
}

// List returns up to limit entries with Seq greater than afterSeq.
func (s *Store) List(ctx context.Context, afterSeq int64, limit int) ([]feed.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].Seq > afterSeq })
	end := len(s.entries)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	result := make([]feed.Entry, end-start)
	copy(result, s.entries[start:end])
	return result, nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
