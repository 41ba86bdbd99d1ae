package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"locbot/internal/docstore"
	"locbot/internal/models"
)

// RacingStore wraps a MemoryStore and lands a competing append right before
// each of the next Races writes, so those writes lose on version.
type RacingStore struct {
	*docstore.MemoryStore

	mu     sync.Mutex
	races  int
	writes int
}

// NewRacingStore creates a store that loses the next races writes.
func NewRacingStore(seed []byte, races int) *RacingStore {
	return &RacingStore{MemoryStore: docstore.NewMemoryStore(seed), races: races}
}

// Write injects a competitor write when a race is due, then delegates.
func (s *RacingStore) Write(ctx context.Context, req docstore.WriteRequest) (string, error) {
	s.mu.Lock()
	s.writes++
	race := s.races > 0
	if race {
		s.races--
	}
	n := s.writes
	s.mu.Unlock()

	if race {
		if err := s.competitor(ctx, n); err != nil {
			return "", err
		}
	}
	return s.MemoryStore.Write(ctx, req)
}

// WriteCalls counts Write invocations, lost ones included.
func (s *RacingStore) WriteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *RacingStore) competitor(ctx context.Context, n int) error {
	snap, err := s.MemoryStore.Fetch(ctx)
	if err != nil {
		return err
	}
	doc, err := models.DecodeDocument(snap.Content)
	if err != nil {
		return err
	}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := doc.Append(models.Location{
		ID: fmt.Sprintf("loc_competitor_%d", n), Name: "Competitor", Lat: 14, Lon: -87,
		Country: "HN", Approved: true, ApprovedAt: at, AddedAt: at,
	}); err != nil {
		return err
	}
	doc.Recompute(at)
	content, err := doc.Encode()
	if err != nil {
		return err
	}
	_, err = s.MemoryStore.Write(ctx, docstore.WriteRequest{Content: content, Version: snap.Version})
	return err
}
