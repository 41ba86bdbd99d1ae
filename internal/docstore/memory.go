package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// MemoryStore keeps the document in process, versioned by content hash.
// It backs local development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	content []byte
	version string
	writes  int
}

// NewMemoryStore returns a store seeded with content. Nil content means absent.
func NewMemoryStore(content []byte) *MemoryStore {
	s := &MemoryStore{}
	if content != nil {
		s.content = append([]byte(nil), content...)
		s.version = contentVersion(s.content)
	}
	return s
}

func contentVersion(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Fetch(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Content: append([]byte(nil), s.content...), Version: s.version}, nil
}

func (s *MemoryStore) Write(ctx context.Context, req WriteRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Version != s.version {
		return "", &MismatchError{Expected: req.Version, Current: s.version}
	}
	s.content = append([]byte(nil), req.Content...)
	s.version = contentVersion(s.content)
	s.writes++
	return s.version, nil
}

// Content returns a copy of the stored document.
func (s *MemoryStore) Content() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.content...)
}

// Writes returns how many writes succeeded.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
