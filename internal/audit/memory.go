package audit

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps chains in process. It backs tests and single-node dev runs.
type MemoryStore struct {
	mu     sync.Mutex
	chains map[uuid.UUID][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chains: make(map[uuid.UUID][]Entry)}
}

func (s *MemoryStore) AppendEntry(ctx context.Context, tenantID uuid.UUID, build func(Tail) (Entry, error)) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tail := Tail{Hash: GenesisHash}
	if chain := s.chains[tenantID]; len(chain) > 0 {
		last := chain[len(chain)-1]
		tail = Tail{Hash: last.CurrentHash, CreatedAt: last.CreatedAt}
	}
	entry, err := build(tail)
	if err != nil {
		return Entry{}, err
	}
	s.chains[tenantID] = append(s.chains[tenantID], cloneEntry(entry))
	return entry, nil
}

func (s *MemoryStore) Entries(ctx context.Context, tenantID uuid.UUID) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.chains[tenantID]))
	for _, e := range s.chains[tenantID] {
		out = append(out, cloneEntry(e))
	}
	slices.SortStableFunc(out, func(a, b Entry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Tamper rewrites a stored entry in place. Only tests should need it.
func (s *MemoryStore) Tamper(tenantID uuid.UUID, entryID string, mutate func(*Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.chains[tenantID] {
		if s.chains[tenantID][i].ID == entryID {
			mutate(&s.chains[tenantID][i])
			return true
		}
	}
	return false
}

func cloneEntry(e Entry) Entry {
	e.Payload = slices.Clone(e.Payload)
	e.CreatedAt = e.CreatedAt.UTC()
	return e
}

var _ Store = (*MemoryStore)(nil)
