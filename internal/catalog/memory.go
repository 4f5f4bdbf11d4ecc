package catalog

import (
	"context"
	"slices"
	"sync"

	"github.com/JonMunkholm/DbChat/internal/schema"
)

// MemoryStore keeps the catalog in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	els    []schema.Element
}

// NewMemoryStore returns a store pre-filled with els. Elements without an ID
// are assigned one.
func NewMemoryStore(els ...schema.Element) *MemoryStore {
	s := &MemoryStore{}
	_, _ = s.Seed(context.Background(), els)
	return s
}

func (s *MemoryStore) MissingEmbeddings(ctx context.Context) ([]schema.Element, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []schema.Element
	for _, el := range s.ordered() {
		if el.Embedding == nil {
			out = append(out, el)
		}
	}
	return out, nil
}

func (s *MemoryStore) PersistEmbedding(ctx context.Context, el schema.Element, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.els {
		if s.els[i].ID == el.ID {
			s.els[i].Embedding = slices.Clone(vec)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) AllElements(ctx context.Context) ([]schema.Element, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ordered(), nil
}

func (s *MemoryStore) Counts(ctx context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Counts
	for _, el := range s.els {
		embedded := el.Embedding != nil
		switch el.Type {
		case schema.TableElement:
			c.Tables++
			if embedded {
				c.EmbeddedTables++
			}
		case schema.ColumnElement:
			c.Columns++
			if embedded {
				c.EmbeddedCols++
			}
		}
	}
	return c, nil
}

func (s *MemoryStore) Seed(ctx context.Context, els []schema.Element) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(s.els))
	ids := make(map[int64]bool, len(s.els))
	for _, el := range s.els {
		seen[seedKey(el)] = true
		ids[el.ID] = true
	}
	// Auto-assigned ids start above every id supplied by the caller.
	for _, el := range els {
		s.nextID = max(s.nextID, el.ID)
	}

	added := 0
	for _, el := range els {
		if seen[seedKey(el)] {
			continue
		}
		if el.ID == 0 || ids[el.ID] {
			s.nextID++
			el.ID = s.nextID
		}
		ids[el.ID] = true
		el.Embedding = slices.Clone(el.Embedding)
		s.els = append(s.els, el)
		seen[seedKey(el)] = true
		added++
	}
	return added, nil
}

func (s *MemoryStore) Close() error { return nil }

// ordered returns copies with tables before columns. Callers hold the lock.
func (s *MemoryStore) ordered() []schema.Element {
	out := make([]schema.Element, 0, len(s.els))
	for _, t := range []schema.ElementType{schema.TableElement, schema.ColumnElement} {
		for _, el := range s.els {
			if el.Type == t {
				el.Embedding = slices.Clone(el.Embedding)
				out = append(out, el)
			}
		}
	}
	return out
}

func seedKey(el schema.Element) string {
	return el.Type.String() + ":" + el.Key()
}
