// Package catalogue provides read-only access to the ecoinvent reference
// dataset (C2): per-UUID lookup, BM25 lexical search, and vector semantic
// search over precomputed artifacts. The catalogue is process-wide shared
// state, loaded once at startup and never mutated afterward.
package catalogue

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ghgmatch/core/internal/domain"
)

// BM25Result is one lexical search hit.
type BM25Result struct {
	UUID  string
	Score float64
}

// VectorResult is one semantic search hit.
type VectorResult struct {
	UUID  string
	Score float32
}

// Lexical performs BM25 keyword search over searchable catalogue entries.
type Lexical interface {
	Search(ctx context.Context, terms []string, k int) ([]BM25Result, error)
}

// Semantic performs cosine-similarity vector search over searchable
// catalogue entries.
type Semantic interface {
	Search(ctx context.Context, embedding []float32, k int) ([]VectorResult, error)
}

// Store is the C2 read-only interface consumed by the retriever and
// orchestrator. All methods must be safe for concurrent use by many
// worker goroutines. Entries live in memory once loaded, so there is no
// database handle to share: the entry map is guarded by mu and the LRU
// cache is itself safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	byUUID   map[string]*domain.CatalogueEntry
	order    []string // stable iteration order for all_searchable
	lexical  Lexical
	semantic Semantic
	cache    *lru.Cache[string, *domain.CatalogueEntry]
}

// New builds a Store from a fully loaded set of entries plus the lexical
// and semantic indices built over them. The caller is responsible for
// constructing entries/lexical/semantic from the precomputed artifacts
// (index construction itself is handled by separate offline tooling).
func New(entries []*domain.CatalogueEntry, lexical Lexical, semantic Semantic) (*Store, error) {
	cache, err := lru.New[string, *domain.CatalogueEntry](4096)
	if err != nil {
		return nil, fmt.Errorf("create catalogue cache: %w", err)
	}

	s := &Store{
		byUUID:   make(map[string]*domain.CatalogueEntry, len(entries)),
		order:    make([]string, 0, len(entries)),
		lexical:  lexical,
		semantic: semantic,
		cache:    cache,
	}

	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.UUID]; dup {
			return nil, fmt.Errorf("duplicate catalogue uuid %q", e.UUID)
		}
		seen[e.UUID] = struct{}{}
		if !e.IsMarket {
			s.order = append(s.order, e.UUID)
		}
		s.byUUID[e.UUID] = e
	}

	return s, nil
}

// ByUUID looks up a catalogue entry, or (nil, false) if absent.
func (s *Store) ByUUID(uuid string) (*domain.CatalogueEntry, bool) {
	if e, ok := s.cache.Get(uuid); ok {
		return e, true
	}

	s.mu.RLock()
	e, ok := s.byUUID[uuid]
	s.mu.RUnlock()
	if ok {
		s.cache.Add(uuid, e)
	}
	return e, ok
}

// LexicalSearch runs BM25 retrieval over searchable entries.
func (s *Store) LexicalSearch(ctx context.Context, terms []string, k int) ([]BM25Result, error) {
	return s.lexical.Search(ctx, terms, k)
}

// VectorSearch runs cosine-similarity retrieval over searchable entries.
func (s *Store) VectorSearch(ctx context.Context, embedding []float32, k int) ([]VectorResult, error) {
	return s.semantic.Search(ctx, embedding, k)
}

// AllSearchable returns every non-market entry, in stable load order.
func (s *Store) AllSearchable() []*domain.CatalogueEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.CatalogueEntry, 0, len(s.order))
	for _, uuid := range s.order {
		out = append(out, s.byUUID[uuid])
	}
	return out
}

// Len returns the total number of loaded entries (market + searchable).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUUID)
}
