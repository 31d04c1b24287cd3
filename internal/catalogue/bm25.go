package catalogue

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// bleveDocument is the document shape indexed for each catalogue entry.
type bleveDocument struct {
	Text string `json:"text"`
}

// BleveLexicalIndex implements Lexical using bleve's BM25-scored index,
// built once over CatalogueEntry.SearchableText at load time (index
// construction itself is out of the core's scope; this wraps a
// precomputed bleve index directory for read-only querying, and also
// supports building one from scratch for tests/fixtures).
type BleveLexicalIndex struct {
	mu    sync.RWMutex
	index bleve.Index
}

// OpenBleveLexicalIndex opens a precomputed bleve index directory
// read-only for querying by the retriever.
func OpenBleveLexicalIndex(path string) (*BleveLexicalIndex, error) {
	idx, err := bleve.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bleve index %s: %w", path, err)
	}
	return &BleveLexicalIndex{index: idx}, nil
}

// BuildBleveLexicalIndex constructs a fresh bleve index over the given
// uuid->searchable-text pairs, persisting it at path (or in-memory if
// path is empty). Used by the index-build tooling (external to the core)
// and by tests.
func BuildBleveLexicalIndex(path string, docs map[string]string) (*BleveLexicalIndex, error) {
	m := buildIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		if _, statErr := os.Stat(path); statErr == nil {
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, fmt.Errorf("remove stale bleve index: %w", rmErr)
			}
		}
		idx, err = bleve.New(path, m)
	}
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}

	batch := idx.NewBatch()
	for uuid, text := range docs {
		if err := batch.Index(uuid, bleveDocument{Text: text}); err != nil {
			return nil, fmt.Errorf("index %s: %w", uuid, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return nil, fmt.Errorf("commit bleve batch: %w", err)
	}

	return &BleveLexicalIndex{index: idx}, nil
}

func buildIndexMapping() *mapping.IndexMappingImpl {
	m := bleve.NewIndexMapping()
	m.DefaultAnalyzer = "standard"
	return m
}

// Search implements Lexical by tokenising the query terms into a single
// bleve match query and returning the top k hits with BM25 scores.
func (idx *BleveLexicalIndex) Search(ctx context.Context, terms []string, k int) ([]BM25Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(terms) == 0 || k <= 0 {
		return nil, nil
	}

	query := bleve.NewMatchQuery(strings.Join(terms, " "))
	query.SetField("text")

	req := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := idx.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	out := make([]BM25Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, BM25Result{UUID: hit.ID, Score: hit.Score})
	}
	return out, nil
}

// Close releases the underlying bleve index.
func (idx *BleveLexicalIndex) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.index.Close()
}
