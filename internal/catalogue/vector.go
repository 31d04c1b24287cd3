package catalogue

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWSemanticIndex implements Semantic using coder/hnsw, a pure-Go HNSW
// approximate nearest neighbour graph — adapted from the reference
// indexer's vector store, keyed by catalogue UUID instead of chunk ID.
type HNSWSemanticIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dims  int

	idToKey map[string]uint64
	keyToID map[uint64]string
	nextKey uint64
}

// NewHNSWSemanticIndex creates an empty graph with the given embedding
// dimensionality (384 for the multilingual sentence encoder, per §4.3).
func NewHNSWSemanticIndex(dims int) *HNSWSemanticIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &HNSWSemanticIndex{
		graph:   graph,
		dims:    dims,
		idToKey: make(map[string]uint64),
		keyToID: make(map[uint64]string),
	}
}

// Add inserts (or replaces) the embedding for a catalogue UUID. Replacement
// uses lazy deletion — the stale node stays in the graph but is orphaned
// from the ID maps — matching the reference store's approach, since
// coder/hnsw does not support safe node removal once the graph is built.
func (s *HNSWSemanticIndex) Add(uuid string, embedding []float32) error {
	if len(embedding) != s.dims {
		return fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.dims, len(embedding))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if oldKey, exists := s.idToKey[uuid]; exists {
		delete(s.keyToID, oldKey)
	}

	key := s.nextKey
	s.nextKey++

	vec := normalise(embedding)
	s.graph.Add(hnsw.MakeNode(key, vec))

	s.idToKey[uuid] = key
	s.keyToID[key] = uuid
	return nil
}

// Search implements Semantic: cosine nearest-neighbour lookup of the top k
// catalogue UUIDs to the query embedding.
func (s *HNSWSemanticIndex) Search(ctx context.Context, embedding []float32, k int) ([]VectorResult, error) {
	if len(embedding) != s.dims {
		return nil, fmt.Errorf("query embedding dimension mismatch: expected %d, got %d", s.dims, len(embedding))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.graph.Len() == 0 || k <= 0 {
		return []VectorResult{}, nil
	}

	query := normalise(embedding)
	nodes := s.graph.Search(query, k)

	out := make([]VectorResult, 0, len(nodes))
	for _, node := range nodes {
		uuid, ok := s.keyToID[node.Key]
		if !ok {
			continue // orphaned by a lazy-deleted replacement
		}
		distance := s.graph.Distance(query, node.Value)
		out = append(out, VectorResult{UUID: uuid, Score: 1 - distance})
	}
	return out, nil
}

// Len returns the number of live (non-orphaned) vectors.
func (s *HNSWSemanticIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idToKey)
}

// hnswMetadata is the gob-encoded sidecar next to the graph's own binary
// export, carrying the UUID<->key mapping the graph format has no room for.
type hnswMetadata struct {
	IDToKey map[string]uint64
	NextKey uint64
	Dims    int
}

// Save persists the graph plus its UUID mapping at path (graph) and
// path+".meta" (mapping), mirroring the reference vector store's two-file
// layout.
func (s *HNSWSemanticIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create hnsw index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		return fmt.Errorf("export hnsw graph: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close hnsw index file: %w", err)
	}

	metaFile, err := os.Create(path + ".meta")
	if err != nil {
		return fmt.Errorf("create hnsw metadata file: %w", err)
	}
	defer metaFile.Close()
	meta := hnswMetadata{IDToKey: s.idToKey, NextKey: s.nextKey, Dims: s.dims}
	if err := gob.NewEncoder(metaFile).Encode(meta); err != nil {
		return fmt.Errorf("encode hnsw metadata: %w", err)
	}
	return nil
}

// LoadHNSWSemanticIndex loads a graph and its UUID mapping previously
// written by Save.
func LoadHNSWSemanticIndex(path string) (*HNSWSemanticIndex, error) {
	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return nil, fmt.Errorf("open hnsw metadata file: %w", err)
	}
	defer metaFile.Close()

	var meta hnswMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode hnsw metadata: %w", err)
	}

	s := NewHNSWSemanticIndex(meta.Dims)
	s.idToKey = meta.IDToKey
	s.nextKey = meta.NextKey
	s.keyToID = make(map[uint64]string, len(meta.IDToKey))
	for uuid, key := range meta.IDToKey {
		s.keyToID[key] = uuid
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open hnsw index file: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	if err := s.graph.Import(reader); err != nil {
		return nil, fmt.Errorf("import hnsw graph: %w", err)
	}
	return s, nil
}

// normalise returns v scaled to unit length for cosine search.
func normalise(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * invMagnitude
	}
	return out
}
