package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ghgmatch/core/internal/catalogue"
	"github.com/ghgmatch/core/internal/domain"
	"github.com/ghgmatch/core/internal/normalize"
)

// Embedder turns a query string into the vector space the semantic index
// was built over. It is supplied by the caller (a local sentence encoder or
// a remote embedding endpoint) so the retriever stays decoupled from any
// particular model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const (
	defaultRRFK  = 60
	defaultPool  = 100
	regionExact  = 0
	regionGLO    = 1
	regionRoW    = 2
	regionOther  = 3
)

// Retriever runs C3: for a normalised input row, fetch a pool of lexical and
// semantic hits, fuse them with Reciprocal Rank Fusion, re-rank by region
// and partition by unit preference, then truncate to the top_k candidates
// handed to the oracle.
type Retriever struct {
	store    *catalogue.Store
	embedder Embedder
	rrfK     int
	pool     int
	topK     int
}

// New builds a Retriever. rrfK, pool and topK of 0 fall back to the
// defaults (rrf_k=60, pool=100, top_k=20).
func New(store *catalogue.Store, embedder Embedder, rrfK, pool, topK int) *Retriever {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}
	if pool <= 0 {
		pool = defaultPool
	}
	if topK <= 0 {
		topK = 20
	}
	return &Retriever{store: store, embedder: embedder, rrfK: rrfK, pool: pool, topK: topK}
}

// Retrieve returns the ranked candidate set for one normalised input row.
func (r *Retriever) Retrieve(ctx context.Context, row domain.InputRow) (domain.CandidateSet, error) {
	query := buildQuery(row)

	terms := strings.Fields(query)
	var bm25Results []catalogue.BM25Result
	var lexicalErr error
	lexicalDone := make(chan struct{})
	go func() {
		defer close(lexicalDone)
		bm25Results, lexicalErr = r.store.LexicalSearch(ctx, terms, r.pool)
	}()

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vecResults, err := r.store.VectorSearch(ctx, embedding, r.pool)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	<-lexicalDone
	if lexicalErr != nil {
		return nil, fmt.Errorf("lexical search: %w", lexicalErr)
	}

	fusedHits := rrfFuse(bm25Results, vecResults, r.rrfK)

	candidates := make([]rankedCandidate, 0, len(fusedHits))
	for _, f := range fusedHits {
		entry, ok := r.store.ByUUID(f.uuid)
		if !ok || entry.IsMarket {
			continue
		}
		candidates = append(candidates, rankedCandidate{entry: entry, fused: f})
	}

	candidates = reRankByRegion(candidates, row.RegionNorm)
	candidates = partitionByUnit(candidates, row.UnitNorm)

	if len(candidates) > r.topK {
		candidates = candidates[:r.topK]
	}

	out := make(domain.CandidateSet, 0, len(candidates))
	for i, c := range candidates {
		out = append(out, domain.Candidate{
			UUID:         c.entry.UUID,
			ActivityName: c.entry.ActivityName,
			ProductName:  c.entry.ProductName,
			Geography:    c.entry.Geography,
			Unit:         c.entry.Unit,
			Rank:         i + 1,
			Rationale:    rationale(c),
		})
	}
	return out, nil
}

// rankedCandidate threads the fusion signal and region/unit re-rank state
// alongside its resolved catalogue entry.
type rankedCandidate struct {
	entry *domain.CatalogueEntry
	fused fused
}

// buildQuery assembles the text handed to both retrieval backends:
// normalised activity description, product info, and a scope hint that
// biases recall without ever surfacing to the user or affecting
// calculation.
func buildQuery(row domain.InputRow) string {
	parts := []string{row.BezeichnungNorm}
	if row.ProduktinfoNorm != "" {
		parts = append(parts, row.ProduktinfoNorm)
	}
	if hint := normalize.ScopeHint(row.Scope); hint != "" {
		parts = append(parts, hint)
	}
	return strings.Join(parts, " ")
}

// reRankByRegion stable-sorts candidates by region priority: exact region
// match first, then GLO, then RoW, then everything else — the fusion order
// is preserved within each priority band since sort.SliceStable only
// reorders across bands.
func reRankByRegion(candidates []rankedCandidate, regionNorm string) []rankedCandidate {
	priority := func(c rankedCandidate) int {
		switch {
		case strings.EqualFold(c.entry.Geography, regionNorm):
			return regionExact
		case strings.EqualFold(c.entry.Geography, "GLO"):
			return regionGLO
		case strings.EqualFold(c.entry.Geography, "RoW"):
			return regionRoW
		default:
			return regionOther
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return priority(candidates[i]) < priority(candidates[j])
	})
	return candidates
}

// partitionByUnit stable-partitions candidates so unit-matching entries
// come first, preserving the region-priority order established above
// within each partition.
func partitionByUnit(candidates []rankedCandidate, unitNorm string) []rankedCandidate {
	matching := make([]rankedCandidate, 0, len(candidates))
	rest := make([]rankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		if strings.EqualFold(c.entry.Unit, unitNorm) {
			matching = append(matching, c)
		} else {
			rest = append(rest, c)
		}
	}
	return append(matching, rest...)
}

// rationale renders a short human-readable explanation of why a candidate
// was surfaced, for audit trails and ambiguous-row review UIs.
func rationale(c rankedCandidate) string {
	var signal string
	switch {
	case c.fused.inBothLists:
		signal = "lexical+semantic match"
	case c.fused.bm25Rank > 0:
		signal = "lexical match"
	default:
		signal = "semantic match"
	}
	return fmt.Sprintf("%s, rrf_score=%.4f", signal, c.fused.score)
}
