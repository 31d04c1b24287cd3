// Package retrieval implements C3: hybrid BM25 + embedding candidate
// retrieval, combined via Reciprocal Rank Fusion, then re-ranked by region
// and partitioned by unit preference.
package retrieval

import (
	"sort"

	"github.com/ghgmatch/core/internal/catalogue"
)

// fused is one uuid's combined ranking signal before the catalogue lookup
// that turns it into a domain.Candidate.
type fused struct {
	uuid        string
	score       float64
	bm25Score   float64
	bm25Rank    int
	vecRank     int
	inBothLists bool
}

// rrfFuse combines lexical and semantic result lists using Reciprocal Rank
// Fusion: score(uuid) = 1/(k+r1) + 1/(k+r2), ranks 1-indexed,
// a missing rank simply omits that list's term. Ties break by lower
// best-rank, then by uuid, for determinism (spec testable property #6).
func rrfFuse(bm25 []catalogue.BM25Result, vec []catalogue.VectorResult, k int) []fused {
	byUUID := make(map[string]*fused, len(bm25)+len(vec))

	get := func(uuid string) *fused {
		f, ok := byUUID[uuid]
		if !ok {
			f = &fused{uuid: uuid}
			byUUID[uuid] = f
		}
		return f
	}

	for i, r := range bm25 {
		f := get(r.UUID)
		f.bm25Rank = i + 1
		f.bm25Score = r.Score
		f.score += 1.0 / float64(k+i+1)
	}
	for i, r := range vec {
		f := get(r.UUID)
		f.vecRank = i + 1
		f.score += 1.0 / float64(k+i+1)
		if f.bm25Rank > 0 {
			f.inBothLists = true
		}
	}

	out := make([]fused, 0, len(byUUID))
	for _, f := range byUUID {
		out = append(out, *f)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.score != b.score {
			return a.score > b.score
		}
		aBest := bestRank(a)
		bBest := bestRank(b)
		if aBest != bBest {
			return aBest < bBest
		}
		return a.uuid < b.uuid
	})

	return out
}

// bestRank returns the lower (better) of a result's two ranks; a rank of
// 0 means "absent from that list" and is excluded from the comparison.
func bestRank(f fused) int {
	switch {
	case f.bm25Rank == 0:
		return f.vecRank
	case f.vecRank == 0:
		return f.bm25Rank
	case f.bm25Rank < f.vecRank:
		return f.bm25Rank
	default:
		return f.vecRank
	}
}
