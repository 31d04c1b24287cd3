package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghgmatch/core/internal/catalogue"
)

func TestRRFFuse_TopRankedInBothLists(t *testing.T) {
	bm25 := []catalogue.BM25Result{{UUID: "A", Score: 2.0}, {UUID: "B", Score: 1.5}}
	vec := []catalogue.VectorResult{{UUID: "A", Score: 0.9}, {UUID: "C", Score: 0.8}}

	results := rrfFuse(bm25, vec, 60)

	require.NotEmpty(t, results)
	assert.Equal(t, "A", results[0].uuid)
	assert.InDelta(t, 2.0/61.0, results[0].score, 1e-9)
	assert.True(t, results[0].inBothLists)
}

func TestRRFFuse_MissingRankOmitsTerm(t *testing.T) {
	bm25 := []catalogue.BM25Result{{UUID: "A", Score: 2.0}, {UUID: "B", Score: 1.0}}
	vec := []catalogue.VectorResult{{UUID: "A", Score: 0.9}}

	results := rrfFuse(bm25, vec, 60)

	byUUID := make(map[string]fused, len(results))
	for _, r := range results {
		byUUID[r.uuid] = r
	}

	assert.False(t, byUUID["B"].inBothLists)
	assert.Equal(t, 0, byUUID["B"].vecRank)
	assert.InDelta(t, 1.0/62.0, byUUID["B"].score, 1e-9)
}

func TestRRFFuse_TieBreaksByBestRankThenUUID(t *testing.T) {
	// A and B both rank 2 overall (one in each list, swapped), so the RRF
	// score ties; the lower best-rank wins, then lexicographic uuid.
	bm25 := []catalogue.BM25Result{{UUID: "A", Score: 1.0}, {UUID: "B", Score: 1.0}}
	vec := []catalogue.VectorResult{{UUID: "B", Score: 1.0}, {UUID: "A", Score: 1.0}}

	results := rrfFuse(bm25, vec, 60)

	require.Len(t, results, 2)
	assert.Equal(t, results[0].score, results[1].score)
	assert.Equal(t, "A", results[0].uuid)
}

func TestRRFFuse_Deterministic(t *testing.T) {
	bm25 := []catalogue.BM25Result{{UUID: "A", Score: 5}, {UUID: "B", Score: 4}, {UUID: "C", Score: 3}}
	vec := []catalogue.VectorResult{{UUID: "C", Score: 0.9}, {UUID: "B", Score: 0.8}, {UUID: "A", Score: 0.7}}

	r1 := rrfFuse(bm25, vec, 60)
	r2 := rrfFuse(bm25, vec, 60)

	require.Len(t, r1, 3)
	require.Len(t, r2, 3)
	for i := range r1 {
		assert.Equal(t, r1[i].uuid, r2[i].uuid)
		assert.Equal(t, r1[i].score, r2[i].score)
	}
}

func TestRRFFuse_EmptyInputs(t *testing.T) {
	results := rrfFuse(nil, nil, 60)
	assert.Empty(t, results)
}
