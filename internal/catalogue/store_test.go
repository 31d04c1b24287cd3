package catalogue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghgmatch/core/internal/domain"
)

type stubLexical struct{}

func (stubLexical) Search(ctx context.Context, terms []string, k int) ([]BM25Result, error) {
	return nil, nil
}

type stubSemantic struct{}

func (stubSemantic) Search(ctx context.Context, embedding []float32, k int) ([]VectorResult, error) {
	return nil, nil
}

func testEntries() []*domain.CatalogueEntry {
	return []*domain.CatalogueEntry{
		{UUID: "uuid-steel", ActivityName: "Stahl", Unit: "kg"},
		{UUID: "uuid-steel-market", ActivityName: "market for Stahl", Unit: "kg", IsMarket: true},
		{UUID: "uuid-diesel", ActivityName: "Diesel", Unit: "l"},
	}
}

func TestStore_ByUUID_FindsLoadedEntry(t *testing.T) {
	s, err := New(testEntries(), stubLexical{}, stubSemantic{})
	require.NoError(t, err)

	entry, ok := s.ByUUID("uuid-steel")
	require.True(t, ok)
	assert.Equal(t, "Stahl", entry.ActivityName)
}

func TestStore_ByUUID_MissingReturnsFalse(t *testing.T) {
	s, err := New(testEntries(), stubLexical{}, stubSemantic{})
	require.NoError(t, err)

	_, ok := s.ByUUID("uuid-unknown")
	assert.False(t, ok)
}

func TestStore_AllSearchable_ExcludesMarketEntries(t *testing.T) {
	s, err := New(testEntries(), stubLexical{}, stubSemantic{})
	require.NoError(t, err)

	searchable := s.AllSearchable()
	require.Len(t, searchable, 2)
	for _, e := range searchable {
		assert.False(t, e.IsMarket)
	}
}

func TestStore_Len_CountsAllEntriesIncludingMarket(t *testing.T) {
	s, err := New(testEntries(), stubLexical{}, stubSemantic{})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
}

func TestStore_New_RejectsDuplicateUUID(t *testing.T) {
	entries := []*domain.CatalogueEntry{
		{UUID: "uuid-steel", ActivityName: "Stahl"},
		{UUID: "uuid-steel", ActivityName: "Stahl again"},
	}
	_, err := New(entries, stubLexical{}, stubSemantic{})
	assert.Error(t, err)
}
