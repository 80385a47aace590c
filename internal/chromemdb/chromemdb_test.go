package chromemdb

import (
	"context"
	"path/filepath"
	"testing"

	"summaid/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("", "test-fragments")
	require.NoError(t, err)
	return s
}

func TestAddAndListFragments(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	frags := []models.Fragment{
		{ID: 1, DocumentID: 10, Text: "FINDINGS\nMass noted.", Page: 1, Position: 0, Section: "FINDINGS", Embedding: []float32{1, 0}},
		{ID: 2, DocumentID: 10, Text: "Plan: follow-up imaging.", Page: 2, Position: 1, Embedding: []float32{0, 1}},
	}
	require.NoError(t, s.AddFragments(ctx, 7, frags))

	got, err := s.ListFragments(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, "FINDINGS", got[0].Section)
	assert.Equal(t, int64(2), got[1].ID)

	// Unknown patient lists nothing.
	empty, err := s.ListFragments(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSearchFragmentsRanksAndFilters(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddFragments(ctx, 7, []models.Fragment{
		{ID: 1, DocumentID: 10, Text: "oncology note", Embedding: []float32{1, 0}},
		{ID: 2, DocumentID: 10, Text: "audiology note", Embedding: []float32{0, 1}},
	}))
	require.NoError(t, s.AddFragments(ctx, 8, []models.Fragment{
		{ID: 3, DocumentID: 11, Text: "other patient", Embedding: []float32{1, 0}},
	}))

	got, err := s.SearchFragments(ctx, 7, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, "oncology note", got[0].Text)

	// limit <= 0 means all of the patient's fragments, best first.
	all, err := s.SearchFragments(ctx, 7, []float32{0, 1}, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(2), all[0].ID)
}

func TestPersistentStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chromem")
	ctx := context.Background()

	first, err := NewStore(path, "fragments")
	require.NoError(t, err)
	require.NoError(t, first.AddFragments(ctx, 7, []models.Fragment{
		{ID: 1, DocumentID: 10, Text: "FINDINGS\nMass noted.", Page: 1, Section: "FINDINGS", Embedding: []float32{1, 0}},
		{ID: 2, DocumentID: 10, Text: "Follow-up imaging planned.", Page: 2, Position: 1, Embedding: []float32{0, 1}},
	}))

	// A fresh store on the same path must see everything the first one wrote.
	reopened, err := NewStore(path, "fragments")
	require.NoError(t, err)

	listed, err := reopened.ListFragments(ctx, 7)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, int64(1), listed[0].ID)
	assert.Equal(t, "FINDINGS", listed[0].Section)
	assert.Equal(t, []float32{1, 0}, listed[0].Embedding)
	assert.Equal(t, int64(2), listed[1].ID)

	found, err := reopened.SearchFragments(ctx, 7, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(2), found[0].ID)

	// And further ingestion through the reopened store accumulates.
	require.NoError(t, reopened.AddFragments(ctx, 7, []models.Fragment{
		{ID: 3, DocumentID: 11, Text: "Lab results reviewed.", Embedding: []float32{1, 0}},
	}))
	third, err := NewStore(path, "fragments")
	require.NoError(t, err)
	listed, err = third.ListFragments(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestSearchFragmentsUnknownPatient(t *testing.T) {
	s := newMemStore(t)
	got, err := s.SearchFragments(context.Background(), 42, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSearchFragmentsRoundTripsMetadata(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddFragments(ctx, 7, []models.Fragment{
		{ID: 5, DocumentID: 12, Text: "IMPRESSION\nStable.", Page: 3, Position: 4, Section: "IMPRESSION", Embedding: []float32{1, 0}},
	}))

	got, err := s.SearchFragments(ctx, 7, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].ID)
	assert.Equal(t, int64(12), got[0].DocumentID)
	assert.Equal(t, 3, got[0].Page)
	assert.Equal(t, 4, got[0].Position)
	assert.Equal(t, "IMPRESSION", got[0].Section)
}
