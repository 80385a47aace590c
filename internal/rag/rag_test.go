package rag

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"summaid/internal/config"
	"summaid/internal/embedding"
	"summaid/internal/llmservice"
	"summaid/internal/models"
	"summaid/internal/retrieval"
	"summaid/internal/schema"
	"summaid/internal/summary"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	lastText string
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	s.lastText = text
	return []float32{1, 0}, nil
}

type memStore struct {
	fragments []models.Fragment
}

func (m memStore) ListFragments(_ context.Context, _ int64) ([]models.Fragment, error) {
	return m.fragments, nil
}

type stubGenerator struct {
	fn func(prompt string, req llmservice.Request) (string, error)
}

func (s *stubGenerator) Generate(_ context.Context, prompt string, req llmservice.Request) (string, error) {
	return s.fn(prompt, req)
}

type recordingSummaryStore struct {
	patientID     int64
	summaryJSON   string
	citationsJSON string
	calls         int
	err           error
}

func (r *recordingSummaryStore) UpsertSummary(_ context.Context, patientID int64, summaryJSON, citationsJSON string) error {
	r.calls++
	r.patientID = patientID
	r.summaryJSON = summaryJSON
	r.citationsJSON = citationsJSON
	return r.err
}

func testFragments() []models.Fragment {
	return []models.Fragment{
		{ID: 1, DocumentID: 1, Text: "FINDINGS\nMass measuring 3.2 cm, 2024-01-15.", Page: 1, Embedding: []float32{0, 1}},
		{ID: 2, DocumentID: 1, Text: "Patient started tamoxifen 20 mg daily.", Page: 2, Embedding: []float32{1, 0}},
	}
}

func generalResponses(prompt string, _ llmservice.Request) (string, error) {
	switch {
	case strings.Contains(prompt, "classify the patient specialty"):
		return "general", nil
	case strings.Contains(prompt, "medical journey"):
		return "Diagnosed with a breast mass, started on tamoxifen.", nil
	case strings.Contains(prompt, "CURRENT medical status"):
		return "- On tamoxifen 20 mg daily", nil
	case strings.Contains(prompt, "treatment PLAN"):
		return "- Repeat imaging in 6 months", nil
	}
	return "canned answer", nil
}

func newTestRAG(t *testing.T, gen *stubGenerator, store SummaryStore) (*RAG, *stubEmbedder) {
	t.Helper()
	emb := &stubEmbedder{}
	engine := retrieval.NewEngine(memStore{fragments: testFragments()}, embedding.NewClient(emb, 2))
	orch := summary.NewOrchestrator(gen, config.GenerationConfig{
		Model: "primary", NumCtx: 8192, GPUTimeoutSeconds: 5, CPUTimeoutSeconds: 10,
	}, config.SummaryConfig{TaskTimeoutSeconds: 5, PipelineTimeoutSeconds: 10})
	cfg := config.Default()
	return NewRAG(engine, orch, store, cfg), emb
}

func TestGenerateSummaryEndToEnd(t *testing.T) {
	store := &recordingSummaryStore{}
	r, _ := newTestRAG(t, &stubGenerator{fn: generalResponses}, store)

	resp, err := r.GenerateSummary(context.Background(), 42, "patient 42", SummaryOptions{})
	require.NoError(t, err)

	assert.True(t, resp.Validated)
	assert.Equal(t, int64(42), resp.Summary.PatientID)
	assert.Equal(t, []string{"On tamoxifen 20 mg daily"}, resp.Summary.Universal.CurrentStatus)
	require.Len(t, resp.Citations, 2)
	assert.Equal(t, int64(1), resp.Citations[0].FragmentID)

	// Persisted JSON round-trips through the schema.
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, int64(42), store.patientID)
	parsed, err := schema.ParseAndValidate([]byte(store.summaryJSON))
	require.NoError(t, err)
	assert.Equal(t, int64(42), parsed.PatientID)

	var citations []models.Citation
	require.NoError(t, json.Unmarshal([]byte(store.citationsJSON), &citations))
	assert.Len(t, citations, 2)
}

func TestGenerateSummaryDryRunSkipsPersistence(t *testing.T) {
	store := &recordingSummaryStore{}
	r, _ := newTestRAG(t, &stubGenerator{fn: generalResponses}, store)

	_, err := r.GenerateSummary(context.Background(), 42, "patient 42", SummaryOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 0, store.calls)
}

func TestGenerateSummaryNilStore(t *testing.T) {
	r, _ := newTestRAG(t, &stubGenerator{fn: generalResponses}, nil)
	resp, err := r.GenerateSummary(context.Background(), 42, "patient 42", SummaryOptions{})
	require.NoError(t, err)
	assert.NotNil(t, resp.Summary)
}

func TestGenerateSummaryPersistenceFailureSurfaces(t *testing.T) {
	store := &recordingSummaryStore{err: errors.New("disk full")}
	r, _ := newTestRAG(t, &stubGenerator{fn: generalResponses}, store)

	_, err := r.GenerateSummary(context.Background(), 42, "patient 42", SummaryOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persisting summary")
}

func TestGenerateSummaryRetrievalErrorsSurface(t *testing.T) {
	emb := &stubEmbedder{}
	engine := retrieval.NewEngine(memStore{}, embedding.NewClient(emb, 2))
	orch := summary.NewOrchestrator(&stubGenerator{fn: generalResponses}, config.GenerationConfig{
		Model: "primary", GPUTimeoutSeconds: 5, CPUTimeoutSeconds: 10,
	}, config.SummaryConfig{TaskTimeoutSeconds: 5, PipelineTimeoutSeconds: 10})
	r := NewRAG(engine, orch, nil, config.Default())

	_, err := r.GenerateSummary(context.Background(), 42, "patient 42", SummaryOptions{})
	assert.ErrorIs(t, err, retrieval.ErrNoDocuments)
}

func TestAnswerQuestionUsesQuestionAsBasis(t *testing.T) {
	var captured string
	gen := &stubGenerator{fn: func(prompt string, _ llmservice.Request) (string, error) {
		captured = prompt
		return "Yes, tamoxifen 20 mg daily.", nil
	}}
	r, emb := newTestRAG(t, gen, nil)

	resp, err := r.AnswerQuestion(context.Background(), 42, "What medication is the patient on?", SummaryOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Yes, tamoxifen 20 mg daily.", resp.Answer)
	assert.Equal(t, "What medication is the patient on?", emb.lastText)
	assert.Contains(t, captured, "What medication is the patient on?")
	assert.Contains(t, captured, models.NoInformationPhrase)
	require.Len(t, resp.Citations, 2)
}
