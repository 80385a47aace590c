// Package retrieval builds the context window for one generation request:
// structural, similarity and keyword passes over a patient's fragments,
// merged by priority, deduplicated and trimmed to a character budget.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"summaid/internal/embedding"
	"summaid/internal/models"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNoDocuments means the patient has no ingested fragments at all.
	ErrNoDocuments = errors.New("no documents for patient")
	// ErrNoRetrievableContent means nothing survived merge and budget trim.
	ErrNoRetrievableContent = errors.New("no retrievable content")
)

// FragmentStore is the read path into the document store.
type FragmentStore interface {
	ListFragments(ctx context.Context, patientID int64) ([]models.Fragment, error)
}

// SimilaritySearcher is optionally implemented by stores that can rank by
// vector distance themselves (pgvector). When absent, the engine ranks
// client-side with cosine similarity.
type SimilaritySearcher interface {
	SearchFragments(ctx context.Context, patientID int64, queryVec []float32, limit int) ([]models.Fragment, error)
}

// Params are the caller-supplied retrieval knobs.
type Params struct {
	Basis        string
	Keywords     []string
	MaxFragments int
	MaxChars     int
}

// Engine implements the hybrid retrieval pipeline.
type Engine struct {
	store    FragmentStore
	embedder *embedding.Client
}

func NewEngine(store FragmentStore, embedder *embedding.Client) *Engine {
	return &Engine{store: store, embedder: embedder}
}

// Retrieve produces the deduplicated, priority-ordered, budget-bounded
// context for a patient. Deterministic for fixed inputs: ties in similarity
// are broken by fragment insertion order and dedup keeps the earliest-tier,
// earliest-inserted fragment.
func (e *Engine) Retrieve(ctx context.Context, patientID int64, p Params) (*models.RetrievedContext, error) {
	query, err := e.resolveQuery(ctx, p)
	if err != nil {
		return nil, err
	}

	fragments, err := e.store.ListFragments(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing fragments: %w", err)
	}
	if len(fragments) == 0 {
		return nil, ErrNoDocuments
	}

	structural := structuralPass(fragments)
	similar, err := e.similarityPass(ctx, patientID, fragments, query)
	if err != nil {
		return nil, err
	}
	keyword := keywordPass(fragments, query.Keywords)

	merged := MergeRanked(dedupKey, structural, keyword, similar)
	kept, total := trimToBudget(merged, query.MaxChars)
	if len(kept) == 0 {
		return nil, ErrNoRetrievableContent
	}

	log.Debug().
		Int64("patient_id", patientID).
		Int("structural", len(structural)).
		Int("keyword", len(keyword)).
		Int("similarity", len(similar)).
		Int("kept", len(kept)).
		Int("total_chars", total).
		Msg("Retrieved context")

	return &models.RetrievedContext{Fragments: kept, TotalChars: total}, nil
}

func (e *Engine) resolveQuery(ctx context.Context, p Params) (*models.RetrievalQuery, error) {
	basis := strings.TrimSpace(p.Basis)
	if basis == "" && len(p.Keywords) > 0 {
		basis = strings.Join(p.Keywords, " ")
	}
	if basis == "" {
		basis = models.DefaultQueryBasis
	}
	vec, err := e.embedder.EmbedQuery(ctx, basis)
	if err != nil {
		return nil, err
	}
	return &models.RetrievalQuery{
		Basis:        basis,
		Keywords:     p.Keywords,
		MaxFragments: p.MaxFragments,
		MaxChars:     p.MaxChars,
		Embedding:    vec,
	}, nil
}

// structuralPass selects fragments containing a section header as a
// standalone line. These bypass similarity rank and budget priority so that
// FINDINGS/IMPRESSION/CONCLUSION sections are never dropped.
func structuralPass(fragments []models.Fragment) []models.RetrievedFragment {
	var out []models.RetrievedFragment
	for _, f := range fragments {
		if HasStructuralSection(f) {
			out = append(out, models.RetrievedFragment{Fragment: f, Tier: models.TierStructural})
		}
	}
	return out
}

// HasStructuralSection reports whether a fragment carries one of the key
// clinical section headers, either as detected ingestion metadata or as a
// standalone line of its text (case-insensitive, optional trailing colon).
func HasStructuralSection(f models.Fragment) bool {
	for _, section := range models.StructuralSections {
		if strings.EqualFold(f.Section, section) {
			return true
		}
	}
	for _, line := range strings.Split(f.Text, "\n") {
		line = strings.TrimSuffix(strings.TrimSpace(line), ":")
		for _, section := range models.StructuralSections {
			if strings.EqualFold(line, section) {
				return true
			}
		}
	}
	return false
}

func (e *Engine) similarityPass(ctx context.Context, patientID int64, fragments []models.Fragment, q *models.RetrievalQuery) ([]models.RetrievedFragment, error) {
	limit := q.MaxFragments
	if limit <= 0 {
		limit = len(fragments)
	}

	var ranked []models.Fragment
	if searcher, ok := e.store.(SimilaritySearcher); ok {
		var err error
		ranked, err = searcher.SearchFragments(ctx, patientID, q.Embedding, limit)
		if err != nil {
			return nil, fmt.Errorf("similarity search: %w", err)
		}
	} else {
		var err error
		ranked, err = rankBySimilarity(fragments, q.Embedding, limit)
		if err != nil {
			return nil, err
		}
	}

	out := make([]models.RetrievedFragment, 0, len(ranked))
	for _, f := range ranked {
		out = append(out, models.RetrievedFragment{Fragment: f, Tier: models.TierSimilarity})
	}
	return out, nil
}

// rankBySimilarity orders fragments by cosine similarity to the query vector.
// Sort is stable, so equal scores keep insertion order.
func rankBySimilarity(fragments []models.Fragment, queryVec []float32, limit int) ([]models.Fragment, error) {
	type scored struct {
		frag  models.Fragment
		score float64
	}
	scoredFrags := make([]scored, 0, len(fragments))
	for _, f := range fragments {
		if len(f.Embedding) != len(queryVec) {
			return nil, fmt.Errorf("fragment %d: %w: got %d, want %d",
				f.ID, embedding.ErrDimensionMismatch, len(f.Embedding), len(queryVec))
		}
		scoredFrags = append(scoredFrags, scored{frag: f, score: cosineSimilarity(f.Embedding, queryVec)})
	}
	sort.SliceStable(scoredFrags, func(i, j int) bool {
		return scoredFrags[i].score > scoredFrags[j].score
	})
	if limit < len(scoredFrags) {
		scoredFrags = scoredFrags[:limit]
	}
	out := make([]models.Fragment, len(scoredFrags))
	for i, s := range scoredFrags {
		out[i] = s.frag
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// keywordPass selects fragments containing any keyword as a case-insensitive
// substring; the per-keyword matches are unioned in keyword order.
func keywordPass(fragments []models.Fragment, keywords []string) []models.RetrievedFragment {
	var lists [][]models.RetrievedFragment
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		var matches []models.RetrievedFragment
		for _, f := range fragments {
			if strings.Contains(strings.ToLower(f.Text), kw) {
				matches = append(matches, models.RetrievedFragment{Fragment: f, Tier: models.TierKeyword})
			}
		}
		lists = append(lists, matches)
	}
	return MergeRanked(dedupKey, lists...)
}

// dedupKey is the cheap near-duplicate signature: the first 200 characters
// of the fragment text.
func dedupKey(rf models.RetrievedFragment) string {
	text := rf.Fragment.Text
	if len(text) > models.DedupPrefixLen {
		return text[:models.DedupPrefixLen]
	}
	return text
}

// trimToBudget walks the merged list in order and cuts it off the moment the
// next fragment would exceed maxChars. Fragments are kept whole or not at all.
func trimToBudget(merged []models.RetrievedFragment, maxChars int) ([]models.RetrievedFragment, int) {
	if maxChars <= 0 {
		total := 0
		for _, rf := range merged {
			total += len(rf.Fragment.Text)
		}
		return merged, total
	}
	var kept []models.RetrievedFragment
	total := 0
	for _, rf := range merged {
		if total+len(rf.Fragment.Text) > maxChars {
			break
		}
		total += len(rf.Fragment.Text)
		kept = append(kept, rf)
	}
	return kept, total
}
