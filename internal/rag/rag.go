// Package rag wires retrieval, generation and provenance into the two
// outward-facing operations: structured summary generation and grounded
// question answering.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"summaid/internal/citation"
	"summaid/internal/config"
	"summaid/internal/models"
	"summaid/internal/normalizer"
	"summaid/internal/retrieval"
	"summaid/internal/schema"
	"summaid/internal/summary"

	"github.com/rs/zerolog/log"
)

// SummaryStore is the persistence collaborator for finished summaries.
type SummaryStore interface {
	UpsertSummary(ctx context.Context, patientID int64, summaryJSON, citationsJSON string) error
}

type RAG struct {
	retriever    *retrieval.Engine
	orchestrator *summary.Orchestrator
	store        SummaryStore // nil disables persistence (dry runs)
	cfg          *config.Config
}

func NewRAG(retriever *retrieval.Engine, orchestrator *summary.Orchestrator, store SummaryStore, cfg *config.Config) *RAG {
	return &RAG{retriever: retriever, orchestrator: orchestrator, store: store, cfg: cfg}
}

// SummaryOptions tune one summary generation call.
type SummaryOptions struct {
	Keywords     []string
	MaxFragments int
	MaxChars     int
	// SingleShot uses the monolithic prompt instead of parallel extraction.
	SingleShot bool
	// DryRun skips persisting the result.
	DryRun bool
}

type SummaryResponse struct {
	Summary   *schema.StructuredSummary
	Validated bool
	Citations []models.Citation
}

type AnswerResponse struct {
	Answer    string
	Citations []models.Citation
}

// GenerateSummary retrieves the patient's context, runs the orchestrator,
// attaches citations and upserts the result. Retrieval failures surface as
// distinct errors and are never converted into an empty summary.
func (r *RAG) GenerateSummary(ctx context.Context, patientID int64, patientLabel string, opts SummaryOptions) (*SummaryResponse, error) {
	rc, err := r.retrieve(ctx, patientID, "", opts.Keywords, opts)
	if err != nil {
		return nil, err
	}
	contextText := contextText(rc)

	var result *summary.Result
	if opts.SingleShot {
		result, err = r.orchestrator.GenerateSingleShot(ctx, contextText, patientLabel)
	} else {
		result, err = r.orchestrator.GenerateStructured(ctx, contextText, patientLabel)
	}
	if err != nil {
		return nil, err
	}
	result.Summary.PatientID = patientID

	citations := citation.Build(rc)
	response := &SummaryResponse{
		Summary:   result.Summary,
		Validated: result.Validated,
		Citations: citations,
	}
	if r.store == nil || opts.DryRun {
		return response, nil
	}
	if err := r.persist(ctx, patientID, response); err != nil {
		return nil, err
	}
	return response, nil
}

// AnswerQuestion runs the same retrieval engine with the question as query
// basis and a single-shot grounded answer prompt.
func (r *RAG) AnswerQuestion(ctx context.Context, patientID int64, question string, opts SummaryOptions) (*AnswerResponse, error) {
	rc, err := r.retrieve(ctx, patientID, question, opts.Keywords, opts)
	if err != nil {
		return nil, err
	}
	answer, err := r.orchestrator.Answer(ctx, contextText(rc), question)
	if err != nil {
		return nil, fmt.Errorf("answering question: %w", err)
	}
	return &AnswerResponse{Answer: answer, Citations: citation.Build(rc)}, nil
}

func (r *RAG) retrieve(ctx context.Context, patientID int64, basis string, keywords []string, opts SummaryOptions) (*models.RetrievedContext, error) {
	params := retrieval.Params{
		Basis:        basis,
		Keywords:     keywords,
		MaxFragments: opts.MaxFragments,
		MaxChars:     opts.MaxChars,
	}
	if params.MaxFragments <= 0 {
		params.MaxFragments = r.cfg.RAG.MaxFragments
	}
	if params.MaxChars <= 0 {
		params.MaxChars = r.cfg.RAG.MaxContextChars
	}
	return r.retriever.Retrieve(ctx, patientID, params)
}

func (r *RAG) persist(ctx context.Context, patientID int64, response *SummaryResponse) error {
	summaryJSON, err := response.Summary.Canonical()
	if err != nil {
		return fmt.Errorf("serializing summary: %w", err)
	}
	citationsJSON, err := json.Marshal(response.Citations)
	if err != nil {
		return fmt.Errorf("serializing citations: %w", err)
	}
	if err := r.store.UpsertSummary(ctx, patientID, string(summaryJSON), string(citationsJSON)); err != nil {
		return fmt.Errorf("persisting summary: %w", err)
	}
	log.Info().
		Int64("patient_id", patientID).
		Bool("validated", response.Validated).
		Int("citations", len(response.Citations)).
		Msg("Summary persisted")
	return nil
}

// contextText joins the normalized fragment texts for prompting.
func contextText(rc *models.RetrievedContext) string {
	parts := make([]string, len(rc.Fragments))
	for i, rf := range rc.Fragments {
		parts[i] = normalizer.Normalize(rf.Fragment.Text)
	}
	return strings.Join(parts, models.ContextSeparator)
}
