// Package summary orchestrates structured summary generation: a specialty
// classification, three universal extractions and one conditional specialty
// extraction run as independent tasks, joined, assembled and validated.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"summaid/internal/config"
	"summaid/internal/llmservice"
	"summaid/internal/models"
	"summaid/internal/schema"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Context clipping per task, matching what the prompts were tuned on.
const (
	classifyContextChars = 3000
	extractContextChars  = 8000
	maxBullets           = 5
)

// Degraded per-field placeholders. A failed task never aborts its siblings;
// its field gets one of these instead.
const (
	EvolutionPlaceholder = "Evolution narrative not available"
	StatusPlaceholder    = "Status information not available"
)

// Orchestrator drives generation against an abstract Generator, so every
// stage is testable with a stub.
type Orchestrator struct {
	gen    llmservice.Generator
	genCfg config.GenerationConfig
	sumCfg config.SummaryConfig
}

func NewOrchestrator(gen llmservice.Generator, genCfg config.GenerationConfig, sumCfg config.SummaryConfig) *Orchestrator {
	return &Orchestrator{gen: gen, genCfg: genCfg, sumCfg: sumCfg}
}

// Result is an assembled summary plus whether it passed schema validation.
// Unvalidated results are only produced when strict validation is off.
type Result struct {
	Summary   *schema.StructuredSummary
	Validated bool
}

// GenerateStructured runs the parallel extraction pipeline over an already
// retrieved context. Stage tasks share no mutable state: each writes its own
// result variable, combined only after the join.
func (o *Orchestrator) GenerateStructured(ctx context.Context, contextText, patientLabel string) (*Result, error) {
	pctx, cancel := context.WithTimeout(ctx, o.sumCfg.PipelineTimeout())
	defer cancel()

	var (
		specialty = SpecialtyGeneral
		evolution string
		status    []string
		plan      []string
		oncology  *schema.Oncology
		speech    *schema.Speech
	)
	specialtyCh := make(chan Specialty, 1)

	// Plain errgroup, no context cancellation on member failure: every task
	// degrades locally and returns nil.
	var g errgroup.Group

	g.Go(func() error {
		out, err := o.call(pctx, fmt.Sprintf(models.ClassifyPromptTemplate, clip(contextText, classifyContextChars)), 0.0)
		if err == nil {
			specialty = NormalizeSpecialty(out)
		} else {
			log.Warn().Err(err).Msg("Specialty classification failed, defaulting to general")
		}
		specialtyCh <- specialty
		return nil
	})

	g.Go(func() error {
		out, err := o.call(pctx, fmt.Sprintf(models.EvolutionPromptTemplate, clip(contextText, extractContextChars)), 0.2)
		if err != nil || out == "" {
			evolution = EvolutionPlaceholder
			return nil
		}
		evolution = out
		return nil
	})

	g.Go(func() error {
		out, err := o.call(pctx, fmt.Sprintf(models.CurrentStatusPromptTemplate, clip(contextText, extractContextChars)), 0.1)
		if err != nil {
			status = []string{StatusPlaceholder}
			return nil
		}
		status = parseBullets(out, maxBullets)
		if len(status) == 0 {
			status = []string{StatusPlaceholder}
		}
		return nil
	})

	g.Go(func() error {
		out, err := o.call(pctx, fmt.Sprintf(models.PlanPromptTemplate, clip(contextText, extractContextChars)), 0.1)
		if err != nil {
			plan = []string{PlanPlaceholder}
			return nil
		}
		plan = parseBullets(out, maxBullets)
		return nil
	})

	// Specialty extraction starts as soon as classification settles, while
	// the universal tasks may still be running.
	g.Go(func() error {
		switch <-specialtyCh {
		case SpecialtyOncology:
			out, err := o.call(pctx, fmt.Sprintf(models.OncologyPromptTemplate, clip(contextText, extractContextChars)), 0.0)
			if err != nil {
				return nil
			}
			var section schema.Oncology
			if decodeSection(out, &section) {
				oncology = &section
			}
		case SpecialtySpeech:
			out, err := o.call(pctx, fmt.Sprintf(models.SpeechPromptTemplate, clip(contextText, extractContextChars)), 0.0)
			if err != nil {
				return nil
			}
			var section schema.Speech
			if decodeSection(out, &section) {
				speech = &section
			}
		}
		return nil
	})

	_ = g.Wait()

	if pctx.Err() != nil {
		log.Error().Str("patient", patientLabel).Msg("Summary pipeline timed out, returning fallback summary")
		return &Result{Summary: FallbackSummary(patientLabel), Validated: true}, nil
	}

	s := &schema.StructuredSummary{
		Universal: schema.Universal{
			Evolution:     evolution,
			CurrentStatus: status,
			Plan:          FilterPlan(plan, status, contextText),
		},
		Specialty:   string(specialty),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if oncology != nil {
		oncology.TumorSizeTrend = AnnotateTumorTrend(oncology.TumorSizeTrend)
		s.Oncology = oncology
	}
	if speech != nil {
		if speech.HearingTrend == "" {
			speech.HearingTrend = ComputeHearingTrend(speech.PriorAudiogram, speech.Audiogram)
		}
		s.Speech = speech
	}

	if err := schema.Validate(s); err != nil {
		if o.sumCfg.StrictValidation {
			return nil, err
		}
		log.Warn().Err(err).Str("patient", patientLabel).Msg("Persisting unvalidated summary")
		return &Result{Summary: s, Validated: false}, nil
	}
	return &Result{Summary: s, Validated: true}, nil
}

// GenerateSingleShot is the monolithic path: one prompt asking for the whole
// summary, per-model fallback ladder, free text wrapped into the universal
// shape when the model ignores the JSON instruction.
func (o *Orchestrator) GenerateSingleShot(ctx context.Context, contextText, patientLabel string) (*Result, error) {
	prompt := fmt.Sprintf(models.SingleShotPromptTemplate, contextText)
	out, attempts, err := o.GenerateWithFallback(ctx, prompt)
	if len(attempts) > 1 {
		log.Debug().Str("attempts", marshalAttempts(attempts)).Msg("Single-shot generation used fallback ladder")
	}
	if err != nil {
		return nil, fmt.Errorf("single-shot generation after %d attempts: %w", len(attempts), err)
	}

	if obj := extractJSON(out); obj != "" {
		if s, verr := schema.ParseAndValidate([]byte(obj)); verr == nil {
			s.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
			return &Result{Summary: s, Validated: true}, nil
		}
	}

	s := &schema.StructuredSummary{
		Universal: schema.Universal{
			Evolution:     out,
			CurrentStatus: []string{},
			Plan:          []string{},
		},
		Specialty:   string(SpecialtyGeneral),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	return &Result{Summary: s, Validated: false}, nil
}

// Answer runs the grounded question-answering prompt with the fallback
// ladder. The prompt instructs the model to answer with the configured
// no-information phrase when the context lacks the answer.
func (o *Orchestrator) Answer(ctx context.Context, contextText, question string) (string, error) {
	prompt := fmt.Sprintf(models.QuestionPromptTemplate, models.NoInformationPhrase, contextText, question)
	out, _, err := o.GenerateWithFallback(ctx, prompt)
	if err != nil {
		return "", err
	}
	return out, nil
}

// FallbackSummary is the top-level degraded result for a pipeline that
// failed or timed out across all stages.
func FallbackSummary(patientLabel string) *schema.StructuredSummary {
	return &schema.StructuredSummary{
		Universal: schema.Universal{
			Evolution:     fmt.Sprintf("Summary generation for %s failed before completion.", patientLabel),
			CurrentStatus: []string{"Data extraction error"},
			Plan:          []string{"Review medical records manually"},
		},
		Specialty:   string(SpecialtyGeneral),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// call runs one generation attempt under the per-task timeout.
func (o *Orchestrator) call(ctx context.Context, prompt string, temperature float64) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, o.sumCfg.TaskTimeout())
	defer cancel()

	req := llmservice.NewRequest(o.genCfg)
	req.Temperature = temperature
	return o.gen.Generate(tctx, prompt, req)
}

// clip truncates s to at most max bytes without splitting a rune.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// marshalAttempts is a debug helper for tracing ladder decisions.
func marshalAttempts(attempts []models.GenerationAttempt) string {
	type view struct {
		Model    string `json:"model"`
		ForceCPU bool   `json:"force_cpu"`
		Error    string `json:"error,omitempty"`
	}
	views := make([]view, len(attempts))
	for i, a := range attempts {
		views[i] = view{Model: a.Model, ForceCPU: a.ForceCPU}
		if a.Err != nil {
			views[i].Error = a.Err.Error()
		}
	}
	b, _ := json.Marshal(views)
	return string(b)
}
