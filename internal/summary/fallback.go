package summary

import (
	"context"
	"fmt"

	"summaid/internal/llmservice"
	"summaid/internal/models"

	"github.com/rs/zerolog/log"
)

// GenerateWithFallback drives the model-fallback ladder:
//
//	primary model on GPU
//	-> same model CPU-forced with a halved context window
//	-> each configured fallback model
//	-> primary model with the prompt truncated to its trailing half
//
// Only resource-exhaustion failures walk the ladder; any other failure class
// is surfaced immediately. The attempts slice is returned for logging.
func (o *Orchestrator) GenerateWithFallback(ctx context.Context, prompt string) (string, []models.GenerationAttempt, error) {
	var attempts []models.GenerationAttempt

	try := func(req llmservice.Request, p string) (string, error) {
		out, err := o.gen.Generate(ctx, p, req)
		attempts = append(attempts, models.GenerationAttempt{Model: req.Model, ForceCPU: req.ForceCPU, Err: err})
		if err != nil {
			log.Warn().Err(err).
				Str("model", req.Model).
				Bool("force_cpu", req.ForceCPU).
				Str("class", llmservice.Classify(err).String()).
				Msg("Generation attempt failed")
		}
		return out, err
	}

	// Primary model, GPU path.
	req := llmservice.NewRequest(o.genCfg)
	out, err := try(req, prompt)
	if err == nil {
		return out, attempts, nil
	}
	if llmservice.Classify(err) != llmservice.FailureResource {
		return "", attempts, err
	}

	// Same model forced onto the CPU with a smaller context window.
	req = llmservice.NewRequest(o.genCfg)
	req.ForceCPU = true
	req.NumCtx = o.genCfg.NumCtx / 2
	out, err = try(req, prompt)
	if err == nil {
		return out, attempts, nil
	}
	if llmservice.Classify(err) != llmservice.FailureResource {
		return "", attempts, err
	}

	// Ordered list of smaller models.
	for _, model := range o.genCfg.FallbackModels {
		req = llmservice.NewRequest(o.genCfg)
		req.Model = model
		out, err = try(req, prompt)
		if err == nil {
			return out, attempts, nil
		}
		if llmservice.Classify(err) != llmservice.FailureResource {
			return "", attempts, err
		}
	}

	// Last resort: primary model with only the trailing half of the context.
	// The tail holds the most recent reports plus the task instructions.
	req = llmservice.NewRequest(o.genCfg)
	out, err = try(req, prompt[len(prompt)/2:])
	if err != nil {
		return "", attempts, fmt.Errorf("all fallback attempts exhausted: %w", err)
	}
	return out, attempts, nil
}
