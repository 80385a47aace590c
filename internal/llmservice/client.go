// Package llmservice wraps the text-generation service. Every call goes out
// with an explicit model, sampling options and timeout; failures come back
// classified so the orchestrator can pick the right fallback path.
package llmservice

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"summaid/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// FailureClass buckets a generation failure for fallback decisions.
type FailureClass int

const (
	FailureNone FailureClass = iota
	// FailureTransport covers network errors, timeouts and non-2xx replies.
	FailureTransport
	// FailureResource covers compute/memory exhaustion; it is the only class
	// that triggers the CPU / smaller-model ladder.
	FailureResource
	// FailureMalformed covers responses that arrived but cannot be used.
	FailureMalformed
)

func (f FailureClass) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureTransport:
		return "transport"
	case FailureResource:
		return "resource"
	case FailureMalformed:
		return "malformed"
	}
	return "unknown"
}

// resourceKeywords mark an error as resource-exhaustion when they occur in
// its text. Matched case-insensitively.
var resourceKeywords = []string{"cuda", "oom", "out of memory", "memory", "terminated"}

// Classify maps an error from Generate to a failure class.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureNone
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range resourceKeywords {
		if strings.Contains(msg, kw) {
			return FailureResource
		}
	}
	if strings.Contains(msg, "unmarshal") || strings.Contains(msg, "unexpected end of json") {
		return FailureMalformed
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTransport
	}
	return FailureTransport
}

// Request carries the per-call generation parameters.
type Request struct {
	Model         string
	Temperature   float64
	TopP          float64
	RepeatPenalty float64
	NumCtx        int
	ForceCPU      bool
}

// Generator is the contract the orchestrator depends on.
type Generator interface {
	Generate(ctx context.Context, prompt string, req Request) (string, error)
}

// Client talks to a local ollama server through langchaingo.
type Client struct {
	cfg config.GenerationConfig
}

func NewClient(cfg config.GenerationConfig) *Client {
	return &Client{cfg: cfg}
}

var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Generate runs one completion. The CPU-forced path disables GPU offload and
// gets the longer timeout; restricting it to a smaller context window is the
// caller's job via req.NumCtx.
func (c *Client) Generate(ctx context.Context, prompt string, req Request) (string, error) {
	timeout := c.cfg.GPUTimeout()
	if req.ForceCPU {
		timeout = c.cfg.CPUTimeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := []ollama.Option{
		ollama.WithServerURL(c.cfg.BaseURL),
		ollama.WithModel(req.Model),
	}
	if req.NumCtx > 0 {
		opts = append(opts, ollama.WithRunnerNumCtx(req.NumCtx))
	}
	if req.ForceCPU {
		opts = append(opts, ollama.WithRunnerNumGPU(0))
	}

	llm, err := ollama.New(opts...)
	if err != nil {
		return "", err
	}

	log.Debug().
		Str("model", req.Model).
		Bool("force_cpu", req.ForceCPU).
		Int("num_ctx", req.NumCtx).
		Int("prompt_chars", len(prompt)).
		Msg("Calling generation service")

	out, err := llms.GenerateFromSinglePrompt(ctx, llm, prompt,
		llms.WithTemperature(req.Temperature),
		llms.WithTopP(req.TopP),
		llms.WithRepetitionPenalty(req.RepeatPenalty),
	)
	if err != nil {
		return "", err
	}

	out = thinkTagRe.ReplaceAllString(out, "")
	return strings.TrimSpace(out), nil
}

// NewRequest builds the default request for cfg's primary model.
func NewRequest(cfg config.GenerationConfig) Request {
	return Request{
		Model:         cfg.Model,
		Temperature:   cfg.Temperature,
		TopP:          cfg.TopP,
		RepeatPenalty: cfg.RepeatPenalty,
		NumCtx:        cfg.NumCtx,
	}
}
