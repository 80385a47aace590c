package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig   `yaml:"database"`
	EmbedLLM LLMConfig        `yaml:"embed_llm"`
	GenLLM   GenerationConfig `yaml:"gen_llm"`
	RAG      RAGConfig        `yaml:"rag"`
	Summary  SummaryConfig    `yaml:"summary"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

// LLMConfig configures the embedding endpoint.
type LLMConfig struct {
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"key"`
	Model     string `yaml:"model"`
	VectorDim int    `yaml:"vector_dim"`
}

// GenerationConfig is the explicit value object handed to the generation
// orchestrator: model selection and options live here, never in ambient
// environment lookups inside core logic.
type GenerationConfig struct {
	BaseURL        string   `yaml:"base_url"`
	Model          string   `yaml:"model"`
	FallbackModels []string `yaml:"fallback_models"`

	Temperature   float64 `yaml:"temperature"`
	TopP          float64 `yaml:"top_p"`
	RepeatPenalty float64 `yaml:"repeat_penalty"`
	NumCtx        int     `yaml:"num_ctx"`

	// The CPU-forced path is slower and needs the longer timeout.
	GPUTimeoutSeconds int `yaml:"gpu_timeout_seconds"`
	CPUTimeoutSeconds int `yaml:"cpu_timeout_seconds"`
}

func (g GenerationConfig) GPUTimeout() time.Duration {
	return time.Duration(g.GPUTimeoutSeconds) * time.Second
}

func (g GenerationConfig) CPUTimeout() time.Duration {
	return time.Duration(g.CPUTimeoutSeconds) * time.Second
}

type RAGConfig struct {
	ChunkSize       int    `yaml:"chunk_size"`
	ChunkOverlap    int    `yaml:"chunk_overlap"`
	MaxFragments    int    `yaml:"max_fragments"`
	MaxContextChars int    `yaml:"max_context_chars"`
	ChromemPath     string `yaml:"chromem_path"`
	InMemory        bool   `yaml:"in_memory"`
}

type SummaryConfig struct {
	// StrictValidation rejects summaries that fail schema validation instead
	// of persisting the unvalidated object with a logged warning.
	StrictValidation       bool `yaml:"strict_validation"`
	TaskTimeoutSeconds     int  `yaml:"task_timeout_seconds"`
	PipelineTimeoutSeconds int  `yaml:"pipeline_timeout_seconds"`
}

func (s SummaryConfig) TaskTimeout() time.Duration {
	return time.Duration(s.TaskTimeoutSeconds) * time.Second
}

func (s SummaryConfig) PipelineTimeout() time.Duration {
	return time.Duration(s.PipelineTimeoutSeconds) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a config with the values the demo deployment runs on.
func Default() *Config {
	return &Config{
		EmbedLLM: LLMConfig{
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			VectorDim: 768,
		},
		GenLLM: GenerationConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3:8b",
			FallbackModels: []string{
				"qwen2.5:7b-instruct-q4_K_M",
				"qwen2.5:3b-instruct-q4_K_M",
				"llama3.2:3b-instruct-q4_K_M",
			},
			Temperature:       0.1,
			TopP:              0.9,
			RepeatPenalty:     1.1,
			NumCtx:            8192,
			GPUTimeoutSeconds: 120,
			CPUTimeoutSeconds: 300,
		},
		RAG: RAGConfig{
			ChunkSize:       1000,
			ChunkOverlap:    200,
			MaxFragments:    20,
			MaxContextChars: 16000,
		},
		Summary: SummaryConfig{
			TaskTimeoutSeconds:     120,
			PipelineTimeoutSeconds: 600,
		},
	}
}
