package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"summaid/internal/config"
	"summaid/internal/llmservice"
	"summaid/internal/models"
	"summaid/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGenerator routes each prompt through fn without touching a real model.
type stubGenerator struct {
	fn func(prompt string, req llmservice.Request) (string, error)
}

func (s *stubGenerator) Generate(_ context.Context, prompt string, req llmservice.Request) (string, error) {
	return s.fn(prompt, req)
}

func testGenCfg() config.GenerationConfig {
	return config.GenerationConfig{
		Model:             "primary:8b",
		FallbackModels:    []string{"small:7b", "smaller:3b"},
		Temperature:       0.1,
		TopP:              0.9,
		RepeatPenalty:     1.1,
		NumCtx:            8192,
		GPUTimeoutSeconds: 5,
		CPUTimeoutSeconds: 10,
	}
}

func testSumCfg() config.SummaryConfig {
	return config.SummaryConfig{TaskTimeoutSeconds: 5, PipelineTimeoutSeconds: 10}
}

func newTestOrchestrator(fn func(prompt string, req llmservice.Request) (string, error)) *Orchestrator {
	return NewOrchestrator(&stubGenerator{fn: fn}, testGenCfg(), testSumCfg())
}

// routeByTask dispatches on the distinctive instruction line of each prompt
// template.
func routeByTask(classify, evolution, status, plan, specialty string) func(string, llmservice.Request) (string, error) {
	return func(prompt string, _ llmservice.Request) (string, error) {
		switch {
		case strings.Contains(prompt, "classify the patient specialty"):
			return classify, nil
		case strings.Contains(prompt, "medical journey"):
			return evolution, nil
		case strings.Contains(prompt, "CURRENT medical status"):
			return status, nil
		case strings.Contains(prompt, "treatment PLAN"):
			return plan, nil
		case strings.Contains(prompt, "Extract oncology data"), strings.Contains(prompt, "Extract audiology data"):
			return specialty, nil
		}
		return "", errors.New("unmatched prompt")
	}
}

const oncologyContext = "Oncology note dated 2024-06-20.\nPrior MRI 2024-01-15 showed a 3.2 cm mass."

func TestGenerateStructuredOncology(t *testing.T) {
	o := newTestOrchestrator(routeByTask(
		"Oncology.",
		"Diagnosed with breast cancer in early 2024, treated with chemotherapy, now in partial response.",
		"- On tamoxifen 20 mg daily\n- No evidence of metastasis",
		"- Continue letrozole therapy\n- Chemotherapy was administered\n- MRI scheduled for 2024-02-01",
		`{"tumor_size_trend":[{"date":"2024-06-20","size_cm":0.9},{"date":"2024-01-15","size_cm":3.2}],"cancer_type":"breast"}`,
	))

	res, err := o.GenerateStructured(context.Background(), oncologyContext, "patient 1")
	require.NoError(t, err)
	require.True(t, res.Validated)

	s := res.Summary
	assert.Equal(t, "oncology", s.Specialty)
	assert.Contains(t, s.Universal.Evolution, "breast cancer")
	assert.Equal(t, []string{"On tamoxifen 20 mg daily", "No evidence of metastasis"}, s.Universal.CurrentStatus)

	// Completion-language and stale-dated bullets are filtered out.
	assert.Equal(t, []string{"Continue letrozole therapy"}, s.Universal.Plan)

	require.NotNil(t, s.Oncology)
	require.Len(t, s.Oncology.TumorSizeTrend, 2)
	assert.Equal(t, TrendBaseline, s.Oncology.TumorSizeTrend[0].Status)
	assert.Equal(t, TrendPartialResponse, s.Oncology.TumorSizeTrend[1].Status)
	assert.Nil(t, s.Speech)
	assert.NotEmpty(t, s.GeneratedAt)
}

func TestGenerateStructuredSpeechTrend(t *testing.T) {
	speechJSON := `{
		"audiogram": {"left": {"500Hz": 40, "1000Hz": 40}, "right": {"500Hz": 40, "1000Hz": 40}, "test_date": "2024-05-01"},
		"prior_audiogram": {"left": {"500Hz": 30, "1000Hz": 30}, "right": {"500Hz": 30, "1000Hz": 30}, "test_date": "2023-05-01"},
		"hearing_loss_type": "Sensorineural"
	}`
	o := newTestOrchestrator(routeByTask(
		"speech",
		"Progressive hearing loss over the past year.",
		"- Moderate sensorineural hearing loss",
		"- Fit hearing aids bilaterally",
		speechJSON,
	))

	res, err := o.GenerateStructured(context.Background(), "Audiology visit 2024-05-01.", "patient 2")
	require.NoError(t, err)
	require.NotNil(t, res.Summary.Speech)
	assert.Equal(t, HearingWorsening, res.Summary.Speech.HearingTrend)
	assert.Nil(t, res.Summary.Oncology)
}

func TestGenerateStructuredSpecialtyJSONFailureDegrades(t *testing.T) {
	// A specialty response with no parseable JSON costs the section, not the
	// whole summary.
	o := newTestOrchestrator(routeByTask(
		"oncology",
		"Narrative text.",
		"- Stable",
		"- Follow up in 3 months",
		"I am unable to produce the requested JSON.",
	))

	res, err := o.GenerateStructured(context.Background(), oncologyContext, "patient 3")
	require.NoError(t, err)
	assert.True(t, res.Validated)
	assert.Nil(t, res.Summary.Oncology)
	assert.Equal(t, "oncology", res.Summary.Specialty)
	assert.Equal(t, []string{"Follow up in 3 months"}, res.Summary.Universal.Plan)
}

func TestGenerateStructuredTaskFailuresDegradePerField(t *testing.T) {
	o := newTestOrchestrator(func(prompt string, _ llmservice.Request) (string, error) {
		if strings.Contains(prompt, "treatment PLAN") {
			return "- Continue current medication", nil
		}
		return "", errors.New("service unavailable")
	})

	res, err := o.GenerateStructured(context.Background(), "Clinic note.", "patient 4")
	require.NoError(t, err)

	s := res.Summary
	assert.Equal(t, string(SpecialtyGeneral), s.Specialty)
	assert.Equal(t, EvolutionPlaceholder, s.Universal.Evolution)
	assert.Equal(t, []string{StatusPlaceholder}, s.Universal.CurrentStatus)
	assert.Equal(t, []string{"Continue current medication"}, s.Universal.Plan)
	assert.Nil(t, s.Oncology)
	assert.Nil(t, s.Speech)
}

func TestGenerateStructuredStrictValidation(t *testing.T) {
	badOncology := `{"tumor_size_trend":[{"date":"June 2024","size_cm":2.0}]}`
	route := routeByTask("oncology", "Narrative.", "- Stable", "- Follow up", badOncology)

	strict := NewOrchestrator(&stubGenerator{fn: route}, testGenCfg(),
		config.SummaryConfig{StrictValidation: true, TaskTimeoutSeconds: 5, PipelineTimeoutSeconds: 10})
	_, err := strict.GenerateStructured(context.Background(), oncologyContext, "patient 5")
	assert.ErrorIs(t, err, schema.ErrValidation)

	lenient := newTestOrchestrator(route)
	res, err := lenient.GenerateStructured(context.Background(), oncologyContext, "patient 5")
	require.NoError(t, err)
	assert.False(t, res.Validated)
	require.NotNil(t, res.Summary.Oncology)
}

func TestGenerateStructuredPipelineTimeoutFallback(t *testing.T) {
	route := routeByTask("general", "Narrative.", "- Stable", "- Follow up", "{}")
	o := NewOrchestrator(&stubGenerator{fn: route}, testGenCfg(),
		config.SummaryConfig{TaskTimeoutSeconds: 5, PipelineTimeoutSeconds: 0})

	res, err := o.GenerateStructured(context.Background(), "note", "patient 6")
	require.NoError(t, err)
	assert.True(t, res.Validated)
	assert.Contains(t, res.Summary.Universal.Evolution, "failed before completion")
	assert.Equal(t, []string{"Data extraction error"}, res.Summary.Universal.CurrentStatus)
}

func TestGenerateSingleShotParsesJSON(t *testing.T) {
	body := `Here is the summary:
{"universal":{"evolution":"Stable course.","current_status":["Doing well"],"plan":["Annual follow-up"]},"specialty":"general"}`
	o := newTestOrchestrator(func(_ string, _ llmservice.Request) (string, error) {
		return body, nil
	})

	res, err := o.GenerateSingleShot(context.Background(), "note", "patient 7")
	require.NoError(t, err)
	assert.True(t, res.Validated)
	assert.Equal(t, "Stable course.", res.Summary.Universal.Evolution)
	assert.Equal(t, []string{"Annual follow-up"}, res.Summary.Universal.Plan)
}

func TestGenerateSingleShotWrapsFreeText(t *testing.T) {
	o := newTestOrchestrator(func(_ string, _ llmservice.Request) (string, error) {
		return "The patient is recovering well after surgery.", nil
	})

	res, err := o.GenerateSingleShot(context.Background(), "note", "patient 8")
	require.NoError(t, err)
	assert.False(t, res.Validated)
	assert.Equal(t, "The patient is recovering well after surgery.", res.Summary.Universal.Evolution)
	assert.Empty(t, res.Summary.Universal.CurrentStatus)
}

func TestClipKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("é", 10) // 2 bytes per rune
	got := clip(s, 5)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "éé", got)

	assert.Equal(t, s, clip(s, len(s)))
	assert.Equal(t, "abc", clip("abcdef", 3))
}

func TestAnswerPassesQuestionAndPhrase(t *testing.T) {
	var captured string
	o := newTestOrchestrator(func(prompt string, _ llmservice.Request) (string, error) {
		captured = prompt
		return models.NoInformationPhrase, nil
	})

	out, err := o.Answer(context.Background(), "report text", "What is the staging?")
	require.NoError(t, err)
	assert.Equal(t, models.NoInformationPhrase, out)
	assert.Contains(t, captured, "What is the staging?")
	assert.Contains(t, captured, models.NoInformationPhrase)
	assert.Contains(t, captured, "report text")
}
