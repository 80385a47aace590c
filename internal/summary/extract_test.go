package summary

import (
	"testing"

	"summaid/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBullets(t *testing.T) {
	raw := "Here are the bullets:\n- first item\n  continued on next line\n• second item\n- third\n- fourth\n- fifth\n- sixth"
	got := parseBullets(raw, 5)
	require.Len(t, got, 5)
	assert.Equal(t, "first item continued on next line", got[0])
	assert.Equal(t, "second item", got[1])
	assert.Equal(t, "fifth", got[4])

	assert.Empty(t, parseBullets("no bullets here", 5))
}

func TestExtractJSON(t *testing.T) {
	raw := "Sure, here is the data:\n```json\n{\"cancer_type\": \"breast\"}\n```\nLet me know."
	assert.Equal(t, `{"cancer_type": "breast"}`, extractJSON(raw))
	assert.Equal(t, "", extractJSON("no object at all"))
	assert.Equal(t, "", extractJSON("} braces in the wrong order {"))
}

func TestDecodeSection(t *testing.T) {
	var o schema.Oncology
	assert.True(t, decodeSection(`prefix {"tnm_staging":"T2N0M0"} suffix`, &o))
	assert.Equal(t, "T2N0M0", o.TNMStaging)

	assert.False(t, decodeSection("the model refused to emit json", &o))
	assert.False(t, decodeSection(`{"tnm_staging": unterminated`, &o))
}

func TestLatestDate(t *testing.T) {
	text := "MRI on 2024-01-15, follow-up 2024-06, surgery 2023-11-02"
	assert.Equal(t, "2024-06", latestDate(text))
	assert.Equal(t, "", latestDate("no dates"))
}

func TestFilterPlan(t *testing.T) {
	status := []string{"On tamoxifen 20 mg daily", "No evidence of metastasis"}
	context := "Oncology note dated 2024-06-20. Prior MRI 2024-01-15."
	plan := []string{
		"Continue letrozole therapy",     // kept
		"On tamoxifen 20 mg daily",       // duplicates status
		"Chemotherapy was administered",  // completion language
		"MRI scheduled for 2024-02-01",   // dated before latest context date
	}
	got := FilterPlan(plan, status, context)
	assert.Equal(t, []string{"Continue letrozole therapy"}, got)
}

func TestFilterPlanNeverEmpty(t *testing.T) {
	got := FilterPlan([]string{"Surgery was performed"}, nil, "note from 2024-03-01")
	assert.Equal(t, []string{PlanPlaceholder}, got)

	got = FilterPlan(nil, nil, "")
	assert.Equal(t, []string{PlanPlaceholder}, got)
}

func TestFilterPlanWordOverlapDuplicate(t *testing.T) {
	status := []string{"Patient remains on adjuvant tamoxifen therapy daily"}
	plan := []string{"Patient remains on adjuvant tamoxifen therapy"}
	got := FilterPlan(plan, status, "")
	assert.Equal(t, []string{PlanPlaceholder}, got)
}

func TestAnnotateTumorTrendBaselineComparison(t *testing.T) {
	points := []schema.TumorMeasurement{
		{Date: "2024-06-20", SizeCM: 0.9},
		{Date: "2024-01-15", SizeCM: 3.2},
	}
	got := AnnotateTumorTrend(points)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-01-15", got[0].Date)
	assert.Equal(t, TrendBaseline, got[0].Status)
	assert.Equal(t, TrendPartialResponse, got[1].Status)
}

func TestAnnotateTumorTrendWorseningAndStable(t *testing.T) {
	got := AnnotateTumorTrend([]schema.TumorMeasurement{
		{Date: "2024-01", SizeCM: 2.0},
		{Date: "2024-03", SizeCM: 2.1},
		{Date: "2024-05", SizeCM: 2.5},
	})
	require.Len(t, got, 3)
	assert.Equal(t, TrendBaseline, got[0].Status)
	assert.Equal(t, TrendStable, got[1].Status)   // +5%
	assert.Equal(t, TrendWorsening, got[2].Status) // +25%
}

func TestAnnotateTumorTrendZeroBaseline(t *testing.T) {
	got := AnnotateTumorTrend([]schema.TumorMeasurement{
		{Date: "2024-01-01", SizeCM: 0},
		{Date: "2024-02-01", SizeCM: 1.0},
	})
	assert.Equal(t, TrendStable, got[1].Status)
}

func TestAnnotateTumorTrendEmpty(t *testing.T) {
	assert.Empty(t, AnnotateTumorTrend(nil))
}

func f(v float64) *float64 { return &v }

func TestComputeHearingTrend(t *testing.T) {
	prior := &schema.Audiogram{
		Left:  &schema.EarThresholds{Hz500: f(30), Hz1000: f(30)},
		Right: &schema.EarThresholds{Hz500: f(30), Hz1000: f(30)},
	}
	worse := &schema.Audiogram{
		Left:  &schema.EarThresholds{Hz500: f(40), Hz1000: f(40)},
		Right: &schema.EarThresholds{Hz500: f(40), Hz1000: f(40)},
	}
	better := &schema.Audiogram{
		Left:  &schema.EarThresholds{Hz500: f(20), Hz1000: f(20)},
		Right: &schema.EarThresholds{Hz500: f(20), Hz1000: f(20)},
	}
	near := &schema.Audiogram{
		Left:  &schema.EarThresholds{Hz500: f(32), Hz1000: f(33)},
		Right: &schema.EarThresholds{Hz500: f(31), Hz1000: f(32)},
	}

	assert.Equal(t, HearingWorsening, ComputeHearingTrend(prior, worse))
	assert.Equal(t, HearingImproving, ComputeHearingTrend(prior, better))
	assert.Equal(t, HearingStable, ComputeHearingTrend(prior, near))
	assert.Equal(t, "", ComputeHearingTrend(nil, worse))
	assert.Equal(t, "", ComputeHearingTrend(prior, &schema.Audiogram{}))
}
