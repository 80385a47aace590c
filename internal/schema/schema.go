// Package schema defines the structured summary contract and enforces it.
// Validation is structural and range-based only; it never attempts semantic
// fact-checking of the generated content.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrValidation wraps every validation failure so callers can decide between
// rejecting outright and degrading to the unvalidated object.
var ErrValidation = errors.New("summary validation failed")

// StructuredSummary is the validated output of summary generation. Exactly
// one specialty section is populated at most; unset sections marshal away.
type StructuredSummary struct {
	Universal   Universal `json:"universal"`
	Oncology    *Oncology `json:"oncology,omitempty"`
	Speech      *Speech   `json:"speech,omitempty"`
	Specialty   string    `json:"specialty,omitempty"`
	GeneratedAt string    `json:"generated_at,omitempty"`
	PatientID   int64     `json:"patient_id,omitempty"`
}

// Universal is required for every patient. The lists may be empty but the
// keys must be present in candidate JSON.
type Universal struct {
	Evolution     string   `json:"evolution"`
	CurrentStatus []string `json:"current_status"`
	Plan          []string `json:"plan"`
}

// TumorMeasurement is one dated tumor size data point.
type TumorMeasurement struct {
	Date     string  `json:"date" validate:"required,clindate"`
	SizeCM   float64 `json:"size_cm" validate:"gte=0"`
	Location string  `json:"location,omitempty"`
	Status   string  `json:"status,omitempty"`
}

type Oncology struct {
	TumorSizeTrend     []TumorMeasurement `json:"tumor_size_trend,omitempty" validate:"dive"`
	TNMStaging         string             `json:"tnm_staging,omitempty"`
	CancerType         string             `json:"cancer_type,omitempty"`
	Grade              string             `json:"grade,omitempty"`
	Biomarkers         map[string]any     `json:"biomarkers,omitempty"`
	TreatmentResponse  string             `json:"treatment_response,omitempty"`
	PertinentNegatives []string           `json:"pertinent_negatives,omitempty"`
}

// EarThresholds holds per-frequency hearing thresholds in dB HL.
type EarThresholds struct {
	Hz500  *float64 `json:"500Hz,omitempty" validate:"omitempty,gte=-10,lte=120"`
	Hz1000 *float64 `json:"1000Hz,omitempty" validate:"omitempty,gte=-10,lte=120"`
	Hz2000 *float64 `json:"2000Hz,omitempty" validate:"omitempty,gte=-10,lte=120"`
	Hz4000 *float64 `json:"4000Hz,omitempty" validate:"omitempty,gte=-10,lte=120"`
	Hz8000 *float64 `json:"8000Hz,omitempty" validate:"omitempty,gte=-10,lte=120"`
}

// Values returns the set thresholds in ascending frequency order.
func (e *EarThresholds) Values() []float64 {
	var out []float64
	for _, v := range []*float64{e.Hz500, e.Hz1000, e.Hz2000, e.Hz4000, e.Hz8000} {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

type Audiogram struct {
	Left     *EarThresholds `json:"left,omitempty"`
	Right    *EarThresholds `json:"right,omitempty"`
	TestDate string         `json:"test_date,omitempty" validate:"omitempty,clindate"`
	Status   string         `json:"status,omitempty"`
}

type SpeechScores struct {
	SRTdB      *float64 `json:"srt_db,omitempty" validate:"omitempty,gte=0,lte=120"`
	WRSPercent *float64 `json:"wrs_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	MCLdB      *float64 `json:"mcl_db,omitempty" validate:"omitempty,gte=0,lte=140"`
	UCLdB      *float64 `json:"ucl_db,omitempty" validate:"omitempty,gte=0,lte=140"`
}

type Speech struct {
	Audiogram           *Audiogram    `json:"audiogram,omitempty"`
	PriorAudiogram      *Audiogram    `json:"prior_audiogram,omitempty"`
	SpeechScores        *SpeechScores `json:"speech_scores,omitempty"`
	HearingLossType     string        `json:"hearing_loss_type,omitempty"`
	HearingLossSeverity string        `json:"hearing_loss_severity,omitempty"`
	HearingTrend        string        `json:"hearing_trend,omitempty"`
	Tinnitus            *bool         `json:"tinnitus,omitempty"`
	BalanceIssues       *bool         `json:"balance_issues,omitempty"`
	Amplification       string        `json:"amplification,omitempty"`
	PertinentNegatives  []string      `json:"pertinent_negatives,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// clindate accepts YYYY-MM-DD or YYYY-MM.
	_ = v.RegisterValidation("clindate", func(fl validator.FieldLevel) bool {
		return ValidClinicalDate(fl.Field().String())
	})
	return v
}

// ValidClinicalDate reports whether s parses as YYYY-MM-DD or YYYY-MM.
func ValidClinicalDate(s string) bool {
	switch len(s) {
	case 10:
		_, err := time.Parse("2006-01-02", s)
		return err == nil
	case 7:
		_, err := time.Parse("2006-01", s)
		return err == nil
	}
	return false
}

// Validate checks field-level constraints on an assembled summary.
func Validate(s *StructuredSummary) error {
	if s == nil {
		return fmt.Errorf("%w: nil summary", ErrValidation)
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// ParseAndValidate checks a candidate JSON object: the universal section and
// its three keys must be present, then field constraints apply.
func ParseAndValidate(raw []byte) (*StructuredSummary, error) {
	var probe struct {
		Universal *struct {
			Evolution     *string   `json:"evolution"`
			CurrentStatus *[]string `json:"current_status"`
			Plan          *[]string `json:"plan"`
		} `json:"universal"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	switch {
	case probe.Universal == nil:
		return nil, fmt.Errorf("%w: missing universal section", ErrValidation)
	case probe.Universal.Evolution == nil:
		return nil, fmt.Errorf("%w: missing universal.evolution", ErrValidation)
	case probe.Universal.CurrentStatus == nil:
		return nil, fmt.Errorf("%w: missing universal.current_status", ErrValidation)
	case probe.Universal.Plan == nil:
		return nil, fmt.Errorf("%w: missing universal.plan", ErrValidation)
	}

	var s StructuredSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Canonical serializes the summary with unset sections omitted. Lists in the
// universal section are kept even when empty: the keys are part of the
// contract.
func (s *StructuredSummary) Canonical() ([]byte, error) {
	if s.Universal.CurrentStatus == nil {
		s.Universal.CurrentStatus = []string{}
	}
	if s.Universal.Plan == nil {
		s.Universal.Plan = []string{}
	}
	return json.MarshalIndent(s, "", "  ")
}
