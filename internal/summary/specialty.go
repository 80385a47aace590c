package summary

import "strings"

// Specialty is the closed classification set. Anything the classifier emits
// outside it is normalized to SpecialtyGeneral.
type Specialty string

const (
	SpecialtyOncology Specialty = "oncology"
	SpecialtySpeech   Specialty = "speech"
	SpecialtyGeneral  Specialty = "general"
)

// NormalizeSpecialty maps a raw classifier response to the closed set. The
// model is told to answer with one word but routinely adds casing, trailing
// punctuation or a sentence around it, so this is deliberately forgiving:
// exact match first, then substring heuristics, then the general default.
func NormalizeSpecialty(raw string) Specialty {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, ".!?\"':; \t\n")

	switch Specialty(s) {
	case SpecialtyOncology, SpecialtySpeech, SpecialtyGeneral:
		return Specialty(s)
	}

	if strings.Contains(s, "oncology") || strings.Contains(s, "cancer") {
		return SpecialtyOncology
	}
	if strings.Contains(s, "speech") || strings.Contains(s, "audio") {
		return SpecialtySpeech
	}
	return SpecialtyGeneral
}
