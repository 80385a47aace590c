// Package citation turns retrieved fragments into provenance records that
// accompany a summary. Section tags are keyword heuristics meant to help a
// viewer group citations; they are best-effort, not authoritative.
package citation

import (
	"strings"

	"summaid/internal/models"
	"summaid/internal/normalizer"
)

var sectionKeywords = map[string][]string{
	"labs":            {"hemoglobin", "wbc", "platelet", "creatinine", "g/dl", "mg/dl", "lab results", "cbc"},
	"imaging":         {"ct scan", "mri", "x-ray", "ultrasound", "radiology", "findings", "impression"},
	"pathology":       {"biopsy", "carcinoma", "histolog", "pathology", "specimen", "grade"},
	"audiology":       {"audiogram", "db hl", "hearing", "srt", "wrs", "tinnitus", "cochlear"},
	"medications":     {"mg daily", "dose", "tablet", "prescribed", "medication", "chemotherapy"},
	"recommendations": {"recommend", "follow-up", "follow up", "schedule", "plan:", "next steps"},
}

// tagOrder keeps tag output deterministic.
var tagOrder = []string{"labs", "imaging", "pathology", "audiology", "medications", "recommendations"}

// Build emits one citation per fragment in the retrieved context, preserving
// context order.
func Build(rc *models.RetrievedContext) []models.Citation {
	citations := make([]models.Citation, 0, len(rc.Fragments))
	for _, rf := range rc.Fragments {
		f := rf.Fragment
		citations = append(citations, models.Citation{
			FragmentID:  f.ID,
			DocumentID:  f.DocumentID,
			Preview:     normalizer.Preview(f.Text, models.PreviewLen),
			FullText:    normalizer.Normalize(f.Text),
			Page:        f.Page,
			Position:    f.Position,
			SectionTags: InferSectionTags(f.Text),
		})
	}
	return citations
}

// InferSectionTags guesses which summary sections a fragment supports.
func InferSectionTags(text string) []string {
	lower := strings.ToLower(text)
	var tags []string
	for _, tag := range tagOrder {
		for _, kw := range sectionKeywords[tag] {
			if strings.Contains(lower, kw) {
				tags = append(tags, tag)
				break
			}
		}
	}
	return tags
}
