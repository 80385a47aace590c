package summary

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"summaid/internal/schema"
)

// parseBullets splits a model response into bullet items. Lines starting
// with a dash or bullet glyph open a new item; other non-empty lines are
// treated as continuations. At most max items are returned.
func parseBullets(raw string, max int) []string {
	var bullets []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "-"):
			bullets = append(bullets, strings.TrimSpace(line[1:]))
		case strings.HasPrefix(line, "•"):
			bullets = append(bullets, strings.TrimSpace(strings.TrimPrefix(line, "•")))
		case len(bullets) > 0:
			bullets[len(bullets)-1] += " " + line
		}
	}
	if len(bullets) > max {
		bullets = bullets[:max]
	}
	return bullets
}

// extractJSON locates the first '{' and the last '}' in a raw response and
// returns the substring between them, or "" when no object is present.
// Models wrap JSON in prose and code fences often enough that this is the
// only reliable way to get at it.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return ""
	}
	return raw[start : end+1]
}

// decodeSection parses the JSON object embedded in raw into dst. A response
// with no parseable object is not an error for the pipeline: the specialty
// section simply resolves to nil.
func decodeSection(raw string, dst any) bool {
	obj := extractJSON(raw)
	if obj == "" {
		return false
	}
	return json.Unmarshal([]byte(obj), dst) == nil
}

var dateRe = regexp.MustCompile(`\b(\d{4})-(\d{2})(?:-(\d{2}))?\b`)

// latestDate returns the lexicographically greatest ISO date found in text.
// YYYY-MM-DD and YYYY-MM both sort correctly as strings.
func latestDate(text string) string {
	latest := ""
	for _, m := range dateRe.FindAllString(text, -1) {
		if m > latest {
			latest = m
		}
	}
	return latest
}

// completionWords mark a plan bullet as describing something already done.
var completionWords = []string{"completed", "performed", "was administered", "underwent"}

// PlanPlaceholder substitutes for a plan list that filtering emptied.
const PlanPlaceholder = "Plan information not available"

// FilterPlan applies the temporal-safety filter to plan bullets: drop any
// bullet that duplicates a current-status bullet, uses completion language,
// or carries a date earlier than the latest date anywhere in the context.
// The result is never empty.
func FilterPlan(plan, currentStatus []string, contextText string) []string {
	contextLatest := latestDate(contextText)

	var kept []string
	for _, bullet := range plan {
		if duplicatesAny(bullet, currentStatus) {
			continue
		}
		if containsCompletionLanguage(bullet) {
			continue
		}
		if d := latestDate(bullet); d != "" && contextLatest != "" && d < contextLatest {
			continue
		}
		kept = append(kept, bullet)
	}
	if len(kept) == 0 {
		return []string{PlanPlaceholder}
	}
	return kept
}

func containsCompletionLanguage(bullet string) bool {
	lower := strings.ToLower(bullet)
	for _, w := range completionWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// duplicatesAny reports whether a bullet repeats one of the status bullets.
// Semantic duplication is approximated with normalized containment plus a
// word-overlap threshold.
func duplicatesAny(bullet string, statuses []string) bool {
	b := normalizeBullet(bullet)
	if b == "" {
		return false
	}
	for _, s := range statuses {
		n := normalizeBullet(s)
		if n == "" {
			continue
		}
		if b == n || strings.Contains(b, n) || strings.Contains(n, b) {
			return true
		}
		if wordOverlap(b, n) >= 0.8 {
			return true
		}
	}
	return false
}

var nonWordRe = regexp.MustCompile(`[^a-z0-9 ]+`)

func normalizeBullet(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonWordRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// wordOverlap is the share of the shorter bullet's words present in the
// other bullet.
func wordOverlap(a, b string) float64 {
	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}
	if len(wordsB) < len(wordsA) {
		wordsA, wordsB = wordsB, wordsA
	}
	set := make(map[string]struct{}, len(wordsB))
	for _, w := range wordsB {
		set[w] = struct{}{}
	}
	hits := 0
	for _, w := range wordsA {
		if _, ok := set[w]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(wordsA))
}

// Tumor trend labels. Thresholds follow RECIST-style response criteria:
// a 30% reduction from baseline is a partial response, a 20% increase is
// progression.
const (
	TrendPartialResponse = "PARTIAL RESPONSE"
	TrendWorsening       = "WORSENING"
	TrendStable          = "STABLE"
	TrendBaseline        = "BASELINE"
)

// AnnotateTumorTrend sorts measurements chronologically and stamps each
// point with its trend versus the FIRST measurement. Baseline comparison is
// the canonical rule here, not point-to-previous-point.
func AnnotateTumorTrend(points []schema.TumorMeasurement) []schema.TumorMeasurement {
	if len(points) == 0 {
		return points
	}
	sorted := make([]schema.TumorMeasurement, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	baseline := sorted[0].SizeCM
	sorted[0].Status = TrendBaseline
	for i := 1; i < len(sorted); i++ {
		sorted[i].Status = tumorTrendStatus(baseline, sorted[i].SizeCM)
	}
	return sorted
}

func tumorTrendStatus(baseline, size float64) string {
	if baseline <= 0 {
		return TrendStable
	}
	change := (size - baseline) / baseline
	switch {
	case change <= -0.30:
		return TrendPartialResponse
	case change >= 0.20:
		return TrendWorsening
	default:
		return TrendStable
	}
}

// Hearing trend labels.
const (
	HearingImproving = "IMPROVING"
	HearingWorsening = "WORSENING"
	HearingStable    = "STABLE"
)

// hearingTrendThresholdDB is the mean-threshold shift treated as a real
// change rather than test-retest noise.
const hearingTrendThresholdDB = 5.0

// ComputeHearingTrend compares mean thresholds across two serial audiograms.
// Higher dB means worse hearing. Returns "" when either side has no data.
func ComputeHearingTrend(prior, latest *schema.Audiogram) string {
	prev, okPrev := meanThreshold(prior)
	curr, okCurr := meanThreshold(latest)
	if !okPrev || !okCurr {
		return ""
	}
	switch {
	case curr-prev >= hearingTrendThresholdDB:
		return HearingWorsening
	case prev-curr >= hearingTrendThresholdDB:
		return HearingImproving
	default:
		return HearingStable
	}
}

func meanThreshold(a *schema.Audiogram) (float64, bool) {
	if a == nil {
		return 0, false
	}
	var sum float64
	var n int
	for _, ear := range []*schema.EarThresholds{a.Left, a.Right} {
		if ear == nil {
			continue
		}
		for _, v := range ear.Values() {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
