package models

// Fragment is the smallest retrievable unit of report text. Fragments carry
// their own embedding, produced once at ingestion.
type Fragment struct {
	ID         int64
	DocumentID int64
	Text       string
	Page       int
	Position   int    // chunk index within the owning document
	Section    string // detected section label (FINDINGS, IMPRESSION, ...), may be empty
	Embedding  []float32
}

// RelevanceTier records why a fragment made it into the context window.
// Lower values outrank higher ones during the merge.
type RelevanceTier int

const (
	TierStructural RelevanceTier = iota
	TierKeyword
	TierSimilarity
)

func (t RelevanceTier) String() string {
	switch t {
	case TierStructural:
		return "structural"
	case TierKeyword:
		return "keyword"
	case TierSimilarity:
		return "similarity"
	}
	return "unknown"
}

// RetrievedFragment pairs a fragment with the tier that selected it.
type RetrievedFragment struct {
	Fragment Fragment
	Tier     RelevanceTier
}

// RetrievedContext is the merged, deduplicated, budget-bounded context window
// for one generation request. Rebuilt per request, never stored.
type RetrievedContext struct {
	Fragments  []RetrievedFragment
	TotalChars int
}

// RetrievalQuery holds the resolved inputs of one retrieval call.
type RetrievalQuery struct {
	Basis        string
	Keywords     []string
	MaxFragments int
	MaxChars     int
	Embedding    []float32
}

// Citation maps one context fragment back to its source for provenance.
type Citation struct {
	FragmentID  int64    `json:"source_chunk_id"`
	DocumentID  int64    `json:"report_id"`
	Preview     string   `json:"source_text_preview"`
	FullText    string   `json:"source_full_text"`
	Page        int      `json:"page,omitempty"`
	Position    int      `json:"chunk_index,omitempty"`
	SectionTags []string `json:"section_tags,omitempty"`
}

// GenerationAttempt records a single call to the generation service. Only
// used to drive fallback decisions; never persisted.
type GenerationAttempt struct {
	Model    string
	ForceCPU bool
	Err      error
}

// Chunk is a parsed ingestion chunk with positional metadata, produced by
// the report parser before embedding.
type Chunk struct {
	Content    string
	PageNumber int
	ChunkID    int
	Section    string // structural section the chunk opens with, if any
}
