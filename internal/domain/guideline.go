package domain

// GuidelineDocument is raw brand guidance submitted for indexing.
type GuidelineDocument struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Source string `json:"source,omitempty"`
	Text   string `json:"text"`
}

// GuidelineChunk is a retrievable slice of a guideline document.
// IDs grow with insertion order.
type GuidelineChunk struct {
	ID         uint   `json:"id"`
	DocumentID string `json:"document_id"`
	Seq        int    `json:"seq"`
	Text       string `json:"text"`
}

type ScoredChunk struct {
	Chunk GuidelineChunk `json:"chunk"`
	Score float64        `json:"score"`
}
