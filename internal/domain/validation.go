package domain

type FeedbackKind string

const (
	FeedbackForbidden FeedbackKind = "forbidden"
	FeedbackRequired  FeedbackKind = "required"
	FeedbackAlignment FeedbackKind = "alignment"
	FeedbackContent   FeedbackKind = "content"
)

// FeedbackItem is one actionable finding. Constraint is phrased so it can be
// fed back into the next prompt as is, e.g. "avoid superlatives".
type FeedbackItem struct {
	Kind       FeedbackKind `json:"kind"`
	Constraint string       `json:"constraint"`
	Message    string       `json:"message"`
	ChunkID    uint         `json:"chunk_id,omitempty"`
	Matches    []string     `json:"matches,omitempty"`
}

type Tone string

const (
	ToneFormal  Tone = "formal"
	ToneCasual  Tone = "casual"
	ToneNeutral Tone = "neutral"
)

// ValidationResult is the verdict for one draft. Citations holds the ids of
// the guideline chunks the feedback cites; Retrieved holds every chunk the
// draft was judged against.
type ValidationResult struct {
	Pass      bool           `json:"pass"`
	Score     float64        `json:"score"`
	Citations []uint         `json:"citations"`
	Retrieved []uint         `json:"retrieved"`
	Feedback  []FeedbackItem `json:"feedback,omitempty"`
	Summary   string         `json:"summary"`
	Tone      Tone           `json:"tone,omitempty"`
}

// Constraints returns the distinct constraints of the feedback in order.
func (r ValidationResult) Constraints() []string {
	seen := make(map[string]bool, len(r.Feedback))
	var out []string
	for _, f := range r.Feedback {
		if f.Constraint == "" || seen[f.Constraint] {
			continue
		}
		seen[f.Constraint] = true
		out = append(out, f.Constraint)
	}
	return out
}
