// Package validator judges a draft against the brand guidelines closest to it.
package validator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/brandpilot/backend/internal/domain"
	"github.com/brandpilot/backend/internal/utils"
	"k8s.io/klog/v2"
)

const (
	maxQueryChars   = 2000
	maxSnippetChars = 120
)

// Searcher is the part of the guideline index the validator needs.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error)
}

type Config struct {
	TopK               int
	Threshold          float64
	SemanticWeight     float64
	RuleWeight         float64
	MinChunkSimilarity float64
}

func DefaultConfig() Config {
	return Config{
		TopK:               5,
		Threshold:          0.5,
		SemanticWeight:     0.4,
		RuleWeight:         0.6,
		MinChunkSimilarity: 0.2,
	}
}

// Validator is deterministic for a fixed index: the same draft, brief and
// guideline set always give the same verdict and citations.
type Validator struct {
	index Searcher
	cfg   Config
}

func New(index Searcher, cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.SemanticWeight < 0 || cfg.RuleWeight < 0 || cfg.SemanticWeight+cfg.RuleWeight == 0 {
		cfg.SemanticWeight, cfg.RuleWeight = def.SemanticWeight, def.RuleWeight
	}
	return &Validator{index: index, cfg: cfg}
}

// Validate returns a verdict for every reachable index, including failing ones.
// The only error is ErrValidationUnavailable.
func (v *Validator) Validate(ctx context.Context, draft domain.Draft, brief domain.Brief) (domain.ValidationResult, error) {
	chunks, err := v.index.Search(ctx, queryDigest(draft, brief), v.cfg.TopK)
	if err != nil {
		return domain.ValidationResult{}, fmt.Errorf("%w: %w", domain.ErrValidationUnavailable, err)
	}

	result := domain.ValidationResult{
		Citations: []uint{},
		Retrieved: retrieved(chunks),
		Tone:      DetectTone(draft.Text),
	}

	var feedback []domain.FeedbackItem
	empty := strings.TrimSpace(draft.Text) == ""
	if empty {
		feedback = append(feedback, domain.FeedbackItem{
			Kind:       domain.FeedbackContent,
			Constraint: "must include marketing copy text",
			Message:    "draft text is empty",
		})
	}

	rules := ExtractRules(chunks, brief)
	satisfied := 0
	flagged := map[uint]bool{}
	for _, rule := range rules {
		item, violated := checkRule(rule, draft.Text)
		if !violated {
			satisfied++
			continue
		}
		flagged[rule.ChunkID] = true
		feedback = append(feedback, item)
	}
	hardViolation := len(rules) > satisfied

	ruleScore := 1.0
	if len(rules) > 0 {
		ruleScore = float64(satisfied) / float64(len(rules))
	}
	semantic := meanSimilarity(chunks)
	total := v.cfg.SemanticWeight + v.cfg.RuleWeight
	result.Score = round((v.cfg.SemanticWeight*semantic + v.cfg.RuleWeight*ruleScore) / total)

	result.Pass = !empty && !hardViolation && result.Score >= v.cfg.Threshold
	if result.Pass {
		result.Summary = fmt.Sprintf("draft complies with %d retrieved guideline chunks (%d rules checked)", len(chunks), len(rules))
		klog.V(6).Infof("[Validator] pass: brand=%s, score=%.3f, rules=%d", brief.BrandName, result.Score, len(rules))
		return result, nil
	}

	feedback = append(feedback, v.alignmentFeedback(chunks, flagged, result.Score, len(feedback) == 0)...)
	result.Feedback = feedback
	result.Citations = citations(feedback)
	result.Summary = summarize(feedback, result.Score, v.cfg.Threshold)
	klog.V(6).Infof("[Validator] fail: brand=%s, score=%.3f, feedback=%d", brief.BrandName, result.Score, len(feedback))
	return result, nil
}

func checkRule(rule Rule, text string) (domain.FeedbackItem, bool) {
	switch rule.Kind {
	case RuleForbidden:
		found := findTerms(text, rule.Terms)
		if len(found) == 0 {
			return domain.FeedbackItem{}, false
		}
		return domain.FeedbackItem{
			Kind:       domain.FeedbackForbidden,
			Constraint: rule.Constraint,
			Message:    fmt.Sprintf("draft uses %s (%s), guideline #%d says: %q", rule.Subject, strings.Join(found, ", "), rule.ChunkID, rule.Sentence),
			ChunkID:    rule.ChunkID,
			Matches:    found,
		}, true
	case RuleRequired:
		found := findTerms(text, rule.Terms)
		if len(found) == len(rule.Terms) {
			return domain.FeedbackItem{}, false
		}
		missing := missingTerms(rule.Terms, found)
		return domain.FeedbackItem{
			Kind:       domain.FeedbackRequired,
			Constraint: rule.Constraint,
			Message:    fmt.Sprintf("draft does not mention %s, guideline #%d says: %q", strings.Join(missing, ", "), rule.ChunkID, rule.Sentence),
			ChunkID:    rule.ChunkID,
			Matches:    missing,
		}, true
	}
	return domain.FeedbackItem{}, false
}

// alignmentFeedback cites low-similarity chunks not already covered by a rule.
// When nothing else explains a failing score the weakest chunk is cited.
func (v *Validator) alignmentFeedback(chunks []domain.ScoredChunk, flagged map[uint]bool, score float64, needOne bool) []domain.FeedbackItem {
	var items []domain.FeedbackItem
	weakest := -1
	for i, sc := range chunks {
		if flagged[sc.Chunk.ID] {
			continue
		}
		if weakest < 0 || sc.Score < chunks[weakest].Score {
			weakest = i
		}
		if sc.Score < v.cfg.MinChunkSimilarity {
			items = append(items, alignmentItem(sc))
		}
	}
	if len(items) == 0 && needOne && weakest >= 0 {
		items = append(items, alignmentItem(chunks[weakest]))
	}
	return items
}

func alignmentItem(sc domain.ScoredChunk) domain.FeedbackItem {
	snippet := snippetOf(sc.Chunk.Text)
	return domain.FeedbackItem{
		Kind:       domain.FeedbackAlignment,
		Constraint: fmt.Sprintf("align with guideline #%d: %s", sc.Chunk.ID, snippet),
		Message:    fmt.Sprintf("draft is weakly aligned with guideline #%d (similarity %.2f)", sc.Chunk.ID, sc.Score),
		ChunkID:    sc.Chunk.ID,
	}
}

func queryDigest(draft domain.Draft, brief domain.Brief) string {
	text := strings.TrimSpace(draft.Text)
	text = utils.Truncate(text, maxQueryChars)
	return strings.TrimSpace(brief.BrandName + "\n" + text)
}

func retrieved(chunks []domain.ScoredChunk) []uint {
	ids := make([]uint, 0, len(chunks))
	for _, sc := range chunks {
		ids = append(ids, sc.Chunk.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// citations returns the sorted distinct chunk ids cited by feedback.
func citations(feedback []domain.FeedbackItem) []uint {
	seen := make(map[uint]bool, len(feedback))
	ids := []uint{}
	for _, f := range feedback {
		if f.ChunkID == 0 || seen[f.ChunkID] {
			continue
		}
		seen[f.ChunkID] = true
		ids = append(ids, f.ChunkID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// meanSimilarity clips negative scores to zero. With no guidelines there is
// nothing to disagree with, so the draft counts as aligned.
func meanSimilarity(chunks []domain.ScoredChunk) float64 {
	if len(chunks) == 0 {
		return 1
	}
	var sum float64
	for _, sc := range chunks {
		sum += math.Max(0, sc.Score)
	}
	return sum / float64(len(chunks))
}

func missingTerms(terms, found []string) []string {
	have := make(map[string]bool, len(found))
	for _, f := range found {
		have[f] = true
	}
	var out []string
	for _, t := range terms {
		if !have[t] {
			out = append(out, t)
		}
	}
	return out
}

func summarize(feedback []domain.FeedbackItem, score, threshold float64) string {
	parts := make([]string, 0, len(feedback))
	for _, f := range feedback {
		parts = append(parts, f.Constraint)
	}
	return fmt.Sprintf("draft rejected (score %.2f, threshold %.2f): %s", score, threshold, strings.Join(parts, "; "))
}

func snippetOf(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= maxSnippetChars {
		return text
	}
	head := utils.Truncate(text, maxSnippetChars)
	if cut := strings.LastIndex(head, " "); cut > 0 {
		head = head[:cut]
	}
	return head + "..."
}

func round(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}
