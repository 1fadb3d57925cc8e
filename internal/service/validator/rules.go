package validator

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/brandpilot/backend/internal/domain"
)

type RuleKind string

const (
	RuleForbidden RuleKind = "forbidden"
	RuleRequired  RuleKind = "required"
)

// Rule is a hard constraint read out of a guideline sentence.
type Rule struct {
	Kind       RuleKind
	Subject    string
	Terms      []string
	ChunkID    uint
	Sentence   string
	Constraint string
}

// category maps a phrase guidelines use for a class of words to the words themselves.
type category struct {
	name  string
	keys  []string
	terms []string
}

var categories = []category{
	{"superlatives", []string{"superlative"}, []string{"best", "greatest", "ultimate", "unbeatable", "unmatched", "unrivaled", "finest", "number one", "#1", "ever", "perfect", "top-rated"}},
	{"absolute claims", []string{"absolute", "guarantee", "promise"}, []string{"guaranteed", "guarantee", "100%", "risk-free", "never fails", "always works", "proven"}},
	{"slang", []string{"slang", "casual language", "informal"}, []string{"gonna", "wanna", "kinda", "yeah", "awesome", "cool", "dude", "pretty much", "you guys"}},
	{"negative language", []string{"negative"}, []string{"cheap", "scam", "fraud", "terrible", "worst", "hate"}},
	{"jargon", []string{"jargon", "buzzword"}, []string{"synergy", "leverage", "paradigm", "disruptive", "bleeding-edge", "game-changer"}},
	{"exclamation marks", []string{"exclamation"}, []string{"!"}},
}

var (
	sentenceSplit  = regexp.MustCompile(`[.;?\n]+`)
	forbiddenRe    = regexp.MustCompile(`(?i)\b(?:never|do not|don't|must not|mustn't|should not|shouldn't|avoid)\s+(.+)`)
	requiredRe     = regexp.MustCompile(`(?i)\b(?:always|must|should always)\s+(?:include|mention|use|feature|reference|state|name|show)\s+(.+)`)
	leadingVerbRe  = regexp.MustCompile(`(?i)^(?:use|using|say|saying|mention|mentioning|include|including|write|writing|make|making|claim|claiming)\s+`)
	listIntroRe    = regexp.MustCompile(`(?i)^(?:the\s+)?(?:words|terms|phrases|language)\s+(?:like|such as)\s+`)
	quotedRe       = regexp.MustCompile(`["“']([^"”']+)["”']`)
	contextCutRe   = regexp.MustCompile(`(?i)\s+(?:in|when|for|on|across|within|throughout)\s+.*$`)
	listSeparators = regexp.MustCompile(`(?i)\s*(?:,|\bor\b|\band\b|/)\s*`)
	brandNameRe    = regexp.MustCompile(`(?i)\b(?:the|our)?\s*brand(?:'s)?\s+name\b`)
)

// ExtractRules reads forbidden and required rules out of the retrieved chunks.
// Duplicate constraints keep the first chunk, i.e. the most similar one.
func ExtractRules(chunks []domain.ScoredChunk, brief domain.Brief) []Rule {
	var rules []Rule
	seen := map[string]bool{}
	for _, sc := range chunks {
		for _, sentence := range sentenceSplit.Split(sc.Chunk.Text, -1) {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" {
				continue
			}
			rule, ok := parseSentence(sentence, brief)
			if !ok || seen[rule.Constraint] {
				continue
			}
			seen[rule.Constraint] = true
			rule.ChunkID = sc.Chunk.ID
			rule.Sentence = sentence
			rules = append(rules, rule)
		}
	}
	return rules
}

func parseSentence(sentence string, brief domain.Brief) (Rule, bool) {
	if m := forbiddenRe.FindStringSubmatch(sentence); m != nil {
		subject := leadingVerbRe.ReplaceAllString(strings.TrimSpace(m[1]), "")
		name, terms := resolveTerms(subject, brief)
		if len(terms) == 0 {
			return Rule{}, false
		}
		return Rule{Kind: RuleForbidden, Subject: name, Terms: terms, Constraint: "avoid " + name}, true
	}
	if m := requiredRe.FindStringSubmatch(sentence); m != nil {
		name, terms := resolveTerms(strings.TrimSpace(m[1]), brief)
		if len(terms) == 0 {
			return Rule{}, false
		}
		return Rule{Kind: RuleRequired, Subject: name, Terms: terms, Constraint: "must include " + name}, true
	}
	return Rule{}, false
}

// resolveTerms turns a rule subject into the words to look for.
func resolveTerms(subject string, brief domain.Brief) (string, []string) {
	subject = strings.TrimRight(strings.TrimSpace(subject), "!:,")
	lower := strings.ToLower(subject)

	if brandNameRe.MatchString(lower) && brief.BrandName != "" {
		return brief.BrandName, []string{brief.BrandName}
	}

	if quoted := quotedRe.FindAllStringSubmatch(subject, -1); len(quoted) > 0 {
		terms := make([]string, 0, len(quoted))
		for _, q := range quoted {
			if t := strings.TrimSpace(q[1]); t != "" {
				terms = append(terms, t)
			}
		}
		return strings.Join(terms, ", "), terms
	}

	for _, c := range categories {
		for _, key := range c.keys {
			if strings.Contains(lower, key) {
				return c.name, c.terms
			}
		}
	}

	subject = listIntroRe.ReplaceAllString(subject, "")
	subject = contextCutRe.ReplaceAllString(subject, "")
	var terms []string
	for _, t := range listSeparators.Split(subject, -1) {
		t = strings.Trim(strings.TrimSpace(t), `"'`)
		t = strings.TrimPrefix(strings.TrimPrefix(t, "the "), "a ")
		if t != "" {
			terms = append(terms, t)
		}
	}
	return strings.Join(terms, ", "), terms
}

// findTerms returns the terms that occur in text as whole words, case-insensitively.
func findTerms(text string, terms []string) []string {
	var found []string
	for _, term := range terms {
		if termPattern(term).MatchString(text) {
			found = append(found, term)
		}
	}
	return found
}

// termPattern matches term as a whole word. RE2 \b is ASCII only, so the
// boundaries are spelled out as Unicode classes.
func termPattern(term string) *regexp.Regexp {
	runes := []rune(term)
	prefix, suffix := "", ""
	if isWordRune(runes[0]) {
		prefix = `(?:^|[^\p{L}\p{M}\p{N}_])`
	}
	if isWordRune(runes[len(runes)-1]) {
		suffix = `(?:$|[^\p{L}\p{M}\p{N}_])`
	}
	return regexp.MustCompile(fmt.Sprintf(`(?i)%s%s%s`, prefix, regexp.QuoteMeta(term), suffix))
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsDigit(r)
}
