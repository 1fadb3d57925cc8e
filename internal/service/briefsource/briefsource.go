// Package briefsource turns text documents into campaign briefs. It accepts
// JSON, YAML, markdown with YAML front matter and JSON embedded in prose.
package briefsource

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/brandpilot/backend/internal/domain"
	"github.com/brandpilot/backend/internal/utils"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

var fieldAliases = map[string]string{
	"campaign_name":   "campaign_name",
	"campaign":        "campaign_name",
	"name":            "campaign_name",
	"title":           "campaign_name",
	"brand_name":      "brand_name",
	"brand":           "brand_name",
	"company":         "brand_name",
	"objective":       "objective",
	"goal":            "objective",
	"objectives":      "objective",
	"target_audience": "target_audience",
	"audience":        "target_audience",
	"target":          "target_audience",
	"attachments":     "attachments",
	"notes":           "attachments",
}

var errNotMapping = errors.New("document is not a key/value mapping")

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse reads a brief from document. Missing required fields are reported as
// domain.ErrMalformedBrief.
func (p *Parser) Parse(document string) (domain.Brief, error) {
	text := strings.TrimSpace(strings.TrimPrefix(document, "\ufeff"))
	if text == "" {
		return domain.Brief{}, fmt.Errorf("%w: empty document", domain.ErrMalformedBrief)
	}

	var (
		fields map[string]any
		body   string
		err    error
	)
	if front, rest, ok := splitFrontMatter(text); ok {
		fields, err = decode(front)
		body = strings.TrimSpace(rest)
	} else {
		fields, err = decode(text)
		if err != nil || !knownFields(fields) {
			if obj := utils.ExtractJSON(text); obj != text {
				fields, err = decode(obj)
			}
		}
	}
	if err != nil {
		klog.V(6).Infof("[BriefSource] parse failed: length=%d, err=%v", len(text), err)
		return domain.Brief{}, fmt.Errorf("%w: %v", domain.ErrMalformedBrief, err)
	}

	brief := fromFields(fields)
	if body != "" {
		brief.Attachments = append(brief.Attachments, body)
	}
	brief = brief.Normalize()
	if err := brief.Validate(); err != nil {
		return domain.Brief{}, err
	}
	return brief, nil
}

// splitFrontMatter splits "---\n<yaml>\n---\n<body>".
func splitFrontMatter(text string) (string, string, bool) {
	if !strings.HasPrefix(text, "---") {
		return "", "", false
	}
	rest := strings.TrimLeft(text[3:], " \t")
	if !strings.HasPrefix(rest, "\n") && !strings.HasPrefix(rest, "\r\n") {
		return "", "", false
	}
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", "", false
	}
	front := rest[:end]
	body := rest[end+4:]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return front, body, true
}

// decode reads YAML, which also covers JSON documents.
func decode(text string) (map[string]any, error) {
	var fields map[string]any
	if err := yaml.Unmarshal([]byte(text), &fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errNotMapping
	}
	return fields, nil
}

func knownFields(fields map[string]any) bool {
	for key := range fields {
		if _, ok := fieldAliases[normalizeKey(key)]; ok {
			return true
		}
	}
	return false
}

func fromFields(fields map[string]any) domain.Brief {
	// canonical keys win over aliases, then alphabetical order
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := isCanonical(keys[i]), isCanonical(keys[j])
		if ci != cj {
			return ci
		}
		return keys[i] < keys[j]
	})

	var brief domain.Brief
	for _, key := range keys {
		value := fields[key]
		target, ok := fieldAliases[normalizeKey(key)]
		if !ok {
			continue
		}
		switch target {
		case "campaign_name":
			brief.CampaignName = firstNonEmpty(brief.CampaignName, scalar(value))
		case "brand_name":
			brief.BrandName = firstNonEmpty(brief.BrandName, scalar(value))
		case "objective":
			brief.Objective = firstNonEmpty(brief.Objective, scalar(value))
		case "target_audience":
			brief.TargetAudience = firstNonEmpty(brief.TargetAudience, scalar(value))
		case "attachments":
			brief.Attachments = append(brief.Attachments, list(value)...)
		}
	}
	return brief
}

func isCanonical(key string) bool {
	k := normalizeKey(key)
	return fieldAliases[k] == k
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(key)
}

func scalar(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		return strings.Join(list(v), "; ")
	default:
		return fmt.Sprint(v)
	}
}

func list(value any) []string {
	switch v := value.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, scalar(item))
		}
		return out
	case nil:
		return nil
	default:
		return []string{scalar(v)}
	}
}

func firstNonEmpty(current, candidate string) string {
	if strings.TrimSpace(current) != "" {
		return current
	}
	return candidate
}
