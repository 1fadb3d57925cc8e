// Package report renders a campaign and its attempt history as a standalone
// HTML document.
package report

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/brandpilot/backend/internal/model"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; max-width: 860px; margin: 2rem auto; color: #1f2328; }
table { border-collapse: collapse; }
th, td { border: 1px solid #d0d7de; padding: 4px 10px; }
img { max-width: 100%%; }
</style>
</head>
<body>
%s
</body>
</html>
`

type Exporter struct {
	md goldmark.Markdown
}

func NewExporter() *Exporter {
	return &Exporter{
		md: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Render returns the HTML report. The campaign must be loaded with its attempts.
func (e *Exporter) Render(campaign *model.Campaign) ([]byte, error) {
	var body bytes.Buffer
	if err := e.md.Convert([]byte(Markdown(campaign)), &body); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	title := fmt.Sprintf("%s | %s", campaign.CampaignName, campaign.BrandName)
	return []byte(fmt.Sprintf(pageTemplate, html.EscapeString(title), body.String())), nil
}

// Markdown is the report source: brief, the chosen draft and every attempt.
func Markdown(campaign *model.Campaign) string {
	brief := campaign.Brief.Data()
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", campaign.CampaignName)
	fmt.Fprintf(&b, "- **Brand:** %s\n", brief.BrandName)
	if brief.Objective != "" {
		fmt.Fprintf(&b, "- **Objective:** %s\n", brief.Objective)
	}
	if brief.TargetAudience != "" {
		fmt.Fprintf(&b, "- **Audience:** %s\n", brief.TargetAudience)
	}
	fmt.Fprintf(&b, "- **Status:** %s\n", campaign.Status)
	fmt.Fprintf(&b, "- **Campaign ID:** `%s`\n", campaign.ID)
	if campaign.ParentID != "" {
		fmt.Fprintf(&b, "- **Regenerated from:** `%s`\n", campaign.ParentID)
	}
	b.WriteString("\n")

	final := campaign.Accepted()
	heading := "Accepted draft"
	if final == nil {
		final = campaign.LastAttempt()
		heading = "Latest draft"
	}
	if final != nil {
		fmt.Fprintf(&b, "## %s (revision %d)\n\n", heading, final.Revision)
		b.WriteString(final.Text)
		b.WriteString("\n\n")
		if url := final.ImageURL; url != "" && !strings.HasPrefix(url, "offline://") {
			fmt.Fprintf(&b, "![campaign image](%s)\n\n", url)
		}
	}

	if len(campaign.Attempts) == 0 {
		return b.String()
	}
	b.WriteString("## Attempts\n\n")
	b.WriteString("| Revision | Result | Score | Citations |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, a := range campaign.Attempts {
		result := "rejected"
		if a.Passed {
			result = "accepted"
		}
		v := a.Validation.Data()
		fmt.Fprintf(&b, "| %d | %s | %.2f | %s |\n", a.Revision, result, a.Score, joinIDs(v.Citations))
	}
	b.WriteString("\n")

	for _, a := range campaign.Attempts {
		v := a.Validation.Data()
		if len(v.Feedback) == 0 {
			continue
		}
		fmt.Fprintf(&b, "### Feedback on revision %d\n\n", a.Revision)
		for _, item := range v.Feedback {
			fmt.Fprintf(&b, "- %s", item.Message)
			if item.ChunkID != 0 {
				fmt.Fprintf(&b, " (guideline #%d)", item.ChunkID)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func joinIDs(ids []uint) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("#%d", id)
	}
	return strings.Join(parts, ", ")
}
