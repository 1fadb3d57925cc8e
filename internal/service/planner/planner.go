// Package planner turns a brief and the previous verdict into the next generation plan.
package planner

import (
	"fmt"
	"strings"

	"github.com/brandpilot/backend/internal/domain"
)

const marketingCopyTemplate = `Write compelling marketing copy for %s's '%s' campaign.

Objective: %s
%s%s
Generate engaging marketing copy that captures attention and drives action:`

const imageEnhancementTemplate = "high quality, detailed, professional, %s, 4k resolution, photorealistic"

var styleTemplates = map[string]string{
	"photorealistic": "%s, photorealistic, high detail, professional photography",
	"artistic":       "%s, artistic interpretation, creative, unique style",
	"minimalist":     "%s, minimalist design, clean, simple, elegant",
	"vibrant":        "%s, vibrant colors, bold, eye-catching, energetic",
}

var emphasisLevels = []string{
	"important",
	"critical",
	"final attempt",
}

// Planner is stateless; BuildPlan depends only on its arguments.
type Planner struct {
	imageStyle string
}

func New(imageStyle string) *Planner {
	return &Planner{imageStyle: imageStyle}
}

// BuildPlan returns revision 1 when prev is nil. Otherwise it carries every
// constraint of prev forward and adds the ones the feedback asks for. When the
// feedback adds nothing new, an emphasis constraint is appended instead so that
// each revision is strictly more constrained than the last.
func (p *Planner) BuildPlan(brief domain.Brief, prev *domain.GenerationPlan, feedback *domain.ValidationResult) domain.GenerationPlan {
	revision := 1
	var constraints []string
	if prev != nil {
		revision = prev.Revision + 1
		constraints = append(constraints, prev.Constraints...)
	}

	if feedback != nil {
		seen := make(map[string]bool, len(constraints))
		for _, c := range constraints {
			seen[c] = true
		}
		added := 0
		for _, c := range feedback.Constraints() {
			if seen[c] {
				continue
			}
			seen[c] = true
			constraints = append(constraints, c)
			added++
		}
		if added == 0 && prev != nil {
			constraints = append(constraints, emphasis(revision, countEmphasis(constraints)))
		}
	}

	return domain.GenerationPlan{
		Revision:       revision,
		BrandName:      brief.BrandName,
		CampaignName:   brief.CampaignName,
		Objective:      brief.Objective,
		TargetAudience: brief.TargetAudience,
		TextPrompt:     textPrompt(brief, constraints),
		ImagePrompt:    p.imagePrompt(brief, constraints),
		Constraints:    constraints,
	}
}

// Replay rebuilds the plan sequence from recorded verdicts and returns the plan
// for the next revision.
func (p *Planner) Replay(brief domain.Brief, verdicts []domain.ValidationResult) domain.GenerationPlan {
	plan := p.BuildPlan(brief, nil, nil)
	for i := range verdicts {
		plan = p.BuildPlan(brief, &plan, &verdicts[i])
	}
	return plan
}

func emphasis(revision, prior int) string {
	level := emphasisLevels[min(prior, len(emphasisLevels)-1)]
	return fmt.Sprintf("%s: revision %d must satisfy every constraint above exactly", level, revision)
}

func countEmphasis(constraints []string) int {
	n := 0
	for _, c := range constraints {
		for _, level := range emphasisLevels {
			if strings.HasPrefix(c, level+": revision ") {
				n++
				break
			}
		}
	}
	return n
}

func textPrompt(brief domain.Brief, constraints []string) string {
	objective := brief.Objective
	if objective == "" {
		objective = fmt.Sprintf("promote the %s campaign", brief.CampaignName)
	}

	var extra strings.Builder
	if brief.TargetAudience != "" {
		fmt.Fprintf(&extra, "Target Audience: %s\n", brief.TargetAudience)
	}
	if len(brief.Attachments) > 0 {
		extra.WriteString("\nReference material:\n")
		for _, a := range brief.Attachments {
			fmt.Fprintf(&extra, "- %s\n", a)
		}
	}

	var rules strings.Builder
	if len(constraints) > 0 {
		rules.WriteString("\nBrand constraints:\n")
		for _, c := range constraints {
			fmt.Fprintf(&rules, "- %s\n", c)
		}
	}

	return fmt.Sprintf(marketingCopyTemplate, brief.BrandName, brief.CampaignName, objective, extra.String(), rules.String())
}

func (p *Planner) imagePrompt(brief domain.Brief, constraints []string) string {
	subject := fmt.Sprintf("promotional image for %s's %s campaign", brief.BrandName, brief.CampaignName)
	if brief.Objective != "" {
		subject += ", " + brief.Objective
	}
	if brief.TargetAudience != "" {
		subject += ", appealing to " + brief.TargetAudience
	}

	prompt := fmt.Sprintf(imageEnhancementTemplate, subject)
	if tmpl, ok := styleTemplates[p.imageStyle]; ok {
		prompt = fmt.Sprintf(tmpl, subject)
	}
	if len(constraints) > 0 {
		prompt += ". Follow these brand rules: " + strings.Join(constraints, "; ")
	}
	return prompt
}
