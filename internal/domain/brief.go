package domain

import (
	"fmt"
	"strings"
)

// Brief is the marketing request a campaign is generated from.
type Brief struct {
	CampaignName   string   `json:"campaign_name" yaml:"campaign_name"`
	BrandName      string   `json:"brand_name" yaml:"brand_name"`
	Objective      string   `json:"objective,omitempty" yaml:"objective"`
	TargetAudience string   `json:"target_audience,omitempty" yaml:"target_audience"`
	Attachments    []string `json:"attachments,omitempty" yaml:"attachments"`
}

// Normalize trims whitespace on every field and drops empty attachments.
func (b Brief) Normalize() Brief {
	out := Brief{
		CampaignName:   strings.TrimSpace(b.CampaignName),
		BrandName:      strings.TrimSpace(b.BrandName),
		Objective:      strings.TrimSpace(b.Objective),
		TargetAudience: strings.TrimSpace(b.TargetAudience),
	}
	for _, a := range b.Attachments {
		if a = strings.TrimSpace(a); a != "" {
			out.Attachments = append(out.Attachments, a)
		}
	}
	return out
}

// Validate reports ErrMalformedBrief when a required field is missing.
func (b Brief) Validate() error {
	var missing []string
	if strings.TrimSpace(b.CampaignName) == "" {
		missing = append(missing, "campaign_name")
	}
	if strings.TrimSpace(b.BrandName) == "" {
		missing = append(missing, "brand_name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedBrief, strings.Join(missing, ", "))
	}
	return nil
}
