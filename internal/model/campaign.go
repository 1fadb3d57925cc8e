package model

import (
	"encoding/json"
	"time"

	"github.com/brandpilot/backend/internal/domain"
	"gorm.io/datatypes"
)

// Campaign is one orchestration run for a brief. Regenerations create a new
// campaign that points at its source through ParentID and shares RootID.
type Campaign struct {
	ID               string                           `json:"id" gorm:"primaryKey;size:64"`
	ParentID         string                           `json:"parent_id,omitempty" gorm:"size:64;index"`
	RootID           string                           `json:"root_id" gorm:"size:64;index"`
	CampaignName     string                           `json:"campaign_name" gorm:"size:255;not null"`
	BrandName        string                           `json:"brand_name" gorm:"size:255;index;not null"`
	Brief            datatypes.JSONType[domain.Brief] `json:"brief"`
	Status           string                           `json:"status" gorm:"size:50;index;default:planning"` // planning, generating, validating, rejected, accepted, exhausted, generation_failed
	MaxRetries       int                              `json:"max_retries"`
	AcceptedRevision *int                             `json:"accepted_revision,omitempty"`
	LastError        string                           `json:"last_error,omitempty" gorm:"size:2000"`
	PendingDraft     string                           `json:"-" gorm:"type:text"`
	CreatedAt        time.Time                        `json:"created_at"`
	UpdatedAt        time.Time                        `json:"updated_at"`
	Attempts         []Attempt                        `json:"attempts,omitempty" gorm:"foreignKey:CampaignID"`
}

// Attempt is the immutable record of one generated and validated draft.
type Attempt struct {
	ID         uint                                        `json:"id" gorm:"primaryKey"`
	CampaignID string                                      `json:"campaign_id" gorm:"size:64;not null;uniqueIndex:idx_attempt_campaign_revision"`
	Revision   int                                         `json:"revision" gorm:"not null;uniqueIndex:idx_attempt_campaign_revision"`
	Text       string                                      `json:"text" gorm:"type:text"`
	ImageURL   string                                      `json:"image_url" gorm:"size:2000"`
	ImageKey   string                                      `json:"image_key,omitempty" gorm:"size:500"`
	Passed     bool                                        `json:"passed"`
	Score      float64                                     `json:"score"`
	Plan       datatypes.JSONType[domain.GenerationPlan]   `json:"plan"`
	Validation datatypes.JSONType[domain.ValidationResult] `json:"validation"`
	CreatedAt  time.Time                                   `json:"created_at"`
}

// Draft returns the attempt content in domain form.
func (a *Attempt) Draft() domain.Draft {
	return domain.Draft{
		Text: a.Text,
		Image: domain.ImageRef{
			URL:       a.ImageURL,
			ObjectKey: a.ImageKey,
		},
	}
}

// NewAttempt builds the record for a judged draft.
func NewAttempt(campaignID string, plan domain.GenerationPlan, draft domain.Draft, result domain.ValidationResult) *Attempt {
	return &Attempt{
		CampaignID: campaignID,
		Revision:   plan.Revision,
		Text:       draft.Text,
		ImageURL:   draft.Image.URL,
		ImageKey:   draft.Image.ObjectKey,
		Passed:     result.Pass,
		Score:      result.Score,
		Plan:       datatypes.NewJSONType(plan),
		Validation: datatypes.NewJSONType(result),
	}
}

// Pending decodes the draft waiting for a verdict, if any.
func (c *Campaign) Pending() (*domain.Draft, error) {
	if c.PendingDraft == "" {
		return nil, nil
	}
	var d domain.Draft
	if err := json.Unmarshal([]byte(c.PendingDraft), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Accepted returns the accepted attempt, or nil.
func (c *Campaign) Accepted() *Attempt {
	if c.AcceptedRevision == nil {
		return nil
	}
	for i := range c.Attempts {
		if c.Attempts[i].Revision == *c.AcceptedRevision {
			return &c.Attempts[i]
		}
	}
	return nil
}

// LastAttempt returns the highest revision, or nil before the first verdict.
func (c *Campaign) LastAttempt() *Attempt {
	if len(c.Attempts) == 0 {
		return nil
	}
	return &c.Attempts[len(c.Attempts)-1]
}
