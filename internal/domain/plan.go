package domain

// GenerationPlan is the input to one generation attempt.
// Revision starts at 1 and grows by one per attempt within a campaign.
type GenerationPlan struct {
	Revision       int      `json:"revision"`
	BrandName      string   `json:"brand_name"`
	CampaignName   string   `json:"campaign_name"`
	Objective      string   `json:"objective,omitempty"`
	TargetAudience string   `json:"target_audience,omitempty"`
	TextPrompt     string   `json:"text_prompt"`
	ImagePrompt    string   `json:"image_prompt"`
	Constraints    []string `json:"constraints,omitempty"`
}

// ImageRef points at a generated image.
type ImageRef struct {
	URL           string `json:"url"`
	ObjectKey     string `json:"object_key,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// Draft is the generated content of one attempt before it is judged.
type Draft struct {
	Text  string   `json:"text"`
	Image ImageRef `json:"image"`
}
