package main

import (
	"context"

	"github.com/brandpilot/backend/internal/service"
)

// campaignExecutorAdapter lets the orchestrator run campaigns without
// importing the service package.
type campaignExecutorAdapter struct {
	campaignService *service.CampaignService
}

func (a *campaignExecutorAdapter) ExecuteCampaign(ctx context.Context, campaignID string) error {
	return a.campaignService.Execute(ctx, campaignID)
}
