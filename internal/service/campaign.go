package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/brandpilot/backend/internal/domain"
	"github.com/brandpilot/backend/internal/model"
	"github.com/brandpilot/backend/internal/repository"
	"github.com/brandpilot/backend/internal/service/orchestrator"
	"github.com/brandpilot/backend/internal/service/regeneration"
	"github.com/brandpilot/backend/internal/service/report"
	"github.com/brandpilot/backend/internal/service/statemachine"
	"k8s.io/klog/v2"
)

// ErrAsyncUnavailable is returned for background runs when no orchestrator is set.
var ErrAsyncUnavailable = errors.New("background runs are not enabled")

type CampaignService struct {
	store        repository.CampaignRepository
	controller   *regeneration.Controller
	validator    regeneration.Validator
	exporter     *report.Exporter
	orchestrator *orchestrator.Orchestrator
}

func NewCampaignService(store repository.CampaignRepository, controller *regeneration.Controller, validator regeneration.Validator, exporter *report.Exporter) *CampaignService {
	return &CampaignService{
		store:      store,
		controller: controller,
		validator:  validator,
		exporter:   exporter,
	}
}

// SetOrchestrator enables background runs. The orchestrator executes campaigns
// through this service, so it is wired after construction.
func (s *CampaignService) SetOrchestrator(o *orchestrator.Orchestrator) {
	s.orchestrator = o
}

// Orchestrate runs a new campaign for brief to a verdict.
func (s *CampaignService) Orchestrate(ctx context.Context, brief domain.Brief) (*regeneration.Outcome, error) {
	return s.controller.Orchestrate(ctx, brief)
}

// Submit creates a campaign and queues it for a background run.
func (s *CampaignService) Submit(brief domain.Brief) (*model.Campaign, error) {
	if s.orchestrator == nil {
		return nil, ErrAsyncUnavailable
	}
	campaign, err := s.controller.Create(brief)
	if err != nil {
		return nil, err
	}
	return campaign, s.enqueue(campaign.ID)
}

func (s *CampaignService) Regenerate(ctx context.Context, id string) (*regeneration.Outcome, error) {
	return s.controller.Regenerate(ctx, id)
}

// SubmitRegenerate forks a terminal campaign and queues the new one.
func (s *CampaignService) SubmitRegenerate(id string) (*model.Campaign, error) {
	if s.orchestrator == nil {
		return nil, ErrAsyncUnavailable
	}
	campaign, err := s.controller.Fork(id)
	if err != nil {
		return nil, err
	}
	return campaign, s.enqueue(campaign.ID)
}

// Resume continues a stalled campaign in the foreground.
func (s *CampaignService) Resume(ctx context.Context, id string) (*regeneration.Outcome, error) {
	return s.controller.Run(ctx, id)
}

// SubmitResume queues a stalled campaign.
func (s *CampaignService) SubmitResume(id string) (*model.Campaign, error) {
	if s.orchestrator == nil {
		return nil, ErrAsyncUnavailable
	}
	campaign, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if statemachine.IsTerminal(statemachine.CampaignStatus(campaign.Status)) {
		return nil, fmt.Errorf("%w: campaign %s is already %s", domain.ErrInvalidTransition, id, campaign.Status)
	}
	return campaign, s.enqueue(id)
}

// Cancel stops a queued or running background job for id.
func (s *CampaignService) Cancel(id string) (bool, error) {
	if _, err := s.Get(id); err != nil {
		return false, err
	}
	if s.orchestrator == nil {
		return false, nil
	}
	return s.orchestrator.CancelCampaign(id), nil
}

// Execute is the background entry point. Outcomes that another run cannot
// change are reported as success so the job is not retried.
func (s *CampaignService) Execute(ctx context.Context, id string) error {
	_, err := s.controller.Run(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrExhaustedRetries),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrCampaignBusy),
		errors.Is(err, domain.ErrCampaignNotFound),
		errors.Is(err, domain.ErrMalformedBrief):
		klog.V(6).Infof("[CampaignService] background run finished: id=%s, outcome=%v", id, err)
		return nil
	default:
		return err
	}
}

// RequeueStalled queues every campaign that stopped before a terminal status,
// typically after a restart.
func (s *CampaignService) RequeueStalled() (int, error) {
	if s.orchestrator == nil {
		return 0, ErrAsyncUnavailable
	}
	stalled, err := s.store.ListStalled()
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, c := range stalled {
		if err := s.enqueue(c.ID); err != nil {
			klog.Warningf("[CampaignService] requeue stalled campaign failed: id=%s, err=%v", c.ID, err)
			continue
		}
		queued++
	}
	return queued, nil
}

func (s *CampaignService) Get(id string) (*model.Campaign, error) {
	campaign, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrCampaignNotFound, id)
		}
		return nil, err
	}
	return campaign, nil
}

func (s *CampaignService) List(limit, offset int) ([]model.Campaign, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(limit, offset)
}

// Lineage returns every campaign sharing id's root, oldest first.
func (s *CampaignService) Lineage(id string) ([]model.Campaign, error) {
	campaign, err := s.store.GetBasic(id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrCampaignNotFound, id)
		}
		return nil, err
	}
	return s.store.ListLineage(campaign.RootID)
}

// Validate judges a draft outside of any campaign. Only the brand name of the
// brief is required.
func (s *CampaignService) Validate(ctx context.Context, draft domain.Draft, brief domain.Brief) (domain.ValidationResult, error) {
	brief = brief.Normalize()
	if brief.BrandName == "" {
		return domain.ValidationResult{}, fmt.Errorf("%w: missing brand_name", domain.ErrMalformedBrief)
	}
	return s.validator.Validate(ctx, draft, brief)
}

// Report renders the campaign as an HTML document.
func (s *CampaignService) Report(id string) ([]byte, error) {
	campaign, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return s.exporter.Render(campaign)
}

func (s *CampaignService) QueueStatus() *orchestrator.QueueStatus {
	if s.orchestrator == nil {
		return &orchestrator.QueueStatus{}
	}
	return s.orchestrator.GetQueueStatus()
}

// Busy reports whether a foreground or background run holds the campaign.
func (s *CampaignService) Busy(id string) bool {
	return s.controller.Busy(id)
}

func (s *CampaignService) enqueue(id string) error {
	if err := s.orchestrator.EnqueueCampaign(id); err != nil {
		if errors.Is(err, orchestrator.ErrAlreadyQueued) {
			return fmt.Errorf("%w: %s", domain.ErrCampaignBusy, id)
		}
		return err
	}
	return nil
}
