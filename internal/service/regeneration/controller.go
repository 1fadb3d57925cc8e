// Package regeneration drives a campaign through plan, generate and validate
// until a draft is accepted or the retry budget is spent.
package regeneration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brandpilot/backend/internal/domain"
	"github.com/brandpilot/backend/internal/eventbus"
	"github.com/brandpilot/backend/internal/model"
	"github.com/brandpilot/backend/internal/pkg/retry"
	"github.com/brandpilot/backend/internal/repository"
	"github.com/brandpilot/backend/internal/service/generation"
	"github.com/brandpilot/backend/internal/service/planner"
	"github.com/brandpilot/backend/internal/service/statemachine"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"k8s.io/klog/v2"
)

const DefaultMaxRetries = 3

// Validator judges a draft against the brand guidelines.
type Validator interface {
	Validate(ctx context.Context, draft domain.Draft, brief domain.Brief) (domain.ValidationResult, error)
}

// Publisher receives campaign progress events.
type Publisher interface {
	Publish(ctx context.Context, event eventbus.CampaignEvent) error
}

type Config struct {
	MaxRetries int
	Infra      retry.Policy
}

// Outcome is the campaign as stored after a run, with the attempt that ended it.
type Outcome struct {
	Campaign *model.Campaign
	Attempt  *model.Attempt
}

type Controller struct {
	planner   *planner.Planner
	text      generation.TextGenerator
	image     generation.ImageGenerator
	validator Validator
	store     repository.CampaignRepository
	sm        *statemachine.CampaignStateMachine
	events    Publisher
	cfg       Config

	mu      sync.Mutex
	running map[string]struct{}
}

func NewController(
	p *planner.Planner,
	text generation.TextGenerator,
	image generation.ImageGenerator,
	validator Validator,
	store repository.CampaignRepository,
	events Publisher,
	cfg Config,
) *Controller {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Infra.MaxAttempts <= 0 {
		cfg.Infra = retry.DefaultPolicy()
	}
	return &Controller{
		planner:   p,
		text:      text,
		image:     image,
		validator: validator,
		store:     store,
		sm:        statemachine.NewCampaignStateMachine(),
		events:    events,
		cfg:       cfg,
		running:   make(map[string]struct{}),
	}
}

// Create stores a new campaign in planning without running it.
func (c *Controller) Create(brief domain.Brief) (*model.Campaign, error) {
	return c.create(brief, nil)
}

// Fork creates a new campaign from a finished one. The source keeps its
// history; the new campaign records it as parent and shares its root.
func (c *Controller) Fork(sourceID string) (*model.Campaign, error) {
	src, err := c.load(sourceID, false)
	if err != nil {
		return nil, err
	}
	status := statemachine.CampaignStatus(src.Status)
	if !statemachine.IsTerminal(status) {
		if c.isRunning(sourceID) {
			return nil, fmt.Errorf("%w: %s", domain.ErrCampaignBusy, sourceID)
		}
		return nil, fmt.Errorf("%w: cannot regenerate campaign %s in status %s", domain.ErrInvalidTransition, sourceID, src.Status)
	}
	return c.create(src.Brief.Data(), src)
}

// Orchestrate creates a campaign for brief and runs it to a verdict.
func (c *Controller) Orchestrate(ctx context.Context, brief domain.Brief) (*Outcome, error) {
	campaign, err := c.Create(brief)
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, campaign.ID)
}

// Regenerate forks a terminal campaign and runs the new one.
func (c *Controller) Regenerate(ctx context.Context, sourceID string) (*Outcome, error) {
	campaign, err := c.Fork(sourceID)
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, campaign.ID)
}

// Run drives a non terminal campaign from wherever it stopped. Only one run per
// campaign may be active at a time.
func (c *Controller) Run(ctx context.Context, id string) (*Outcome, error) {
	if !c.acquire(id) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCampaignBusy, id)
	}
	defer c.release(id)

	campaign, err := c.load(id, true)
	if err != nil {
		return nil, err
	}
	if statemachine.IsTerminal(statemachine.CampaignStatus(campaign.Status)) {
		return c.outcome(campaign, campaign.Accepted()), fmt.Errorf("%w: campaign %s is already %s", domain.ErrInvalidTransition, id, campaign.Status)
	}

	klog.V(6).Infof("[RegenerationController] run campaign: id=%s, status=%s, attempts=%d", id, campaign.Status, len(campaign.Attempts))
	return c.drive(ctx, campaign)
}

// Busy reports whether a run for id is in progress.
func (c *Controller) Busy(id string) bool {
	return c.isRunning(id)
}

func (c *Controller) drive(ctx context.Context, campaign *model.Campaign) (*Outcome, error) {
	brief := campaign.Brief.Data()
	maxRetries := campaign.MaxRetries
	if maxRetries <= 0 {
		maxRetries = c.cfg.MaxRetries
	}

	verdicts := make([]domain.ValidationResult, 0, len(campaign.Attempts))
	for _, a := range campaign.Attempts {
		verdicts = append(verdicts, a.Validation.Data())
	}
	plan := c.planner.Replay(brief, verdicts)
	last := campaign.LastAttempt()

	pending, err := campaign.Pending()
	if err != nil {
		klog.Warningf("[RegenerationController] discard unreadable pending draft: id=%s, err=%v", campaign.ID, err)
		pending = nil
	}

	switch statemachine.CampaignStatus(campaign.Status) {
	case statemachine.StatusValidating:
		if pending != nil {
			return c.loop(ctx, campaign, brief, plan, pending, last, maxRetries)
		}
	case statemachine.StatusRejected:
		if last != nil && last.Revision >= maxRetries {
			return c.exhaust(ctx, campaign, last, maxRetries)
		}
	}
	if campaign.Status != string(statemachine.StatusPlanning) {
		if err := c.setStatus(ctx, campaign, statemachine.StatusPlanning, repository.StateUpdate{ClearPendingDraft: true}); err != nil {
			return c.outcome(campaign, last), err
		}
	}
	return c.loop(ctx, campaign, brief, plan, nil, last, maxRetries)
}

// loop runs attempts starting at plan.Revision. A pending draft skips
// generation for the first attempt. It returns once the campaign is terminal,
// stalled or ctx is done.
func (c *Controller) loop(ctx context.Context, campaign *model.Campaign, brief domain.Brief, plan domain.GenerationPlan, pending *domain.Draft, last *model.Attempt, maxRetries int) (*Outcome, error) {
	for {
		var draft domain.Draft
		if pending != nil {
			draft = *pending
			pending = nil
		} else {
			if err := ctx.Err(); err != nil {
				return c.outcome(campaign, last), err
			}
			if err := c.setStatus(ctx, campaign, statemachine.StatusGenerating, repository.StateUpdate{}); err != nil {
				return c.outcome(campaign, last), err
			}

			var err error
			draft, err = c.generate(ctx, plan)
			if err != nil {
				if ctx.Err() != nil {
					msg := "interrupted during generation"
					c.setStatus(ctx, campaign, statemachine.StatusPlanning, repository.StateUpdate{LastError: &msg})
					return c.outcome(campaign, last), ctx.Err()
				}
				msg := err.Error()
				c.setStatus(ctx, campaign, statemachine.StatusGenerationFailed, repository.StateUpdate{LastError: &msg})
				klog.Errorf("[RegenerationController] generation failed: id=%s, revision=%d, err=%v", campaign.ID, plan.Revision, err)
				return c.outcome(campaign, last), fmt.Errorf("%w: revision %d: %w", domain.ErrGenerationFailed, plan.Revision, err)
			}

			if err := c.setStatus(ctx, campaign, statemachine.StatusValidating, repository.StateUpdate{PendingDraft: &draft}); err != nil {
				return c.outcome(campaign, last), err
			}
		}

		result, err := c.validate(ctx, draft, brief)
		if err != nil {
			if ctx.Err() != nil {
				return c.outcome(campaign, last), ctx.Err()
			}
			c.stall(ctx, campaign, err)
			klog.Errorf("[RegenerationController] validation unavailable: id=%s, revision=%d, err=%v", campaign.ID, plan.Revision, err)
			if !errors.Is(err, domain.ErrValidationUnavailable) {
				err = fmt.Errorf("%w: %w", domain.ErrValidationUnavailable, err)
			}
			return c.outcome(campaign, last), err
		}

		attempt := model.NewAttempt(campaign.ID, plan, draft, result)
		if err := c.store.AppendAttempt(attempt); err != nil {
			return c.outcome(campaign, last), fmt.Errorf("record attempt %d of %s: %w", plan.Revision, campaign.ID, err)
		}
		last = attempt
		campaign.PendingDraft = ""
		klog.V(6).Infof("[RegenerationController] attempt recorded: id=%s, revision=%d, pass=%v, score=%.3f", campaign.ID, attempt.Revision, result.Pass, result.Score)
		c.publish(ctx, eventbus.CampaignEvent{
			Type:       eventbus.CampaignEventAttempt,
			CampaignID: campaign.ID,
			Status:     campaign.Status,
			Revision:   attempt.Revision,
			Passed:     result.Pass,
			Score:      result.Score,
		})

		if result.Pass {
			revision := attempt.Revision
			cleared := ""
			if err := c.setStatus(ctx, campaign, statemachine.StatusAccepted, repository.StateUpdate{AcceptedRevision: &revision, LastError: &cleared}); err != nil {
				return c.outcome(campaign, attempt), err
			}
			campaign.AcceptedRevision = &revision
			c.finish(ctx, campaign, "")
			return c.outcome(campaign, attempt), nil
		}

		if err := c.setStatus(ctx, campaign, statemachine.StatusRejected, repository.StateUpdate{}); err != nil {
			return c.outcome(campaign, attempt), err
		}
		if attempt.Revision >= maxRetries {
			return c.exhaust(ctx, campaign, attempt, maxRetries)
		}
		if err := ctx.Err(); err != nil {
			return c.outcome(campaign, attempt), err
		}
		if err := c.setStatus(ctx, campaign, statemachine.StatusPlanning, repository.StateUpdate{}); err != nil {
			return c.outcome(campaign, attempt), err
		}
		plan = c.planner.BuildPlan(brief, &plan, &result)
	}
}

func (c *Controller) exhaust(ctx context.Context, campaign *model.Campaign, last *model.Attempt, maxRetries int) (*Outcome, error) {
	if err := c.setStatus(ctx, campaign, statemachine.StatusExhausted, repository.StateUpdate{}); err != nil {
		return c.outcome(campaign, last), err
	}
	err := fmt.Errorf("%w: campaign %s rejected %d times", domain.ErrExhaustedRetries, campaign.ID, maxRetries)
	c.finish(ctx, campaign, err.Error())
	klog.Warningf("[RegenerationController] campaign exhausted: id=%s, attempts=%d", campaign.ID, maxRetries)
	return c.outcome(campaign, last), err
}

// generate runs text and image generation concurrently, each behind the
// infrastructure retry policy.
func (c *Controller) generate(ctx context.Context, plan domain.GenerationPlan) (domain.Draft, error) {
	var draft domain.Draft
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return retry.Do(gctx, c.cfg.Infra, "generate text", retryable, func(ctx context.Context) error {
			text, err := c.text.GenerateText(ctx, plan)
			if err != nil {
				return err
			}
			draft.Text = text
			return nil
		})
	})
	g.Go(func() error {
		return retry.Do(gctx, c.cfg.Infra, "generate image", retryable, func(ctx context.Context) error {
			image, err := c.image.GenerateImage(ctx, plan)
			if err != nil {
				return err
			}
			draft.Image = image
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return domain.Draft{}, err
	}
	return draft, nil
}

func (c *Controller) validate(ctx context.Context, draft domain.Draft, brief domain.Brief) (domain.ValidationResult, error) {
	var result domain.ValidationResult
	err := retry.Do(ctx, c.cfg.Infra, "validate draft", retryable, func(ctx context.Context) error {
		r, err := c.validator.Validate(ctx, draft, brief)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

func retryable(err error) bool {
	return errors.Is(err, domain.ErrTransientAPI) ||
		errors.Is(err, domain.ErrIndexUnavailable) ||
		errors.Is(err, domain.ErrValidationUnavailable)
}

// stall keeps the campaign in validating with its pending draft and records why.
func (c *Controller) stall(ctx context.Context, campaign *model.Campaign, cause error) {
	msg := cause.Error()
	if err := c.store.UpdateState(campaign.ID, repository.StateUpdate{LastError: &msg}); err != nil {
		klog.Errorf("[RegenerationController] record stall failed: id=%s, err=%v", campaign.ID, err)
	}
	campaign.LastError = msg
	c.publish(ctx, eventbus.CampaignEvent{Type: eventbus.CampaignEventStatus, CampaignID: campaign.ID, Status: campaign.Status, Error: msg})
}

func (c *Controller) setStatus(ctx context.Context, campaign *model.Campaign, to statemachine.CampaignStatus, update repository.StateUpdate) error {
	from := statemachine.CampaignStatus(campaign.Status)
	if err := c.sm.Transition(from, to, campaign.ID); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidTransition, err)
	}
	update.Status = string(to)
	if err := c.store.UpdateState(campaign.ID, update); err != nil {
		klog.Errorf("[RegenerationController] update status failed: id=%s, %s -> %s, err=%v", campaign.ID, from, to, err)
		return fmt.Errorf("update campaign %s: %w", campaign.ID, err)
	}
	campaign.Status = string(to)
	if update.LastError != nil {
		campaign.LastError = *update.LastError
	}
	if update.ClearPendingDraft {
		campaign.PendingDraft = ""
	}
	c.publish(ctx, eventbus.CampaignEvent{Type: eventbus.CampaignEventStatus, CampaignID: campaign.ID, Status: campaign.Status, Error: campaign.LastError})
	return nil
}

func (c *Controller) finish(ctx context.Context, campaign *model.Campaign, errMsg string) {
	event := eventbus.CampaignEvent{Type: eventbus.CampaignEventFinished, CampaignID: campaign.ID, Status: campaign.Status, Error: errMsg}
	if campaign.AcceptedRevision != nil {
		event.Revision = *campaign.AcceptedRevision
		event.Passed = true
	}
	c.publish(ctx, event)
}

func (c *Controller) publish(ctx context.Context, event eventbus.CampaignEvent) {
	if c.events == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	if err := c.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		klog.Warningf("[RegenerationController] publish event failed: id=%s, type=%s, err=%v", event.CampaignID, event.Type, err)
	}
}

// outcome reloads the campaign with its attempts. The in-memory copy is
// returned if the reload fails.
func (c *Controller) outcome(campaign *model.Campaign, attempt *model.Attempt) *Outcome {
	if fresh, err := c.store.Get(campaign.ID); err == nil {
		campaign = fresh
	} else {
		klog.Warningf("[RegenerationController] reload campaign failed: id=%s, err=%v", campaign.ID, err)
	}
	return &Outcome{Campaign: campaign, Attempt: attempt}
}

func (c *Controller) create(brief domain.Brief, parent *model.Campaign) (*model.Campaign, error) {
	brief = brief.Normalize()
	if err := brief.Validate(); err != nil {
		return nil, err
	}
	campaign := &model.Campaign{
		ID:           uuid.NewString(),
		CampaignName: brief.CampaignName,
		BrandName:    brief.BrandName,
		Brief:        datatypes.NewJSONType(brief),
		Status:       string(statemachine.StatusPlanning),
		MaxRetries:   c.cfg.MaxRetries,
	}
	if parent != nil {
		campaign.ParentID = parent.ID
		campaign.RootID = parent.RootID
	}
	if campaign.RootID == "" {
		campaign.RootID = campaign.ID
	}
	if err := c.store.Create(campaign); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	klog.V(6).Infof("[RegenerationController] campaign created: id=%s, parent=%s, brand=%s", campaign.ID, campaign.ParentID, campaign.BrandName)
	c.publish(context.Background(), eventbus.CampaignEvent{Type: eventbus.CampaignEventStatus, CampaignID: campaign.ID, Status: campaign.Status})
	return campaign, nil
}

func (c *Controller) load(id string, withAttempts bool) (*model.Campaign, error) {
	var (
		campaign *model.Campaign
		err      error
	)
	if withAttempts {
		campaign, err = c.store.Get(id)
	} else {
		campaign, err = c.store.GetBasic(id)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrCampaignNotFound, id)
		}
		return nil, err
	}
	return campaign, nil
}

func (c *Controller) acquire(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.running[id]; ok {
		return false
	}
	c.running[id] = struct{}{}
	return true
}

func (c *Controller) release(id string) {
	c.mu.Lock()
	delete(c.running, id)
	c.mu.Unlock()
}

func (c *Controller) isRunning(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.running[id]
	return ok
}
