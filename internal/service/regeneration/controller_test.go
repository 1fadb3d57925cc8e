package regeneration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brandpilot/backend/internal/domain"
	"github.com/brandpilot/backend/internal/eventbus"
	"github.com/brandpilot/backend/internal/model"
	"github.com/brandpilot/backend/internal/pkg/embedder"
	"github.com/brandpilot/backend/internal/pkg/retry"
	"github.com/brandpilot/backend/internal/repository"
	"github.com/brandpilot/backend/internal/service/guideline"
	"github.com/brandpilot/backend/internal/service/planner"
	"github.com/brandpilot/backend/internal/service/statemachine"
	"github.com/brandpilot/backend/internal/service/validator"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreCurrent(), goleak.IgnoreTopFunction("k8s.io/klog/v2.(*flushDaemon).run.func1"))
}

type textFunc func(ctx context.Context, plan domain.GenerationPlan) (string, error)

func (f textFunc) GenerateText(ctx context.Context, plan domain.GenerationPlan) (string, error) {
	return f(ctx, plan)
}

type imageFunc func(ctx context.Context, plan domain.GenerationPlan) (domain.ImageRef, error)

func (f imageFunc) GenerateImage(ctx context.Context, plan domain.GenerationPlan) (domain.ImageRef, error) {
	return f(ctx, plan)
}

type validatorFunc func(ctx context.Context, draft domain.Draft, brief domain.Brief) (domain.ValidationResult, error)

func (f validatorFunc) Validate(ctx context.Context, draft domain.Draft, brief domain.Brief) (domain.ValidationResult, error) {
	return f(ctx, draft, brief)
}

var fitnow = domain.Brief{
	CampaignName:   "Summer Fitness Challenge",
	BrandName:      "FitNow",
	Objective:      "Drive sign-ups for the summer challenge",
	TargetAudience: "young professionals",
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.Campaign{}, &model.Attempt{}, &model.GuidelineDocument{}, &model.GuidelineChunk{}))
	return db
}

func copyText(ctx context.Context, plan domain.GenerationPlan) (string, error) {
	return "FitNow revision copy", nil
}

func placeholderImage(ctx context.Context, plan domain.GenerationPlan) (domain.ImageRef, error) {
	return domain.ImageRef{URL: "offline://images/test.png"}, nil
}

func pass(ctx context.Context, draft domain.Draft, brief domain.Brief) (domain.ValidationResult, error) {
	return domain.ValidationResult{Pass: true, Score: 0.9, Citations: []uint{}, Retrieved: []uint{1}}, nil
}

func reject(ctx context.Context, draft domain.Draft, brief domain.Brief) (domain.ValidationResult, error) {
	return domain.ValidationResult{
		Score:     0.2,
		Citations: []uint{1},
		Feedback: []domain.FeedbackItem{{
			Kind:       domain.FeedbackForbidden,
			Constraint: "avoid superlatives",
			ChunkID:    1,
		}},
	}, nil
}

type fixture struct {
	ctrl   *Controller
	store  repository.CampaignRepository
	events *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []eventbus.CampaignEvent
}

func (l *eventLog) record(ctx context.Context, event eventbus.CampaignEvent) error {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) snapshot() []eventbus.CampaignEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]eventbus.CampaignEvent(nil), l.events...)
}

func newFixture(t *testing.T, text textFunc, image imageFunc, v Validator) *fixture {
	t.Helper()
	store := repository.NewCampaignRepository(setupDB(t))
	bus := eventbus.NewCampaignEventBus()
	log := &eventLog{}
	bus.SubscribeAll(log.record)
	cfg := Config{
		MaxRetries: 3,
		Infra:      retry.Policy{MaxAttempts: 2, CallTimeout: time.Second},
	}
	return &fixture{
		ctrl:   NewController(planner.New(""), text, image, v, store, bus, cfg),
		store:  store,
		events: log,
	}
}

func revisions(c *model.Campaign) []int {
	out := make([]int, 0, len(c.Attempts))
	for _, a := range c.Attempts {
		out = append(out, a.Revision)
	}
	return out
}

func TestOrchestrateAcceptsFirstAttempt(t *testing.T) {
	f := newFixture(t, copyText, placeholderImage, validatorFunc(pass))

	out, err := f.ctrl.Orchestrate(context.Background(), fitnow)
	require.NoError(t, err)

	assert.Equal(t, string(statemachine.StatusAccepted), out.Campaign.Status)
	assert.Equal(t, []int{1}, revisions(out.Campaign))
	require.NotNil(t, out.Campaign.AcceptedRevision)
	assert.Equal(t, 1, *out.Campaign.AcceptedRevision)
	assert.Equal(t, 1, out.Attempt.Revision)
	assert.Equal(t, out.Campaign.ID, out.Campaign.RootID)
	assert.Empty(t, out.Campaign.PendingDraft)

	events := f.events.snapshot()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, eventbus.CampaignEventFinished, last.Type)
	assert.Equal(t, string(statemachine.StatusAccepted), last.Status)
}

func TestOrchestrateExhaustsAfterMaxRetries(t *testing.T) {
	var mu sync.Mutex
	var plans []domain.GenerationPlan
	text := func(ctx context.Context, plan domain.GenerationPlan) (string, error) {
		mu.Lock()
		plans = append(plans, plan)
		mu.Unlock()
		return "FitNow: the best app ever", nil
	}
	f := newFixture(t, text, placeholderImage, validatorFunc(reject))

	out, err := f.ctrl.Orchestrate(context.Background(), fitnow)
	require.ErrorIs(t, err, domain.ErrExhaustedRetries)
	require.NotNil(t, out)

	assert.Equal(t, string(statemachine.StatusExhausted), out.Campaign.Status)
	assert.Equal(t, []int{1, 2, 3}, revisions(out.Campaign))
	assert.Nil(t, out.Campaign.AcceptedRevision)
	for _, a := range out.Campaign.Attempts {
		assert.False(t, a.Passed)
		assert.NotEmpty(t, a.Validation.Data().Feedback)
	}

	require.Len(t, plans, 3)
	assert.NotContains(t, plans[0].Constraints, "avoid superlatives")
	assert.Contains(t, plans[1].Constraints, "avoid superlatives")
	assert.Greater(t, len(plans[2].Constraints), len(plans[1].Constraints), "each revision is more constrained")
}

func TestGenerationFailureDoesNotConsumeRetry(t *testing.T) {
	var calls atomic.Int32
	var healthy atomic.Bool
	text := func(ctx context.Context, plan domain.GenerationPlan) (string, error) {
		calls.Add(1)
		if !healthy.Load() {
			return "", domain.ErrTransientAPI
		}
		return "FitNow copy", nil
	}
	f := newFixture(t, text, placeholderImage, validatorFunc(pass))

	out, err := f.ctrl.Orchestrate(context.Background(), fitnow)
	require.ErrorIs(t, err, domain.ErrGenerationFailed)
	assert.Equal(t, int32(2), calls.Load(), "infra retries are bounded by the policy")
	assert.Equal(t, string(statemachine.StatusGenerationFailed), out.Campaign.Status)
	assert.Empty(t, out.Campaign.Attempts)
	assert.NotEmpty(t, out.Campaign.LastError)

	healthy.Store(true)
	out, err = f.ctrl.Run(context.Background(), out.Campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, string(statemachine.StatusAccepted), out.Campaign.Status)
	assert.Equal(t, []int{1}, revisions(out.Campaign))
	assert.Empty(t, out.Campaign.LastError)
}

func TestValidationStallKeepsDraftForResume(t *testing.T) {
	var textCalls atomic.Int32
	text := func(ctx context.Context, plan domain.GenerationPlan) (string, error) {
		textCalls.Add(1)
		return "FitNow copy", nil
	}
	var available atomic.Bool
	v := func(ctx context.Context, draft domain.Draft, brief domain.Brief) (domain.ValidationResult, error) {
		if !available.Load() {
			return domain.ValidationResult{}, domain.ErrIndexUnavailable
		}
		assert.Equal(t, "FitNow copy", draft.Text)
		return pass(ctx, draft, brief)
	}
	f := newFixture(t, text, placeholderImage, validatorFunc(v))

	out, err := f.ctrl.Orchestrate(context.Background(), fitnow)
	require.ErrorIs(t, err, domain.ErrValidationUnavailable)
	assert.Equal(t, string(statemachine.StatusValidating), out.Campaign.Status)
	assert.Empty(t, out.Campaign.Attempts)
	assert.NotEmpty(t, out.Campaign.PendingDraft)
	assert.NotEmpty(t, out.Campaign.LastError)

	stalled, err := f.store.ListStalled()
	require.NoError(t, err)
	require.Len(t, stalled, 1)

	available.Store(true)
	out, err = f.ctrl.Run(context.Background(), out.Campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, string(statemachine.StatusAccepted), out.Campaign.Status)
	assert.Equal(t, []int{1}, revisions(out.Campaign))
	assert.Equal(t, int32(1), textCalls.Load(), "resume validates the stored draft instead of generating again")
}

func TestRegenerateCreatesNewLineage(t *testing.T) {
	f := newFixture(t, copyText, placeholderImage, validatorFunc(pass))
	ctx := context.Background()

	first, err := f.ctrl.Orchestrate(ctx, fitnow)
	require.NoError(t, err)

	second, err := f.ctrl.Regenerate(ctx, first.Campaign.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.Campaign.ID, second.Campaign.ID)
	assert.Equal(t, first.Campaign.ID, second.Campaign.ParentID)
	assert.Equal(t, first.Campaign.RootID, second.Campaign.RootID)
	assert.Equal(t, fitnow.CampaignName, second.Campaign.Brief.Data().CampaignName)
	assert.Equal(t, []int{1}, revisions(second.Campaign))

	third, err := f.ctrl.Regenerate(ctx, second.Campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Campaign.RootID, third.Campaign.RootID)

	source, err := f.store.Get(first.Campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, revisions(source), "source history is untouched")

	lineage, err := f.store.ListLineage(first.Campaign.RootID)
	require.NoError(t, err)
	assert.Len(t, lineage, 3)
}

func TestRegenerateRequiresTerminalSource(t *testing.T) {
	failing := func(ctx context.Context, plan domain.GenerationPlan) (string, error) {
		return "", domain.ErrTransientAPI
	}
	f := newFixture(t, failing, placeholderImage, validatorFunc(pass))

	out, err := f.ctrl.Orchestrate(context.Background(), fitnow)
	require.ErrorIs(t, err, domain.ErrGenerationFailed)

	_, err = f.ctrl.Regenerate(context.Background(), out.Campaign.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.ctrl.Regenerate(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrCampaignNotFound)
}

func TestRunTerminalCampaignIsRejected(t *testing.T) {
	f := newFixture(t, copyText, placeholderImage, validatorFunc(pass))
	out, err := f.ctrl.Orchestrate(context.Background(), fitnow)
	require.NoError(t, err)

	again, err := f.ctrl.Run(context.Background(), out.Campaign.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	require.NotNil(t, again)
	assert.Equal(t, []int{1}, revisions(again.Campaign))
}

func TestMalformedBriefCreatesNothing(t *testing.T) {
	f := newFixture(t, copyText, placeholderImage, validatorFunc(pass))

	_, err := f.ctrl.Orchestrate(context.Background(), domain.Brief{CampaignName: "No brand"})
	assert.ErrorIs(t, err, domain.ErrMalformedBrief)

	_, total, err := f.store.List(10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestConcurrentRunIsBusy(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	text := func(ctx context.Context, plan domain.GenerationPlan) (string, error) {
		once.Do(func() { close(started) })
		select {
		case <-unblock:
			return "FitNow copy", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f := newFixture(t, text, placeholderImage, validatorFunc(pass))

	campaign, err := f.ctrl.Create(fitnow)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Run(context.Background(), campaign.ID)
		done <- err
	}()
	<-started

	assert.True(t, f.ctrl.Busy(campaign.ID))
	_, err = f.ctrl.Run(context.Background(), campaign.ID)
	assert.ErrorIs(t, err, domain.ErrCampaignBusy)
	_, err = f.ctrl.Fork(campaign.ID)
	assert.ErrorIs(t, err, domain.ErrCampaignBusy)

	close(unblock)
	require.NoError(t, <-done)
	assert.False(t, f.ctrl.Busy(campaign.ID))
}

func TestCancellationKeepsRecordedAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var interrupted atomic.Bool
	text := func(ctx context.Context, plan domain.GenerationPlan) (string, error) {
		if plan.Revision == 2 && interrupted.CompareAndSwap(false, true) {
			cancel()
			return "", ctx.Err()
		}
		return "FitNow: the best app ever", nil
	}
	f := newFixture(t, text, placeholderImage, validatorFunc(reject))

	out, err := f.ctrl.Orchestrate(ctx, fitnow)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{1}, revisions(out.Campaign))
	assert.Equal(t, string(statemachine.StatusPlanning), out.Campaign.Status)

	out, err = f.ctrl.Run(context.Background(), out.Campaign.ID)
	require.ErrorIs(t, err, domain.ErrExhaustedRetries)
	assert.Equal(t, []int{1, 2, 3}, revisions(out.Campaign), "resume continues at the next revision")
}

func TestSuperlativeCopyIsRevised(t *testing.T) {
	db := setupDB(t)
	index := guideline.NewIndex(repository.NewGuidelineRepository(db), embedder.NewHashEmbedder(128), guideline.NewChunker(500, 20))
	_, err := index.Ingest(context.Background(), domain.GuidelineDocument{
		ID:   "fitnow-voice",
		Text: "Never use superlatives. Always mention the brand name.",
	})
	require.NoError(t, err)

	text := func(ctx context.Context, plan domain.GenerationPlan) (string, error) {
		for _, c := range plan.Constraints {
			if strings.Contains(c, "avoid superlatives") {
				return "Join the FitNow summer challenge and train with friends.", nil
			}
		}
		return "FitNow: the best fitness app ever!", nil
	}
	store := repository.NewCampaignRepository(db)
	ctrl := NewController(planner.New(""), textFunc(text), imageFunc(placeholderImage),
		validator.New(index, validator.DefaultConfig()), store, nil,
		Config{MaxRetries: 3, Infra: retry.Policy{MaxAttempts: 1}})

	out, err := ctrl.Orchestrate(context.Background(), fitnow)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, revisions(out.Campaign))

	first := out.Campaign.Attempts[0].Validation.Data()
	assert.False(t, first.Pass)
	require.NotEmpty(t, first.Feedback)
	assert.Equal(t, domain.FeedbackForbidden, first.Feedback[0].Kind)
	assert.NotEmpty(t, first.Citations)

	assert.True(t, out.Campaign.Attempts[1].Passed)
	assert.Equal(t, string(statemachine.StatusAccepted), out.Campaign.Status)
}

func TestGeneratorErrorsAreNotRetriedWhenPermanent(t *testing.T) {
	var calls atomic.Int32
	image := func(ctx context.Context, plan domain.GenerationPlan) (domain.ImageRef, error) {
		calls.Add(1)
		return domain.ImageRef{}, errors.New("content policy violation")
	}
	f := newFixture(t, copyText, image, validatorFunc(pass))

	_, err := f.ctrl.Orchestrate(context.Background(), fitnow)
	require.ErrorIs(t, err, domain.ErrGenerationFailed)
	assert.Equal(t, int32(1), calls.Load())
}
