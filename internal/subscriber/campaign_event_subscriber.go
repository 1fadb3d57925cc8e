package subscriber

import (
	"context"
	"fmt"
	"sync"

	"github.com/brandpilot/backend/internal/eventbus"
	"github.com/brandpilot/backend/internal/service/statemachine"
	"k8s.io/klog/v2"
)

// RunStats counts what the campaign runs of this process produced.
type RunStats struct {
	Attempts         int `json:"attempts"`
	Rejected         int `json:"rejected"`
	Accepted         int `json:"accepted"`
	Exhausted        int `json:"exhausted"`
	GenerationFailed int `json:"generation_failed"`
}

type CampaignEventSubscriber struct {
	mu    sync.Mutex
	stats RunStats
}

func NewCampaignEventSubscriber() *CampaignEventSubscriber {
	return &CampaignEventSubscriber{}
}

func (s *CampaignEventSubscriber) Register(bus *eventbus.CampaignEventBus) {
	if bus == nil {
		return
	}
	bus.Subscribe(eventbus.CampaignEventAttempt, s.handleAttempt)
	bus.Subscribe(eventbus.CampaignEventStatus, s.handleStatus)
	bus.Subscribe(eventbus.CampaignEventFinished, s.handleFinished)
}

func (s *CampaignEventSubscriber) Stats() RunStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *CampaignEventSubscriber) handleAttempt(ctx context.Context, event eventbus.CampaignEvent) error {
	if event.CampaignID == "" {
		return fmt.Errorf("campaign id is empty")
	}
	s.mu.Lock()
	s.stats.Attempts++
	if !event.Passed {
		s.stats.Rejected++
	}
	s.mu.Unlock()

	klog.V(6).Infof("[CampaignEvents] attempt recorded: id=%s, revision=%d, passed=%t, score=%.2f", event.CampaignID, event.Revision, event.Passed, event.Score)
	return nil
}

func (s *CampaignEventSubscriber) handleStatus(ctx context.Context, event eventbus.CampaignEvent) error {
	if event.Status != string(statemachine.StatusGenerationFailed) {
		return nil
	}
	s.mu.Lock()
	s.stats.GenerationFailed++
	s.mu.Unlock()

	klog.Warningf("[CampaignEvents] generation failed: id=%s, err=%s", event.CampaignID, event.Error)
	return nil
}

func (s *CampaignEventSubscriber) handleFinished(ctx context.Context, event eventbus.CampaignEvent) error {
	s.mu.Lock()
	switch event.Status {
	case string(statemachine.StatusAccepted):
		s.stats.Accepted++
	case string(statemachine.StatusExhausted):
		s.stats.Exhausted++
	}
	s.mu.Unlock()

	klog.V(6).Infof("[CampaignEvents] campaign finished: id=%s, status=%s, revision=%d", event.CampaignID, event.Status, event.Revision)
	return nil
}
