package subscriber

import (
	"context"
	"testing"

	"github.com/brandpilot/backend/internal/eventbus"
)

func TestCampaignEventSubscriberRegisterAndHandle(t *testing.T) {
	bus := eventbus.NewCampaignEventBus()
	sub := NewCampaignEventSubscriber()
	sub.Register(bus)

	events := []eventbus.CampaignEvent{
		{Type: eventbus.CampaignEventStatus, CampaignID: "c1", Status: "generating"},
		{Type: eventbus.CampaignEventAttempt, CampaignID: "c1", Revision: 1, Passed: false},
		{Type: eventbus.CampaignEventAttempt, CampaignID: "c1", Revision: 2, Passed: true},
		{Type: eventbus.CampaignEventFinished, CampaignID: "c1", Status: "accepted", Revision: 2},
		{Type: eventbus.CampaignEventStatus, CampaignID: "c2", Status: "generation_failed", Error: "timeout"},
		{Type: eventbus.CampaignEventFinished, CampaignID: "c3", Status: "exhausted"},
	}
	for _, e := range events {
		if err := bus.Publish(context.Background(), e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got := sub.Stats()
	want := RunStats{Attempts: 2, Rejected: 1, Accepted: 1, Exhausted: 1, GenerationFailed: 1}
	if got != want {
		t.Fatalf("unexpected stats: got %+v, want %+v", got, want)
	}
}

func TestCampaignEventSubscriberRejectsAnonymousAttempt(t *testing.T) {
	bus := eventbus.NewCampaignEventBus()
	sub := NewCampaignEventSubscriber()
	sub.Register(bus)

	if err := bus.Publish(context.Background(), eventbus.CampaignEvent{Type: eventbus.CampaignEventAttempt}); err == nil {
		t.Fatalf("expected error for attempt without campaign id")
	}
	if sub.Stats().Attempts != 0 {
		t.Fatalf("anonymous attempt must not be counted")
	}
}

func TestCampaignEventSubscriberNilBus(t *testing.T) {
	NewCampaignEventSubscriber().Register(nil)
}
