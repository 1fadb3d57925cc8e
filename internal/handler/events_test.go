package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brandpilot/backend/internal/eventbus"
	"github.com/brandpilot/backend/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func TestEventHandlerStreamsUntilFinished(t *testing.T) {
	s := newTestServer(t, nil)
	created := decode(t, s.do(t, http.MethodPost, "/campaigns", fitnowBrief))
	id := created["campaign_id"].(string)

	server := httptest.NewServer(s.router)
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/campaigns/" + id + "/events"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snapshot, finished eventbus.CampaignEvent
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot error: %v", err)
	}
	if snapshot.Status != "accepted" {
		t.Fatalf("expected accepted snapshot, got %s", snapshot.Status)
	}
	if err := conn.ReadJSON(&finished); err != nil {
		t.Fatalf("read finished error: %v", err)
	}
	if finished.Type != eventbus.CampaignEventFinished {
		t.Fatalf("expected finished event, got %s", finished.Type)
	}
}

func TestEventHandlerUnknownCampaign(t *testing.T) {
	s := newTestServer(t, nil)
	server := httptest.NewServer(s.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/campaigns/missing/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial to fail for unknown campaign")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown campaign, got %v", resp)
	}
}

// finishingLoader finishes the run while the stream is loading its snapshot.
type finishingLoader struct {
	bus *eventbus.CampaignEventBus
}

func (l *finishingLoader) Get(id string) (*model.Campaign, error) {
	ctx := context.Background()
	_ = l.bus.Publish(ctx, eventbus.CampaignEvent{Type: eventbus.CampaignEventAttempt, CampaignID: id, Status: "validating", Revision: 1, Passed: true})
	_ = l.bus.Publish(ctx, eventbus.CampaignEvent{Type: eventbus.CampaignEventFinished, CampaignID: id, Status: "accepted"})
	return &model.Campaign{ID: id, Status: "generating"}, nil
}

func TestEventHandlerRunFinishingDuringLoad(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bus := eventbus.NewCampaignEventBus()
	r := gin.New()
	r.GET("/campaigns/:id/events", NewEventHandler(&finishingLoader{bus: bus}, bus).Stream)

	server := httptest.NewServer(r)
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/campaigns/c-1/events"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	want := []struct {
		typ    eventbus.CampaignEventType
		status string
	}{
		{eventbus.CampaignEventStatus, "generating"},
		{eventbus.CampaignEventAttempt, "validating"},
		{eventbus.CampaignEventFinished, "accepted"},
	}
	for i, w := range want {
		var event eventbus.CampaignEvent
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("read event %d error: %v", i, err)
		}
		if event.Type != w.typ || event.Status != w.status {
			t.Fatalf("event %d: got %s/%s, want %s/%s", i, event.Type, event.Status, w.typ, w.status)
		}
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close after finished, got %v", err)
	}
}
