package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/brandpilot/backend/internal/eventbus"
	"github.com/brandpilot/backend/internal/model"
	"github.com/brandpilot/backend/internal/service/statemachine"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// CampaignLoader reads the current state of a campaign.
type CampaignLoader interface {
	Get(id string) (*model.Campaign, error)
}

type EventHandler struct {
	campaigns CampaignLoader
	bus       *eventbus.CampaignEventBus
}

func NewEventHandler(campaigns CampaignLoader, bus *eventbus.CampaignEventBus) *EventHandler {
	return &EventHandler{campaigns: campaigns, bus: bus}
}

// Stream pushes the events of one campaign over a websocket. The first message
// is the current state; the connection closes after the finished event.
func (h *EventHandler) Stream(c *gin.Context) {
	id := c.Param("id")

	// subscribe before loading so a run finishing in between is not missed
	events := make(chan eventbus.CampaignEvent, 32)
	finished := make(chan eventbus.CampaignEvent, 1)
	unsubscribe := h.bus.SubscribeAll(func(ctx context.Context, event eventbus.CampaignEvent) error {
		if event.CampaignID != id {
			return nil
		}
		if event.Type == eventbus.CampaignEventFinished {
			select {
			case finished <- event:
			default:
			}
			return nil
		}
		select {
		case events <- event:
		default:
			klog.Warningf("[EventHandler] slow consumer, dropping event: id=%s, type=%s", id, event.Type)
		}
		return nil
	})
	defer unsubscribe()

	campaign, err := h.campaigns.Get(id)
	if err != nil {
		abortWithError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		klog.Warningf("[EventHandler] websocket upgrade failed: id=%s, err=%v", id, err)
		return
	}
	defer conn.Close()

	snapshot := eventbus.CampaignEvent{
		Type:       eventbus.CampaignEventStatus,
		CampaignID: id,
		Status:     campaign.Status,
		Error:      campaign.LastError,
		Time:       time.Now(),
	}
	if err := conn.WriteJSON(snapshot); err != nil {
		return
	}
	if statemachine.IsTerminal(statemachine.CampaignStatus(campaign.Status)) {
		done := snapshot
		done.Type = eventbus.CampaignEventFinished
		_ = conn.WriteJSON(done)
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case event := <-events:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case event := <-finished:
			// flush what was published before the finished event
			for pending := true; pending; {
				select {
				case e := <-events:
					if err := conn.WriteJSON(e); err != nil {
						return
					}
				default:
					pending = false
				}
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "finished"))
			return
		}
	}
}
