package handler

import (
	"net/http"

	"github.com/brandpilot/backend/internal/service"
	"github.com/brandpilot/backend/internal/service/guideline"
	"github.com/brandpilot/backend/internal/subscriber"
	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	campaigns *service.CampaignService
	index     *guideline.Index
	runs      *subscriber.CampaignEventSubscriber
}

// NewHealthHandler builds the health endpoint. runs may be nil.
func NewHealthHandler(campaigns *service.CampaignService, index *guideline.Index, runs *subscriber.CampaignEventSubscriber) *HealthHandler {
	return &HealthHandler{campaigns: campaigns, index: index, runs: runs}
}

func (h *HealthHandler) Health(c *gin.Context) {
	stats, err := h.index.Stats()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	body := gin.H{
		"status":     "ok",
		"guidelines": stats,
		"queue":      h.campaigns.QueueStatus(),
	}
	if h.runs != nil {
		body["runs"] = h.runs.Stats()
	}
	c.JSON(http.StatusOK, body)
}
