package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/brandpilot/backend/internal/domain"
	"github.com/brandpilot/backend/internal/model"
	"github.com/brandpilot/backend/internal/service"
	"github.com/brandpilot/backend/internal/service/regeneration"
	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
)

type CampaignHandler struct {
	service *service.CampaignService
}

func NewCampaignHandler(service *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{
		service: service,
	}
}

type validateRequest struct {
	Draft domain.Draft `json:"draft"`
	Brief domain.Brief `json:"brief"`
}

// Create runs a brief to a verdict, or queues it when async=true.
func (h *CampaignHandler) Create(c *gin.Context) {
	var brief domain.Brief
	if err := c.ShouldBindJSON(&brief); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		campaign, err := h.service.Submit(brief)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"campaign_id": campaign.ID, "status": campaign.Status})
		return
	}

	outcome, err := h.service.Orchestrate(c.Request.Context(), brief)
	h.respond(c, outcome, err)
}

func (h *CampaignHandler) Regenerate(c *gin.Context) {
	id := c.Param("id")
	if async, _ := strconv.ParseBool(c.Query("async")); async {
		campaign, err := h.service.SubmitRegenerate(id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"campaign_id": campaign.ID, "parent_id": campaign.ParentID, "status": campaign.Status})
		return
	}

	outcome, err := h.service.Regenerate(c.Request.Context(), id)
	h.respond(c, outcome, err)
}

func (h *CampaignHandler) Resume(c *gin.Context) {
	id := c.Param("id")
	if async, _ := strconv.ParseBool(c.Query("async")); async {
		campaign, err := h.service.SubmitResume(id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"campaign_id": campaign.ID, "status": campaign.Status})
		return
	}

	outcome, err := h.service.Resume(c.Request.Context(), id)
	h.respond(c, outcome, err)
}

func (h *CampaignHandler) Cancel(c *gin.Context) {
	cancelled, err := h.service.Cancel(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !cancelled {
		c.JSON(http.StatusConflict, gin.H{"error": "campaign has no queued or running job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "campaign cancelled"})
}

func (h *CampaignHandler) Get(c *gin.Context) {
	campaign, err := h.service.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

func (h *CampaignHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	campaigns, total, err := h.service.List(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": campaigns, "total": total})
}

func (h *CampaignHandler) Lineage(c *gin.Context) {
	campaigns, err := h.service.Lineage(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaigns)
}

// Report serves the HTML export; download=true adds an attachment disposition.
func (h *CampaignHandler) Report(c *gin.Context) {
	id := c.Param("id")
	html, err := h.service.Report(id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if download, _ := strconv.ParseBool(c.Query("download")); download {
		c.Header("Content-Disposition", "attachment; filename=campaign-"+id+".html")
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (h *CampaignHandler) Validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.service.Validate(c.Request.Context(), req.Draft, req.Brief)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *CampaignHandler) QueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.QueueStatus())
}

// respond writes a run outcome. Exhausted campaigns are a normal 200 answer
// carrying the whole feedback history; stalls are 503 with the campaign so the
// caller can resume.
func (h *CampaignHandler) respond(c *gin.Context, outcome *regeneration.Outcome, err error) {
	if outcome == nil || outcome.Campaign == nil {
		if err == nil {
			err = errors.New("run returned no campaign")
		}
		abortWithError(c, err)
		return
	}

	body := gin.H{
		"campaign_id": outcome.Campaign.ID,
		"status":      outcome.Campaign.Status,
		"attempt":     outcome.Attempt,
		"campaign":    outcome.Campaign,
	}
	if err == nil {
		c.JSON(http.StatusOK, body)
		return
	}

	klog.V(6).Infof("[CampaignHandler] run ended with error: id=%s, err=%v", outcome.Campaign.ID, err)
	body["feedback"] = feedbackHistory(outcome.Campaign)
	switch {
	case errors.Is(err, domain.ErrExhaustedRetries):
		body["error"] = "exhausted_retries"
		body["message"] = err.Error()
		c.JSON(http.StatusOK, body)
	case errors.Is(err, domain.ErrGenerationFailed):
		body["error"] = "generation_failed"
		body["message"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
	case errors.Is(err, domain.ErrValidationUnavailable):
		body["error"] = "validation_unavailable"
		body["message"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
	default:
		body["error"] = err.Error()
		c.JSON(statusFor(err), body)
	}
}

type attemptFeedback struct {
	Revision int                   `json:"revision"`
	Score    float64               `json:"score"`
	Summary  string                `json:"summary"`
	Items    []domain.FeedbackItem `json:"items,omitempty"`
}

func feedbackHistory(campaign *model.Campaign) []attemptFeedback {
	out := make([]attemptFeedback, 0, len(campaign.Attempts))
	for _, a := range campaign.Attempts {
		v := a.Validation.Data()
		out = append(out, attemptFeedback{
			Revision: a.Revision,
			Score:    a.Score,
			Summary:  v.Summary,
			Items:    v.Feedback,
		})
	}
	return out
}
