package handler

import (
	"errors"
	"net/http"

	"github.com/brandpilot/backend/internal/domain"
	"github.com/brandpilot/backend/internal/repository"
	"github.com/brandpilot/backend/internal/service"
	"github.com/brandpilot/backend/internal/service/orchestrator"
	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMalformedBrief):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCampaignNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCampaignBusy), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGenerationFailed),
		errors.Is(err, domain.ErrValidationUnavailable),
		errors.Is(err, domain.ErrIndexUnavailable),
		errors.Is(err, service.ErrAsyncUnavailable),
		errors.Is(err, orchestrator.ErrQueueFull),
		errors.Is(err, orchestrator.ErrOrchestratorStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
