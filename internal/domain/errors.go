package domain

import "errors"

var (
	// ErrTransientAPI marks a provider failure worth retrying.
	ErrTransientAPI = errors.New("transient api error")
	// ErrGenerationFailed means a generator kept failing after infrastructure retries.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrValidationUnavailable means the validator could not produce a verdict.
	ErrValidationUnavailable = errors.New("validation unavailable")
	ErrIndexUnavailable      = errors.New("guideline index unavailable")
	ErrExhaustedRetries      = errors.New("exhausted retries")
	ErrCampaignBusy          = errors.New("campaign is busy")
	ErrMalformedBrief        = errors.New("malformed brief")
	ErrCampaignNotFound      = errors.New("campaign not found")
	ErrInvalidTransition     = errors.New("invalid campaign transition")
)
