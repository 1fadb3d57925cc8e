package repository

import (
	"errors"

	"github.com/brandpilot/backend/internal/domain"
	"github.com/brandpilot/backend/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

var (
	// ErrCampaignFrozen is returned for writes against an accepted or exhausted campaign.
	ErrCampaignFrozen = errors.New("campaign is terminal")
	// ErrRevisionOutOfOrder is returned when an attempt would leave a gap in the revision sequence.
	ErrRevisionOutOfOrder = errors.New("attempt revision out of order")
)

// StateUpdate carries the mutable campaign fields. Nil pointers are left untouched.
type StateUpdate struct {
	Status            string
	LastError         *string
	AcceptedRevision  *int
	PendingDraft      *domain.Draft
	ClearPendingDraft bool
}

// CampaignRepository is the durable campaign store. Attempts are append only.
type CampaignRepository interface {
	Create(campaign *model.Campaign) error
	Get(id string) (*model.Campaign, error)
	GetBasic(id string) (*model.Campaign, error)
	List(limit, offset int) ([]model.Campaign, int64, error)
	ListLineage(rootID string) ([]model.Campaign, error)
	AppendAttempt(attempt *model.Attempt) error
	UpdateState(id string, update StateUpdate) error
	ListStalled() ([]model.Campaign, error)
}

type GuidelineRepository interface {
	ReplaceDocument(doc *model.GuidelineDocument, chunks []model.GuidelineChunk) error
	ListChunks() ([]model.GuidelineChunk, error)
	ListDocuments() ([]model.GuidelineDocument, error)
	GetDocument(id string) (*model.GuidelineDocument, error)
	DeleteDocument(id string) error
	CountChunks() (int64, error)
}
