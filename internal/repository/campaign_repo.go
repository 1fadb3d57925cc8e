package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/brandpilot/backend/internal/model"
	"github.com/brandpilot/backend/internal/service/statemachine"
	"gorm.io/gorm"
)

type campaignRepository struct {
	db *gorm.DB
}

func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

func (r *campaignRepository) Create(campaign *model.Campaign) error {
	if campaign.RootID == "" {
		campaign.RootID = campaign.ID
	}
	return r.db.Create(campaign).Error
}

// Get loads the campaign with its attempts in revision order.
func (r *campaignRepository) Get(id string) (*model.Campaign, error) {
	var campaign model.Campaign
	err := r.db.Preload("Attempts", func(db *gorm.DB) *gorm.DB {
		return db.Order("revision ASC")
	}).First(&campaign, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &campaign, nil
}

func (r *campaignRepository) GetBasic(id string) (*model.Campaign, error) {
	var campaign model.Campaign
	err := r.db.First(&campaign, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &campaign, nil
}

func (r *campaignRepository) List(limit, offset int) ([]model.Campaign, int64, error) {
	var total int64
	if err := r.db.Model(&model.Campaign{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var campaigns []model.Campaign
	err := r.db.Order("created_at DESC").Order("id").Limit(limit).Offset(offset).Find(&campaigns).Error
	return campaigns, total, err
}

func (r *campaignRepository) ListLineage(rootID string) ([]model.Campaign, error) {
	var campaigns []model.Campaign
	err := r.db.Where("root_id = ?", rootID).Order("created_at ASC").Find(&campaigns).Error
	return campaigns, err
}

// ListStalled returns campaigns that stopped before reaching a terminal status.
func (r *campaignRepository) ListStalled() ([]model.Campaign, error) {
	var campaigns []model.Campaign
	err := r.db.Where("status NOT IN ?", statemachine.TerminalStatuses()).Order("created_at ASC").Find(&campaigns).Error
	return campaigns, err
}

// AppendAttempt records a judged attempt. The revision must directly follow the
// last recorded one and the campaign must not be terminal. The pending draft is
// cleared in the same transaction.
func (r *campaignRepository) AppendAttempt(attempt *model.Attempt) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var campaign model.Campaign
		if err := tx.First(&campaign, "id = ?", attempt.CampaignID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if statemachine.IsTerminal(statemachine.CampaignStatus(campaign.Status)) {
			return fmt.Errorf("%w: %s is %s", ErrCampaignFrozen, campaign.ID, campaign.Status)
		}

		var last int
		if err := tx.Model(&model.Attempt{}).
			Where("campaign_id = ?", attempt.CampaignID).
			Select("COALESCE(MAX(revision), 0)").
			Scan(&last).Error; err != nil {
			return err
		}
		if attempt.Revision != last+1 {
			return fmt.Errorf("%w: got %d, want %d", ErrRevisionOutOfOrder, attempt.Revision, last+1)
		}

		if err := tx.Create(attempt).Error; err != nil {
			return err
		}
		return tx.Model(&model.Campaign{}).Where("id = ?", attempt.CampaignID).Update("pending_draft", "").Error
	})
}

// UpdateState applies a status change. Terminal campaigns are never modified.
func (r *campaignRepository) UpdateState(id string, update StateUpdate) error {
	updates := map[string]interface{}{}
	if update.Status != "" {
		updates["status"] = update.Status
	}
	if update.LastError != nil {
		updates["last_error"] = *update.LastError
	}
	if update.AcceptedRevision != nil {
		updates["accepted_revision"] = *update.AcceptedRevision
	}
	if update.PendingDraft != nil {
		data, err := json.Marshal(update.PendingDraft)
		if err != nil {
			return err
		}
		updates["pending_draft"] = string(data)
	} else if update.ClearPendingDraft {
		updates["pending_draft"] = ""
	}
	if len(updates) == 0 {
		return nil
	}

	result := r.db.Model(&model.Campaign{}).
		Where("id = ? AND status NOT IN ?", id, statemachine.TerminalStatuses()).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	campaign, err := r.GetBasic(id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", ErrCampaignFrozen, id, campaign.Status)
}
