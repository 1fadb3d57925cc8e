package repository

import (
	"errors"

	"github.com/brandpilot/backend/internal/model"
	"gorm.io/gorm"
)

type guidelineRepository struct {
	db *gorm.DB
}

func NewGuidelineRepository(db *gorm.DB) GuidelineRepository {
	return &guidelineRepository{db: db}
}

// ReplaceDocument stores a document and its chunks, dropping any chunks a
// previous upload of the same document left behind.
func (r *guidelineRepository) ReplaceDocument(doc *model.GuidelineDocument, chunks []model.GuidelineChunk) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", doc.ID).Delete(&model.GuidelineChunk{}).Error; err != nil {
			return err
		}
		var existing model.GuidelineDocument
		if err := tx.First(&existing, "id = ?", doc.ID).Error; err == nil {
			doc.CreatedAt = existing.CreatedAt
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		doc.ChunkCount = len(chunks)
		if err := tx.Save(doc).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		for i := range chunks {
			chunks[i].DocumentID = doc.ID
		}
		return tx.Create(&chunks).Error
	})
}

// ListChunks returns every chunk in insertion order.
func (r *guidelineRepository) ListChunks() ([]model.GuidelineChunk, error) {
	var chunks []model.GuidelineChunk
	err := r.db.Order("id ASC").Find(&chunks).Error
	return chunks, err
}

func (r *guidelineRepository) ListDocuments() ([]model.GuidelineDocument, error) {
	var docs []model.GuidelineDocument
	err := r.db.Order("created_at ASC").Find(&docs).Error
	return docs, err
}

func (r *guidelineRepository) GetDocument(id string) (*model.GuidelineDocument, error) {
	var doc model.GuidelineDocument
	if err := r.db.First(&doc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (r *guidelineRepository) DeleteDocument(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&model.GuidelineDocument{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("document_id = ?", id).Delete(&model.GuidelineChunk{}).Error
	})
}

func (r *guidelineRepository) CountChunks() (int64, error) {
	var n int64
	err := r.db.Model(&model.GuidelineChunk{}).Count(&n).Error
	return n, err
}
