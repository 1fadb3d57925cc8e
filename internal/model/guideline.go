package model

import (
	"time"

	"github.com/brandpilot/backend/internal/domain"
	"gorm.io/datatypes"
)

type GuidelineDocument struct {
	ID         string    `json:"id" gorm:"primaryKey;size:64"`
	Title      string    `json:"title" gorm:"size:255"`
	Source     string    `json:"source" gorm:"size:500"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// GuidelineChunk keeps the embedding next to the text. The auto increment ID
// doubles as the insertion order used to break score ties.
type GuidelineChunk struct {
	ID         uint                         `json:"id" gorm:"primaryKey"`
	DocumentID string                       `json:"document_id" gorm:"size:64;index;not null"`
	Seq        int                          `json:"seq"`
	Text       string                       `json:"text" gorm:"type:text"`
	Embedding  datatypes.JSONSlice[float64] `json:"-"`
	CreatedAt  time.Time                    `json:"created_at"`
}

func (c *GuidelineChunk) ToDomain() domain.GuidelineChunk {
	return domain.GuidelineChunk{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		Seq:        c.Seq,
		Text:       c.Text,
	}
}
