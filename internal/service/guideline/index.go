// Package guideline stores brand guideline chunks and retrieves the ones
// closest to a query by cosine similarity.
package guideline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/brandpilot/backend/internal/domain"
	"github.com/brandpilot/backend/internal/model"
	"github.com/brandpilot/backend/internal/pkg/embedder"
	"github.com/brandpilot/backend/internal/repository"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

const DefaultTopK = 5

type Stats struct {
	Documents int   `json:"documents"`
	Chunks    int64 `json:"chunks"`
}

type Index struct {
	repo     repository.GuidelineRepository
	embedder embedding.Embedder
	chunker  *Chunker
}

func NewIndex(repo repository.GuidelineRepository, emb embedding.Embedder, chunker *Chunker) *Index {
	if chunker == nil {
		chunker = NewChunker(0, 0)
	}
	return &Index{repo: repo, embedder: emb, chunker: chunker}
}

// Ingest chunks, embeds and stores a document. A document without text yields
// no chunks. Uploading the same document id again replaces its chunks.
func (i *Index) Ingest(ctx context.Context, doc domain.GuidelineDocument) ([]domain.GuidelineChunk, error) {
	texts := i.chunker.Split(doc.Text)
	if len(texts) == 0 {
		klog.V(6).Infof("[GuidelineIndex] document has no text: id=%s", doc.ID)
		return []domain.GuidelineChunk{}, nil
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	vectors, err := i.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: embed document %s: %w", domain.ErrIndexUnavailable, doc.ID, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", domain.ErrIndexUnavailable, len(texts), len(vectors))
	}

	chunks := make([]model.GuidelineChunk, len(texts))
	for n, text := range texts {
		chunks[n] = model.GuidelineChunk{
			DocumentID: doc.ID,
			Seq:        n,
			Text:       text,
			Embedding:  vectors[n],
		}
	}
	record := &model.GuidelineDocument{ID: doc.ID, Title: doc.Title, Source: doc.Source}
	if err := i.repo.ReplaceDocument(record, chunks); err != nil {
		return nil, fmt.Errorf("%w: store document %s: %w", domain.ErrIndexUnavailable, doc.ID, err)
	}

	out := make([]domain.GuidelineChunk, len(chunks))
	for n := range chunks {
		out[n] = chunks[n].ToDomain()
	}
	klog.V(6).Infof("[GuidelineIndex] ingested document: id=%s, chunks=%d", doc.ID, len(out))
	return out, nil
}

// Search returns up to k chunks ordered by similarity, highest first. Equal
// scores keep insertion order.
func (i *Index) Search(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	if strings.TrimSpace(query) == "" {
		return []domain.ScoredChunk{}, nil
	}

	vectors, err := i.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", domain.ErrIndexUnavailable, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 query embedding, got %d", domain.ErrIndexUnavailable, len(vectors))
	}
	qv := vectors[0]

	chunks, err := i.repo.ListChunks()
	if err != nil {
		return nil, fmt.Errorf("%w: load chunks: %w", domain.ErrIndexUnavailable, err)
	}

	scored := make([]domain.ScoredChunk, 0, len(chunks))
	for n := range chunks {
		if len(chunks[n].Embedding) != len(qv) {
			klog.Warningf("[GuidelineIndex] skip chunk with mismatched dimensions: id=%d, got=%d, want=%d", chunks[n].ID, len(chunks[n].Embedding), len(qv))
			continue
		}
		scored = append(scored, domain.ScoredChunk{
			Chunk: chunks[n].ToDomain(),
			Score: embedder.CosineSimilarity(qv, chunks[n].Embedding),
		})
	}

	// chunks come back ordered by id, so a stable sort keeps ties in insertion order
	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].Score > scored[b].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (i *Index) ListDocuments() ([]model.GuidelineDocument, error) {
	return i.repo.ListDocuments()
}

func (i *Index) DeleteDocument(id string) error {
	return i.repo.DeleteDocument(id)
}

func (i *Index) Stats() (*Stats, error) {
	docs, err := i.repo.ListDocuments()
	if err != nil {
		return nil, err
	}
	n, err := i.repo.CountChunks()
	if err != nil {
		return nil, err
	}
	return &Stats{Documents: len(docs), Chunks: n}, nil
}
