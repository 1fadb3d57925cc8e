// Package embedder turns guideline and draft text into vectors.
//
// Every implementation satisfies eino's embedding.Embedder so it can be used
// anywhere an eino component expects one.
package embedder

import (
	"context"
	"fmt"
	"math"

	"github.com/brandpilot/backend/config"
	"github.com/cloudwego/eino/components/embedding"
	"k8s.io/klog/v2"
)

const (
	ProviderOpenAI = "openai"
	ProviderGenAI  = "genai"
	ProviderHash   = "hash"
)

// New builds the embedder selected by the configuration.
func New(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	klog.V(6).Infof("[Embedder] provider=%s model=%s", cfg.Provider, cfg.Model)
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIEmbedder(cfg.APIKey, cfg.APIURL, cfg.Model), nil
	case ProviderGenAI:
		return NewGenAIEmbedder(ctx, cfg.APIKey, cfg.Model)
	case ProviderHash, "":
		return NewHashEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// CosineSimilarity returns 0 for vectors of different length or zero norm.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
