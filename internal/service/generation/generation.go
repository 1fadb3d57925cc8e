// Package generation adapts text and image providers to the plan driven
// generation the regeneration loop needs.
package generation

import (
	"context"
	"fmt"

	"github.com/brandpilot/backend/config"
	"github.com/brandpilot/backend/internal/domain"
	"github.com/brandpilot/backend/internal/pkg/objectstore"
)

const (
	ProviderOpenAI  = "openai"
	ProviderOffline = "offline"
)

// TextGenerator writes marketing copy for a plan. Provider failures are
// reported wrapped in domain.ErrTransientAPI.
type TextGenerator interface {
	GenerateText(ctx context.Context, plan domain.GenerationPlan) (string, error)
}

// ImageGenerator produces one image for a plan.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, plan domain.GenerationPlan) (domain.ImageRef, error)
}

func NewTextGenerator(ctx context.Context, cfg config.LLMConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case ProviderOffline:
		return NewOfflineTextGenerator(), nil
	case ProviderOpenAI, "":
		cm, err := NewOpenAIChatModel(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewChatTextGenerator(cm), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// NewImageGenerator wires the image provider. store may be nil, in which case
// provider URLs are returned as they are.
func NewImageGenerator(cfg config.ImageConfig, store objectstore.Store) (ImageGenerator, error) {
	switch cfg.Provider {
	case ProviderOffline:
		return NewOfflineImageGenerator(store), nil
	case ProviderOpenAI, "":
		return NewOpenAIImageGenerator(cfg, store), nil
	default:
		return nil, fmt.Errorf("unknown image provider %q", cfg.Provider)
	}
}

func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrTransientAPI, op, err)
}
