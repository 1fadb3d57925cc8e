package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/brandpilot/backend/config"
	"github.com/brandpilot/backend/internal/domain"
	"github.com/brandpilot/backend/internal/pkg/objectstore"
	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"k8s.io/klog/v2"
)

var errNoImage = errors.New("provider returned no image")

type OpenAIImageGenerator struct {
	client openai.Client
	model  string
	size   string
	store  objectstore.Store
}

func NewOpenAIImageGenerator(cfg config.ImageConfig, store objectstore.Store) *OpenAIImageGenerator {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.APIURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIURL))
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.ImageModelDallE3)
	}
	size := cfg.Size
	if size == "" {
		size = string(openai.ImageGenerateParamsSize1024x1024)
	}
	return &OpenAIImageGenerator{
		client: openai.NewClient(opts...),
		model:  model,
		size:   size,
		store:  store,
	}
}

// GenerateImage asks for base64 data when an object store is configured and
// keeps the image there; otherwise the provider URL is returned.
func (g *OpenAIImageGenerator) GenerateImage(ctx context.Context, plan domain.GenerationPlan) (domain.ImageRef, error) {
	format := openai.ImageGenerateParamsResponseFormatURL
	if g.store != nil {
		format = openai.ImageGenerateParamsResponseFormatB64JSON
	}
	klog.V(6).Infof("[OpenAIImageGenerator] generate: revision=%d, model=%s, size=%s", plan.Revision, g.model, g.size)

	resp, err := g.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         plan.ImagePrompt,
		Model:          openai.ImageModel(g.model),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize(g.size),
		ResponseFormat: format,
	})
	if err != nil {
		return domain.ImageRef{}, transient("generate image", err)
	}
	if len(resp.Data) == 0 {
		return domain.ImageRef{}, transient("generate image", errNoImage)
	}
	img := resp.Data[0]

	if img.B64JSON != "" && g.store != nil {
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return domain.ImageRef{}, fmt.Errorf("decode image: %w", err)
		}
		key := objectKey(plan)
		url, err := g.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return domain.ImageRef{}, transient("store image", err)
		}
		return domain.ImageRef{URL: url, ObjectKey: key, RevisedPrompt: img.RevisedPrompt}, nil
	}
	if img.URL == "" {
		return domain.ImageRef{}, transient("generate image", errNoImage)
	}
	return domain.ImageRef{URL: img.URL, RevisedPrompt: img.RevisedPrompt}, nil
}

func objectKey(plan domain.GenerationPlan) string {
	return fmt.Sprintf("campaigns/%s/rev-%d-%s.png", slug(plan.CampaignName), plan.Revision, uuid.NewString()[:8])
}
