package generation

import (
	"context"
	"errors"

	"github.com/brandpilot/backend/config"
	"github.com/brandpilot/backend/internal/domain"
	"github.com/brandpilot/backend/internal/utils"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"
)

const copywriterSystemPrompt = `You are a senior brand copywriter.
Write only the marketing copy itself: no preamble, no notes about the task.
Follow every brand constraint in the request exactly.`

var errEmptyCompletion = errors.New("empty completion")

// ChatTextGenerator writes copy with any eino chat model.
type ChatTextGenerator struct {
	chatModel model.BaseChatModel
}

func NewChatTextGenerator(chatModel model.BaseChatModel) *ChatTextGenerator {
	return &ChatTextGenerator{chatModel: chatModel}
}

// NewOpenAIChatModel builds an OpenAI compatible eino chat model.
func NewOpenAIChatModel(ctx context.Context, cfg config.LLMConfig) (model.ToolCallingChatModel, error) {
	klog.V(6).Infof("[ChatTextGenerator] create chat model: model=%s, baseURL=%s", cfg.Model, cfg.APIURL)
	mc := &openai.ChatModelConfig{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
	}
	if cfg.APIURL != "" {
		mc.BaseURL = cfg.APIURL
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		mc.MaxTokens = &maxTokens
	}
	cm, err := openai.NewChatModel(ctx, mc)
	if err != nil {
		klog.Errorf("[ChatTextGenerator] create chat model failed: %v", err)
		return nil, err
	}
	return cm, nil
}

func (g *ChatTextGenerator) GenerateText(ctx context.Context, plan domain.GenerationPlan) (string, error) {
	messages := []*schema.Message{
		{
			Role:    schema.System,
			Content: copywriterSystemPrompt,
		},
		{
			Role:    schema.User,
			Content: plan.TextPrompt,
		},
	}
	klog.V(6).Infof("[ChatTextGenerator] generate: revision=%d, promptLength=%d", plan.Revision, len(plan.TextPrompt))

	resp, err := g.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", transient("generate text", err)
	}
	text := utils.StripCodeFence(resp.Content)
	if text == "" {
		return "", transient("generate text", errEmptyCompletion)
	}
	klog.V(6).Infof("[ChatTextGenerator] done: revision=%d, length=%d", plan.Revision, len(text))
	return text, nil
}
