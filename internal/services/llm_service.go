package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/aiwuxian/recall-knowledge/internal/models"
)

const llmTimeout = 20 * time.Second

// FactFabricator 为大失败润色虚假信息
type FactFabricator interface {
	FabricateFact(ctx context.Context, target *models.Actor, draft models.Fact) (models.Fact, error)
}

// LLMService 通过 OpenAI 兼容接口生成更可信的虚假信息
type LLMService struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

func NewLLMService(cfg models.LLMConfig, logger *zap.Logger) *LLMService {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		config.BaseURL = cfg.APIBase
	}
	config.HTTPClient = &http.Client{Timeout: llmTimeout}

	return &LLMService{
		client:      openai.NewClientWithConfig(config),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger.Named("LLMService"),
	}
}

const fabricatePrompt = `You are helping a game master run Pathfinder 2e.
A character failed badly at recalling knowledge about a creature and misremembers one detail.
Rewrite the draft into one short, plausible but WRONG statement in the same format.
Reply with the statement only.`

// FabricateFact 以随机生成的草稿为基础润色；只替换值，ID与标签不变
func (ls *LLMService) FabricateFact(ctx context.Context, target *models.Actor, draft models.Fact) (models.Fact, error) {
	user := fmt.Sprintf("Creature: %s (level %d, traits: %s)\nDetail: %s\nDraft: %s",
		target.DisplayName(), levelOf(target), strings.Join(target.LowerTraits(), ", "), draft.Label, draft.Value)

	resp, err := ls.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: ls.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fabricatePrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: ls.temperature,
		MaxTokens:   ls.maxTokens,
	})
	if err != nil {
		return draft, fmt.Errorf("生成虚假信息失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return draft, fmt.Errorf("生成虚假信息失败: 空响应")
	}

	value := strings.TrimSpace(resp.Choices[0].Message.Content)
	if value == "" {
		return draft, fmt.Errorf("生成虚假信息失败: 空内容")
	}
	ls.logger.Debug("虚假信息已润色", zap.String("fact", string(draft.ID)))
	draft.Value = value
	return draft, nil
}

func levelOf(a *models.Actor) int {
	if a == nil {
		return 0
	}
	return a.Level
}
