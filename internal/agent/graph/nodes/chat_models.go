package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	agentmodel "github.com/falaai/server/internal/agent/model"
	logx "github.com/falaai/server/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey      string
	BaseURL     string
	ChatConfig  *agentmodel.ChatModelConfig
	TitleConfig *agentmodel.TitleModelConfig
}

// ChatModels holds the conversational model and the title generator model.
type ChatModels struct {
	Chat           model.BaseChatModel
	Title          model.BaseChatModel
	ChatModelName  string
	TitleModelName string
}

// NewChatModels creates both Gemini chat models sharing one genai client.
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	if config.ChatConfig == nil || config.TitleConfig == nil {
		return nil, fmt.Errorf("chat model configs are nil")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.ChatConfig.Model,
		Temperature: &config.ChatConfig.Temperature,
		MaxTokens:   &config.ChatConfig.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(config.ChatConfig.ThinkingBudget),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating chat model")
		return nil, fmt.Errorf("error creating chat model: %w", err)
	}

	titleModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.TitleConfig.Model,
		Temperature: &config.TitleConfig.Temperature,
		MaxTokens:   &config.TitleConfig.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(config.TitleConfig.ThinkingBudget),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating title model")
		return nil, fmt.Errorf("error creating title model: %w", err)
	}

	return &ChatModels{
		Chat:           chatModel,
		Title:          titleModel,
		ChatModelName:  config.ChatConfig.Model,
		TitleModelName: config.TitleConfig.Model,
	}, nil
}
