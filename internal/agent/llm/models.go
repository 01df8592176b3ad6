package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/wikirag-core/server/internal/agent/model"
	logx "github.com/wikirag-core/server/pkg/logger"
)

// ClientConfig holds what is needed to reach the Gemini API.
type ClientConfig struct {
	APIKey  string
	BaseURL string
}

// NewClient builds the shared Gemini client used by both the chat model
// and the embedding encoder.
func NewClient(ctx context.Context, cfg ClientConfig) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// NewResponseModel creates the tool-calling response chat model.
func NewResponseModel(ctx context.Context, client *genai.Client, cfg *model.ResponseModelConfig) (*gemini.ChatModel, error) {
	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &cfg.Temperature,
		MaxTokens:   &cfg.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating response model")
		return nil, fmt.Errorf("error creating response model: %w", err)
	}
	return chatModel, nil
}

// BindTools attaches the tool catalog to the response model so the
// provider can emit tool calls for it.
func BindTools(chatModel *gemini.ChatModel, infos []*schema.ToolInfo) error {
	if err := chatModel.BindTools(infos); err != nil {
		logx.Error().Err(err).Msg("Failed to bind tools")
		return fmt.Errorf("failed to bind tools: %w", err)
	}
	logx.Debug().Int("tool_count", len(infos)).Msg("Successfully bound tools to response model")
	return nil
}
