package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/falaai/server/internal/agent/graph/prompts"
	"github.com/falaai/server/internal/agent/model"
	logx "github.com/falaai/server/pkg/logger"
)

// NewInputConverterPreHandler creates the pre-handler for InputConverter node
func NewInputConverterPreHandler() func(context.Context, model.ChatInput, *model.AppState) (model.ChatInput, error) {
	return func(ctx context.Context, in model.ChatInput, s *model.AppState) (model.ChatInput, error) {
		if s.ConversationKey == "" {
			s.ConversationKey = in.ConversationKey
		}
		s.TotalCostUSD = 0
		return in, nil
	}
}

// NewInputConverterNode renders the system prompt, memory and user turn into model input.
func NewInputConverterNode(promptCfg *model.ChatPromptConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, input model.ChatInput) ([]*schema.Message, error) {
		query := strings.TrimSpace(input.Query)
		if query == "" {
			return nil, fmt.Errorf("empty query")
		}
		messages, err := prompts.RenderChatMessages(ctx, *promptCfg, input.History, query)
		if err != nil {
			return nil, fmt.Errorf("render chat prompt: %w", err)
		}
		return messages, nil
	})
}

// NewChatModelPostHandler computes and logs usage cost for the chat model.
func NewChatModelPostHandler(modelName string) func(context.Context, *schema.Message, *model.AppState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.AppState) (*schema.Message, error) {
		if out == nil || out.ResponseMeta == nil {
			return out, nil
		}
		cost := model.ComputeCost(modelName, out.ResponseMeta.Usage)
		if cost == nil {
			return out, nil
		}
		if out.Extra == nil {
			out.Extra = map[string]any{}
		}
		out.Extra[UsageCostKey] = cost.Extra()

		logx.Debug().
			Str("conversation_key", state.ConversationKey).
			Str("node", NodeChatModel).
			Str("model", modelName).
			Int("prompt_tokens", cost.PromptTokens).
			Int("completion_tokens", cost.CompletionTokens).
			Int("total_tokens", cost.TotalTokens).
			Float64("total_cost_usd", cost.TotalCost).
			Msg("LLM usage")

		state.TotalCostUSD += cost.TotalCost
		out.Extra[UsageCostTotalKey] = state.TotalCostUSD
		return out, nil
	}
}
