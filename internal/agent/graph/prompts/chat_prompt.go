package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/falaai/server/internal/agent/model"
)

//go:embed template/chat_prompt.txt
var chatSystemPrompt string

// RenderChatMessages builds the full model input for one chat turn: the
// persona system prompt, the remembered history and the new user message.
// Rendering goes through an Eino prompt component so prompt callbacks fire.
func RenderChatMessages(ctx context.Context, cfg model.ChatPromptConfig, history []*schema.Message, input string) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(chatSystemPrompt),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{{.Input}}"),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"AssistantName": cfg.AssistantName,
		"history":       history,
		"Input":         input,
	})
	if err != nil {
		return nil, fmt.Errorf("chat prompt render: %w", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("chat prompt render: empty result")
	}
	return msgs, nil
}
