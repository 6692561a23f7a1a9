package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/title_prompt.txt
var titlePrompt string

//go:embed template/summary_prompt.txt
var summaryPrompt string

// RenderTitle renders the single user message asking for a conversation title.
func RenderTitle(ctx context.Context, firstMessage string) ([]*schema.Message, error) {
	return renderSingle(ctx, "title", titlePrompt, map[string]any{
		"FirstMessage": firstMessage,
	})
}

// RenderSummary renders the progressive summarization request used by memory pruning.
func RenderSummary(ctx context.Context, summary, newLines string) ([]*schema.Message, error) {
	return renderSingle(ctx, "summary", summaryPrompt, map[string]any{
		"Summary":  summary,
		"NewLines": newLines,
	})
}

func renderSingle(ctx context.Context, name, tmpl string, vars map[string]any) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(schema.GoTemplate, schema.UserMessage(tmpl))
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("%s prompt render: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return nil, fmt.Errorf("%s prompt render: empty result", name)
	}
	return msgs, nil
}
