package graph

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"

	"github.com/falaai/server/internal/agent/graph/prompts"
	logx "github.com/falaai/server/pkg/logger"
)

const (
	// DefaultTitle replaces an empty generated title.
	DefaultTitle = "Nova Conversa"
	// FallbackTitle is used when the title model fails.
	FallbackTitle = "Conversa Sem Título"
	maxTitleRunes = 50
)

// TitleGenerator names a conversation from its first user message.
type TitleGenerator struct {
	model model.BaseChatModel
}

func NewTitleGenerator(m model.BaseChatModel) *TitleGenerator {
	return &TitleGenerator{model: m}
}

// Generate never fails; model errors degrade to FallbackTitle.
func (g *TitleGenerator) Generate(ctx context.Context, firstMessage string) string {
	msgs, err := prompts.RenderTitle(ctx, firstMessage)
	if err != nil {
		logx.Error().Err(err).Msg("failed to render title prompt")
		return FallbackTitle
	}
	out, err := g.model.Generate(ctx, msgs)
	if err != nil {
		logx.Error().Err(err).Msg("failed to generate conversation title")
		return FallbackTitle
	}
	if out == nil {
		return DefaultTitle
	}
	return CleanTitle(out.Content)
}

// CleanTitle strips quotes and newlines and caps the title at 50 runes.
func CleanTitle(raw string) string {
	title := strings.ReplaceAll(strings.TrimSpace(raw), `"`, "")
	title = strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
	}
	if title == "" {
		return DefaultTitle
	}
	return title
}
