// Package memory keeps the per-conversation context handed to the chat model:
// a buffer of recent messages plus a running summary of everything older.
package memory

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/falaai/server/internal/agent/graph/prompts"
	agentmodel "github.com/falaai/server/internal/agent/model"
	logx "github.com/falaai/server/pkg/logger"
)

// perMessageOverhead approximates role/framing tokens added per message.
const perMessageOverhead = 4

// Summarizer folds pruned messages into an existing summary.
type Summarizer interface {
	Summarize(ctx context.Context, summary string, pruned []*schema.Message) (string, error)
}

// SummaryBuffer is not safe for concurrent use; callers serialize access
// per conversation.
type SummaryBuffer struct {
	maxTokens  int
	summary    string
	buffer     []*schema.Message
	summarizer Summarizer
}

// NewSummaryBuffer seeds the buffer with history, oldest first. Seeded
// history is not pruned until the next SaveExchange.
func NewSummaryBuffer(cfg agentmodel.MemoryConfig, s Summarizer, history []*schema.Message) *SummaryBuffer {
	buf := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		if m != nil && strings.TrimSpace(m.Content) != "" {
			buf = append(buf, m)
		}
	}
	return &SummaryBuffer{
		maxTokens:  cfg.MaxTokenLimit,
		buffer:     buf,
		summarizer: s,
	}
}

// Messages returns the prompt history: the summary as a system message
// (when present) followed by a copy of the buffered messages.
func (m *SummaryBuffer) Messages() []*schema.Message {
	out := make([]*schema.Message, 0, len(m.buffer)+1)
	if m.summary != "" {
		out = append(out, schema.SystemMessage("Resumo da conversa até aqui:\n"+m.summary))
	}
	return append(out, m.buffer...)
}

func (m *SummaryBuffer) Summary() string { return m.summary }

func (m *SummaryBuffer) Len() int { return len(m.buffer) }

// SaveExchange appends a user/assistant turn and prunes the buffer when it
// exceeds the token limit. On summarization failure the buffer is left
// intact and the error returned; nothing is lost.
func (m *SummaryBuffer) SaveExchange(ctx context.Context, userText, aiText string) error {
	m.buffer = append(m.buffer, schema.UserMessage(userText), schema.AssistantMessage(aiText, nil))
	return m.prune(ctx)
}

func (m *SummaryBuffer) prune(ctx context.Context) error {
	if m.maxTokens <= 0 || m.summarizer == nil {
		return nil
	}
	total := CountTokens(m.buffer)
	if total <= m.maxTokens {
		return nil
	}

	cut := 0
	for cut < len(m.buffer) && total > m.maxTokens {
		total -= messageTokens(m.buffer[cut])
		cut++
	}
	pruned := m.buffer[:cut]

	summary, err := m.summarizer.Summarize(ctx, m.summary, pruned)
	if err != nil {
		return fmt.Errorf("summarize pruned messages: %w", err)
	}

	m.summary = strings.TrimSpace(summary)
	m.buffer = append([]*schema.Message(nil), m.buffer[cut:]...)
	logx.Debug().Int("pruned", cut).Int("remaining", len(m.buffer)).Msg("memory buffer pruned into summary")
	return nil
}

// EstimateTokens approximates the token count of s at four runes per token.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

func messageTokens(msg *schema.Message) int {
	if msg == nil {
		return 0
	}
	return EstimateTokens(msg.Content) + perMessageOverhead
}

// CountTokens sums the estimated tokens of msgs.
func CountTokens(msgs []*schema.Message) int {
	total := 0
	for _, msg := range msgs {
		total += messageTokens(msg)
	}
	return total
}

// ModelSummarizer asks a chat model for the progressive summary.
type ModelSummarizer struct {
	Model model.BaseChatModel
}

func (s *ModelSummarizer) Summarize(ctx context.Context, summary string, pruned []*schema.Message) (string, error) {
	msgs, err := prompts.RenderSummary(ctx, summary, FormatTranscript(pruned))
	if err != nil {
		return "", err
	}
	out, err := s.Model.Generate(ctx, msgs)
	if err != nil {
		return "", err
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return summary, nil
	}
	return out.Content, nil
}

// FormatTranscript renders messages as "Human: ..." / "AI: ..." lines.
func FormatTranscript(msgs []*schema.Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		if msg == nil || msg.Content == "" {
			continue
		}
		switch msg.Role {
		case schema.User:
			b.WriteString("Human: ")
		case schema.Assistant:
			b.WriteString("AI: ")
		default:
			b.WriteString(string(msg.Role) + ": ")
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}
