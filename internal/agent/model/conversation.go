package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// TranscriptMirror keeps the transcript of a chat that has no relational row
// (anonymous visitors) outside the process, keyed by conversation key.
type TranscriptMirror interface {
	// AppendExchange stores one user/assistant turn.
	AppendExchange(ctx context.Context, conversationKey, userText, aiText string) error
	// Load returns the transcript oldest first; unknown keys yield no messages.
	Load(ctx context.Context, conversationKey string) ([]*schema.Message, error)
	Clear(ctx context.Context, conversationKey string) error
}
