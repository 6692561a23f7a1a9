package model

import (
	"github.com/cloudwego/eino/schema"
)

// AppState stores per-invocation state for the Eino Graph.
// It is registered via compose.WithGenLocalState and only touched inside
// state handlers, which Eino serializes.
type AppState struct {
	ConversationKey string

	// Accumulated total LLM cost (USD) across model invocations for this query
	TotalCostUSD float64
}

// ChatInput is one user turn together with the memory it should be answered against.
type ChatInput struct {
	ConversationKey string            `json:"conversation_key"`
	Query           string            `json:"query"`
	History         []*schema.Message `json:"-"`
}
