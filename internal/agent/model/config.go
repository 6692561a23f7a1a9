package model

import "time"

// ================ Config ================
type ConversationConfig struct {
	// AnonymousTTL bounds how long an anonymous transcript is mirrored in Redis.
	AnonymousTTL time.Duration `envconfig:"CONVERSATION_ANONYMOUS_TTL" default:"24h"`
	// DefaultTitle is stored when a conversation row is first created.
	DefaultTitle string `envconfig:"CONVERSATION_DEFAULT_TITLE" default:"Nova Conversa..."`
	// TitleTimeout caps the background title generation call.
	TitleTimeout time.Duration `envconfig:"CONVERSATION_TITLE_TIMEOUT" default:"30s"`
}

type MemoryConfig struct {
	MaxTokenLimit int `envconfig:"MEMORY_MAX_TOKEN_LIMIT" default:"4000"`
}

type ChatModelConfig struct {
	Model          string  `envconfig:"CHAT_MODEL" default:"gemini-2.5-flash"`
	MaxTokens      int     `envconfig:"CHAT_MAX_TOKENS" default:"4096"`
	Temperature    float32 `envconfig:"CHAT_TEMPERATURE" default:"0.2"`
	ThinkingBudget int32   `envconfig:"CHAT_THINKING_BUDGET" default:"1024"`
}

type TitleModelConfig struct {
	Model          string  `envconfig:"TITLE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens      int     `envconfig:"TITLE_MAX_TOKENS" default:"64"`
	Temperature    float32 `envconfig:"TITLE_TEMPERATURE" default:"0"`
	ThinkingBudget int32   `envconfig:"TITLE_THINKING_BUDGET" default:"0"`
}

type ChatPromptConfig struct {
	AssistantName string `envconfig:"PROMPT_ASSISTANT_NAME" default:"Fala Aí"`
	Language      string `envconfig:"PROMPT_LANGUAGE" default:"pt"`
}
