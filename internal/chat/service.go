// Package chat runs one chat turn end to end: memory, model call,
// persistence and background titling.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/falaai/server/internal/agent/graph"
	"github.com/falaai/server/internal/agent/graph/conversations"
	"github.com/falaai/server/internal/agent/model"
	errx "github.com/falaai/server/internal/core/error"
	"github.com/falaai/server/internal/store"
	logx "github.com/falaai/server/pkg/logger"
)

const (
	Language               = "pt"
	ResetMessage           = "Chat reiniciado com sucesso."
	UnverifiedChatMessage  = "Sua conta ainda não foi verificada. Por favor, verifique seu email para que eu possa salvar nosso histórico. Você pode reenviar o link através da tela de Login."
	msgEmptyMessage        = "A mensagem não pode estar vazia."
	msgConversationMissing = "Conversa não encontrada ou não pertence ao usuário."
	msgUnauthorized        = "Acesso não autorizado."
	msgMessagesFailed      = "Erro ao buscar mensagens."
)

// ErrUnverified rejects chat turns from accounts that have not confirmed
// their email.
var ErrUnverified = errx.Forbidden(UnverifiedChatMessage)

type Store interface {
	IsEmailVerified(ctx context.Context, userID int64) (bool, error)
	CreateConversation(ctx context.Context, userID int64, title string) (int64, error)
	UpdateConversationTitle(ctx context.Context, conversationID int64, title string) error
	AppendExchange(ctx context.Context, conversationID int64, userText, aiText string) error
	ListConversations(ctx context.Context, userID int64) ([]store.Conversation, error)
	ConversationOwnedBy(ctx context.Context, conversationID, userID int64) (bool, error)
	ListMessages(ctx context.Context, conversationID int64) ([]store.Message, error)
}

// Titler names a conversation from its first message.
type Titler interface {
	Generate(ctx context.Context, firstMessage string) string
}

type Service struct {
	cfg    model.ConversationConfig
	store  Store
	cache  *conversations.Cache
	runner graph.Runner
	titler Titler
	titles sync.WaitGroup
}

func NewService(cfg model.ConversationConfig, s Store, cache *conversations.Cache, runner graph.Runner, titler Titler) *Service {
	if cfg.DefaultTitle == "" {
		cfg.DefaultTitle = "Nova Conversa..."
	}
	if cfg.TitleTimeout <= 0 {
		cfg.TitleTimeout = 30 * time.Second
	}
	return &Service{cfg: cfg, store: s, cache: cache, runner: runner, titler: titler}
}

// Send answers one message. Verified users get the exchange persisted;
// anonymous visitors chat from memory only.
func (s *Service) Send(ctx context.Context, id conversations.Identity, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errx.BadRequest(msgEmptyMessage)
	}

	persist := false
	if id.LoggedIn() {
		verified, err := s.store.IsEmailVerified(ctx, id.UserID)
		if err != nil {
			return "", err
		}
		if !verified {
			return "", ErrUnverified
		}
		persist = true
	}

	st, err := s.cache.Get(ctx, id)
	if err != nil {
		return "", err
	}
	st.Lock()
	defer st.Unlock()

	isNew := false
	if persist && st.ConversationID == nil {
		convID, err := s.store.CreateConversation(ctx, id.UserID, s.cfg.DefaultTitle)
		if err != nil {
			// keep chatting, this turn just is not saved
			logx.Error().Err(err).Int64("user_id", id.UserID).Msg("failed to create conversation")
		} else {
			st.ConversationID = &convID
			isNew = true
			logx.Info().Int64("user_id", id.UserID).Int64("conversation_id", convID).Msg("conversation created")
		}
	}

	reply, err := s.runner.Invoke(ctx, model.ChatInput{
		ConversationKey: id.Key(),
		Query:           text,
		History:         st.Memory.Messages(),
	})
	if err != nil {
		return "", err
	}

	if err := st.Memory.SaveExchange(ctx, text, reply); err != nil {
		logx.Warn().Err(err).Str("conversation_key", id.Key()).Msg("memory summarization failed")
	}

	if !persist {
		s.cache.Mirror(ctx, id, text, reply)
		return reply, nil
	}
	if st.ConversationID == nil {
		return reply, nil
	}

	convID := *st.ConversationID
	if isNew {
		s.titleInBackground(ctx, convID, text)
	}
	if err := s.store.AppendExchange(ctx, convID, text, reply); err != nil {
		logx.Error().Err(err).Int64("conversation_id", convID).Msg("failed to persist exchange")
	} else {
		logx.Info().Int64("conversation_id", convID).Msg("exchange persisted")
	}
	return reply, nil
}

func (s *Service) titleInBackground(ctx context.Context, convID int64, firstMessage string) {
	ctx = context.WithoutCancel(ctx)
	s.titles.Add(1)
	go func() {
		defer s.titles.Done()
		ctx, cancel := context.WithTimeout(ctx, s.cfg.TitleTimeout)
		defer cancel()

		title := s.titler.Generate(ctx, firstMessage)
		if err := s.store.UpdateConversationTitle(ctx, convID, title); err != nil {
			logx.Error().Err(err).Int64("conversation_id", convID).Msg("failed to update conversation title")
			return
		}
		logx.Info().Int64("conversation_id", convID).Str("title", title).Msg("conversation titled")
	}()
}

// Wait blocks until pending title updates finish.
func (s *Service) Wait() {
	s.titles.Wait()
}

// Reset forgets the cached state; the next message starts a new conversation.
func (s *Service) Reset(ctx context.Context, id conversations.Identity) {
	s.cache.Reset(ctx, id)
	logx.Info().Str("conversation_key", id.Key()).Msg("chat reset")
}

// Evict drops the cached state, used on logout.
func (s *Service) Evict(id conversations.Identity) {
	s.cache.Evict(id)
}

type ConversationSummary struct {
	ID        int64  `json:"id"`
	Title     string `json:"titulo_conversa"`
	CreatedAt int64  `json:"data_criacao"`
	UpdatedAt int64  `json:"data_atualizacao"`
}

// Conversations lists a user's conversations, newest first. Errors degrade
// to an empty list.
func (s *Service) Conversations(ctx context.Context, userID int64) []ConversationSummary {
	out := []ConversationSummary{}
	if userID == 0 {
		return out
	}
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		logx.Error().Err(err).Int64("user_id", userID).Msg("failed to list conversations")
		return out
	}
	for _, c := range convs {
		out = append(out, ConversationSummary{
			ID:        c.ID,
			Title:     c.Title,
			CreatedAt: c.CreatedAt.UnixMilli(),
			UpdatedAt: c.UpdatedAt.UnixMilli(),
		})
	}
	return out
}

type MessageView struct {
	Sender  string `json:"remetente"`
	Content string `json:"conteudo"`
	SentAt  string `json:"data_envio"`
}

// Messages returns the messages of a conversation owned by userID and makes
// it the active conversation for the next turn.
func (s *Service) Messages(ctx context.Context, userID, conversationID int64) ([]MessageView, error) {
	if userID == 0 {
		return nil, errx.Unauthorized(msgUnauthorized)
	}
	owned, err := s.store.ConversationOwnedBy(ctx, conversationID, userID)
	if err != nil {
		return nil, errx.Internal(err, msgMessagesFailed)
	}
	if !owned {
		return nil, errx.NotFound(msgConversationMissing)
	}
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, errx.Internal(err, msgMessagesFailed)
	}

	s.cache.Select(conversations.Identity{UserID: userID}, conversationID, msgs)

	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		sender := "bot"
		if m.Sender == store.SenderUser {
			sender = "usuario"
		}
		out = append(out, MessageView{Sender: sender, Content: m.Content, SentAt: m.SentAt.Format(time.RFC3339)})
	}
	return out, nil
}
