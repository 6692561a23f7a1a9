package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	errx "github.com/falaai/server/internal/core/error"
)

func (s *Store) CreateConversation(ctx context.Context, userID int64, title string) (int64, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversas (id_usuario, titulo_conversa, data_criacao, data_atualizacao) VALUES (?, ?, ?, ?)`,
		userID, title, now, now)
	if err != nil {
		return 0, errx.WrapDB(fmt.Errorf("insert conversation: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		return 0, errx.Internal(fmt.Errorf("conversation insert id: %w", err))
	}
	return id, nil
}

// LatestConversation returns the most recently updated conversation of the
// user, or nil when there is none.
func (s *Store) LatestConversation(ctx context.Context, userID int64) (*Conversation, error) {
	var c Conversation
	err := s.db.GetContext(ctx, &c,
		`SELECT id, id_usuario, titulo_conversa, data_criacao, data_atualizacao
		FROM conversas WHERE id_usuario = ? ORDER BY data_atualizacao DESC LIMIT 1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	return &c, nil
}

func (s *Store) ConversationOwnedBy(ctx context.Context, conversationID, userID int64) (bool, error) {
	var id int64
	err := s.db.GetContext(ctx, &id,
		`SELECT id FROM conversas WHERE id = ? AND id_usuario = ?`, conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errx.WrapDB(err)
	}
	return true, nil
}

func (s *Store) ListConversations(ctx context.Context, userID int64) ([]Conversation, error) {
	convs := []Conversation{}
	err := s.db.SelectContext(ctx, &convs,
		`SELECT id, id_usuario, titulo_conversa, data_criacao, data_atualizacao
		FROM conversas WHERE id_usuario = ? ORDER BY data_atualizacao DESC`, userID)
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	return convs, nil
}

func (s *Store) UpdateConversationTitle(ctx context.Context, conversationID int64, title string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversas SET titulo_conversa = ? WHERE id = ?`, title, conversationID)
	return errx.WrapDB(err)
}

// AppendExchange stores one user message and its reply and touches the
// conversation, atomically.
func (s *Store) AppendExchange(ctx context.Context, conversationID int64, userText, aiText string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		userAt := s.now()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mensagens (id_conversa, remetente, conteudo, data_envio) VALUES (?, ?, ?, ?)`,
			conversationID, SenderUser, userText, userAt); err != nil {
			return errx.WrapDB(fmt.Errorf("insert user message: %w", err))
		}
		aiAt := s.now()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mensagens (id_conversa, remetente, conteudo, data_envio) VALUES (?, ?, ?, ?)`,
			conversationID, SenderAI, aiText, aiAt); err != nil {
			return errx.WrapDB(fmt.Errorf("insert ai message: %w", err))
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversas SET data_atualizacao = ? WHERE id = ?`, aiAt, conversationID); err != nil {
			return errx.WrapDB(fmt.Errorf("touch conversation: %w", err))
		}
		return nil
	})
}

// ListMessages returns the messages of a conversation, oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	msgs := []Message{}
	err := s.db.SelectContext(ctx, &msgs,
		`SELECT id, id_conversa, remetente, conteudo, data_envio
		FROM mensagens WHERE id_conversa = ? ORDER BY data_envio ASC, id ASC`, conversationID)
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	return msgs, nil
}
