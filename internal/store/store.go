// Package store is the relational persistence layer for users, conversations
// and messages. Table and column names follow the deployed schema.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// DefaultProfilePicURL is assigned to new accounts.
const DefaultProfilePicURL = "/static/images/default_profile.png"

type User struct {
	ID                int64          `db:"id"`
	Name              string         `db:"nome"`
	Email             string         `db:"email"`
	PasswordHash      string         `db:"senha"`
	AcceptedTerms     bool           `db:"termos_registro"`
	RegisteredAt      sql.NullTime   `db:"data_registro"`
	VerificationToken sql.NullString `db:"verification_code"`
	TokenExpiresAt    sql.NullTime   `db:"code_expiration"`
	EmailVerified     bool           `db:"email_verified"`
	ProfilePicURL     sql.NullString `db:"profile_pic_url"`
}

// PictureURL returns the stored picture or the default one.
func (u *User) PictureURL() string {
	if u.ProfilePicURL.Valid && u.ProfilePicURL.String != "" {
		return u.ProfilePicURL.String
	}
	return DefaultProfilePicURL
}

type Conversation struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"id_usuario"`
	Title     string    `db:"titulo_conversa"`
	CreatedAt time.Time `db:"data_criacao"`
	UpdatedAt time.Time `db:"data_atualizacao"`
}

// Sender is the remetente column value.
type Sender string

const (
	SenderUser Sender = "usuario"
	SenderAI   Sender = "ia"
)

type Message struct {
	ID             int64     `db:"id"`
	ConversationID int64     `db:"id_conversa"`
	Sender         Sender    `db:"remetente"`
	Content        string    `db:"conteudo"`
	SentAt         time.Time `db:"data_envio"`
}

type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Ping checks the connection, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
