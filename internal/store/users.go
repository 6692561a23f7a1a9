package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	errx "github.com/falaai/server/internal/core/error"
)

const userColumns = `id, nome, email, senha, termos_registro, data_registro,
	verification_code, code_expiration, email_verified, profile_pic_url`

type NewUser struct {
	Name              string
	Email             string
	PasswordHash      string
	AcceptedTerms     bool
	VerificationToken string
	TokenExpiresAt    time.Time
}

// ProfileUpdate lists the columns to change; nil fields are left untouched.
type ProfileUpdate struct {
	Name          *string
	Email         *string
	PasswordHash  *string
	ProfilePicURL *string
	// Reverification, when set, marks the email unverified with a fresh token.
	Reverification *Verification
}

type Verification struct {
	Token     string
	ExpiresAt time.Time
}

func (u ProfileUpdate) Empty() bool {
	return u.Name == nil && u.Email == nil && u.PasswordHash == nil &&
		u.ProfilePicURL == nil && u.Reverification == nil
}

// CreateUser inserts an unverified account and returns its id.
func (s *Store) CreateUser(ctx context.Context, u NewUser) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO usuarios (nome, email, senha, termos_registro, data_registro,
			verification_code, code_expiration, email_verified, profile_pic_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Name, u.Email, u.PasswordHash, u.AcceptedTerms, s.now(),
		u.VerificationToken, u.TokenExpiresAt, false, DefaultProfilePicURL,
	)
	if err != nil {
		return 0, errx.WrapDB(fmt.Errorf("insert user: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		// some TiDB proxies drop the insert id; fall back to a lookup
		existing, lookupErr := s.GetUserByEmail(ctx, u.Email)
		if lookupErr != nil {
			return 0, errx.Internal(errors.Join(err, lookupErr), "Falha ao recuperar o ID do novo usuário.")
		}
		return existing.ID, nil
	}
	return id, nil
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM usuarios WHERE `+where, arg)
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email = ?", email)
}

func (s *Store) GetUserByVerificationToken(ctx context.Context, token string) (*User, error) {
	return s.getUser(ctx, "verification_code = ?", token)
}

// EmailTakenByOther reports whether email belongs to an account other than userID.
func (s *Store) EmailTakenByOther(ctx context.Context, email string, userID int64) (bool, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, `SELECT id FROM usuarios WHERE email = ? AND id != ? LIMIT 1`, email, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errx.WrapDB(err)
	}
	return true, nil
}

// IsEmailVerified returns false for unknown users.
func (s *Store) IsEmailVerified(ctx context.Context, userID int64) (bool, error) {
	var verified bool
	err := s.db.GetContext(ctx, &verified, `SELECT email_verified FROM usuarios WHERE id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errx.WrapDB(err)
	}
	return verified, nil
}

func (s *Store) MarkEmailVerified(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE usuarios SET email_verified = TRUE, verification_code = NULL, code_expiration = NULL WHERE id = ?`,
		userID)
	return errx.WrapDB(err)
}

func (s *Store) SetVerificationToken(ctx context.Context, userID int64, v Verification) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE usuarios SET verification_code = ?, code_expiration = ? WHERE id = ?`,
		v.Token, v.ExpiresAt, userID)
	return errx.WrapDB(err)
}

// UpdateProfile writes the non-nil fields of upd in a single statement.
func (s *Store) UpdateProfile(ctx context.Context, userID int64, upd ProfileUpdate) error {
	if upd.Empty() {
		return nil
	}
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Name != nil {
		add("nome", *upd.Name)
	}
	if upd.PasswordHash != nil {
		add("senha", *upd.PasswordHash)
	}
	if upd.Email != nil {
		add("email", *upd.Email)
	}
	if upd.Reverification != nil {
		add("email_verified", false)
		add("verification_code", upd.Reverification.Token)
		add("code_expiration", upd.Reverification.ExpiresAt)
	}
	if upd.ProfilePicURL != nil {
		add("profile_pic_url", *upd.ProfilePicURL)
	}
	args = append(args, userID)

	_, err := s.db.ExecContext(ctx, `UPDATE usuarios SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	return errx.WrapDB(err)
}
