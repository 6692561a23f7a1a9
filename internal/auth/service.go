// Package auth implements account registration, email verification, login
// and profile management.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	errx "github.com/falaai/server/internal/core/error"
	"github.com/falaai/server/internal/store"
	logx "github.com/falaai/server/pkg/logger"
)

const (
	RedirectInvalidToken      = "/login?error=invalid_token"
	RedirectExpiredToken      = "/login?error=expired_token"
	RedirectVerificationError = "/login?error=verification_error"
	RedirectAlreadyVerified   = "/sucesso"
	RedirectVerified          = "/verificado"
)

const (
	msgEmailRegistered = "Este email já está registrado. Por favor, faça login ou use outro email."
	msgInvalidEmail    = "Email inválido."
	msgInvalidSignup   = "Dados de cadastro inválidos."
	msgInvalidLogin    = "Email ou senha inválidos."
	msgUserNotFound    = "Usuário não encontrado."
	msgAlreadyVerified = "Este email já está verificado. Por favor, faça login."
	msgRegisterFailed  = "Erro interno do servidor ao registrar usuário."
	msgLoginFailed     = "Erro ao fazer login."
	msgResendFailed    = "Erro interno ao reenviar link."
	UnverifiedLoginMsg = "Sua conta não está verificada. Por favor, verifique seu email e tente novamente."
	RegisteredMessage  = "Cadastro concluído. Verifique seu email. Caso não receba, verifique sua caixa de SPAM"
	LoginMessage       = "Login realizado com sucesso!"
	ResentMessage      = "Novo link de verificação enviado para seu email."
	LogoutMessage      = "Logout realizado com sucesso!"
)

// ErrEmailNotVerified is returned by Login for accounts that have not
// confirmed their email yet.
var ErrEmailNotVerified = errx.Forbidden(UnverifiedLoginMsg)

type Config struct {
	VerificationTTL time.Duration `envconfig:"VERIFICATION_TOKEN_TTL" default:"24h"`
	UploadDir       string        `envconfig:"UPLOAD_DIR" default:"static/uploads"`
	UploadURLPrefix string        `envconfig:"UPLOAD_URL_PREFIX" default:"/static/uploads"`
}

// Store is the subset of the relational store used by the service.
type Store interface {
	CreateUser(ctx context.Context, u store.NewUser) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByVerificationToken(ctx context.Context, token string) (*store.User, error)
	EmailTakenByOther(ctx context.Context, email string, userID int64) (bool, error)
	MarkEmailVerified(ctx context.Context, userID int64) error
	SetVerificationToken(ctx context.Context, userID int64, v store.Verification) error
	UpdateProfile(ctx context.Context, userID int64, upd store.ProfileUpdate) error
}

// LinkSender queues a verification email without blocking the caller.
type LinkSender interface {
	SendVerificationLink(ctx context.Context, to, link string) <-chan error
}

type Service struct {
	cfg      Config
	store    Store
	mailer   LinkSender
	validate *validator.Validate
	params   HashParams
	now      func() time.Time
	newToken func() string
}

func NewService(cfg Config, s Store, mailer LinkSender) *Service {
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = 24 * time.Hour
	}
	return &Service{
		cfg:      cfg,
		store:    s,
		mailer:   mailer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		params:   DefaultHashParams,
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

type RegisterInput struct {
	Name          string `json:"nome" validate:"required"`
	Email         string `json:"email" validate:"required,email"`
	Password      string `json:"senha" validate:"required"`
	AcceptedTerms bool   `json:"termos_registro"`
}

// VerificationLink builds the public link for a token.
func VerificationLink(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/verify_link/" + token
}

func (s *Service) newVerification() store.Verification {
	return store.Verification{Token: s.newToken(), ExpiresAt: s.now().Add(s.cfg.VerificationTTL)}
}

func (s *Service) sendLink(ctx context.Context, email, baseURL, token string) {
	s.mailer.SendVerificationLink(ctx, email, VerificationLink(baseURL, token))
}

// Register creates an unverified account and emails its verification link.
func (s *Service) Register(ctx context.Context, in RegisterInput, baseURL string) (int64, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && verrs[0].Field() == "Email" {
			return 0, errx.BadRequest(msgInvalidEmail)
		}
		return 0, errx.BadRequest(msgInvalidSignup)
	}

	_, err := s.store.GetUserByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return 0, errx.BadRequest(msgEmailRegistered)
	case !errx.IsNotFound(err):
		return 0, errx.Internal(err, msgRegisterFailed)
	}

	hash, err := HashPassword(in.Password, s.params)
	if err != nil {
		return 0, errx.Internal(err, msgRegisterFailed)
	}

	v := s.newVerification()
	id, err := s.store.CreateUser(ctx, store.NewUser{
		Name:              in.Name,
		Email:             in.Email,
		PasswordHash:      hash,
		AcceptedTerms:     in.AcceptedTerms,
		VerificationToken: v.Token,
		TokenExpiresAt:    v.ExpiresAt,
	})
	if isDuplicateEntry(err) {
		return 0, errx.BadRequest(msgEmailRegistered)
	}
	if err != nil {
		return 0, errx.Internal(err, msgRegisterFailed)
	}

	s.sendLink(ctx, in.Email, baseURL, v.Token)
	logx.Info().Int64("user_id", id).Str("email", in.Email).Msg("user registered, pending verification")
	return id, nil
}

// isDuplicateEntry reports a unique key violation (MySQL error 1062), which
// is how a concurrent registration of the same email surfaces.
func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// Login checks the credentials and returns the account.
func (s *Service) Login(ctx context.Context, email, password string) (*store.User, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errx.IsNotFound(err) {
		logx.Warn().Str("email", email).Msg("login failed: unknown email")
		return nil, errx.Unauthorized(msgInvalidLogin)
	}
	if err != nil {
		return nil, errx.Internal(err, msgLoginFailed)
	}

	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil {
		logx.Warn().Err(err).Int64("user_id", u.ID).Msg("stored password hash unreadable")
	}
	if !ok {
		logx.Warn().Str("email", email).Msg("login failed: wrong password")
		return nil, errx.Unauthorized(msgInvalidLogin)
	}
	if !u.EmailVerified {
		logx.Warn().Int64("user_id", u.ID).Msg("login refused: email not verified")
		return nil, ErrEmailNotVerified
	}

	logx.Info().Int64("user_id", u.ID).Msg("user logged in")
	return u, nil
}

// VerifyLink consumes a verification token and returns where to redirect.
func (s *Service) VerifyLink(ctx context.Context, token string) string {
	u, err := s.store.GetUserByVerificationToken(ctx, token)
	if errx.IsNotFound(err) {
		logx.Warn().Str("token", token).Msg("verification with unknown token")
		return RedirectInvalidToken
	}
	if err != nil {
		logx.Error().Err(err).Msg("verification lookup failed")
		return RedirectVerificationError
	}
	if u.EmailVerified {
		return RedirectAlreadyVerified
	}
	if !u.TokenExpiresAt.Valid || u.TokenExpiresAt.Time.Before(s.now()) {
		logx.Warn().Int64("user_id", u.ID).Msg("verification token expired")
		return RedirectExpiredToken
	}
	if err := s.store.MarkEmailVerified(ctx, u.ID); err != nil {
		logx.Error().Err(err).Int64("user_id", u.ID).Msg("failed to mark email verified")
		return RedirectVerificationError
	}

	logx.Info().Int64("user_id", u.ID).Msg("email verified via link")
	return RedirectVerified
}

// ResendVerification refreshes the token expiry and emails the link again.
// An outstanding token is reused so earlier emails keep working.
func (s *Service) ResendVerification(ctx context.Context, email, baseURL string) error {
	email = strings.TrimSpace(email)
	u, err := s.store.GetUserByEmail(ctx, email)
	if errx.IsNotFound(err) {
		return errx.NotFound(msgUserNotFound)
	}
	if err != nil {
		return errx.Internal(err, msgResendFailed)
	}
	if u.EmailVerified {
		return errx.BadRequest(msgAlreadyVerified)
	}

	var v store.Verification
	if u.VerificationToken.Valid && u.VerificationToken.String != "" {
		v = store.Verification{Token: u.VerificationToken.String, ExpiresAt: s.now().Add(s.cfg.VerificationTTL)}
	} else {
		v = s.newVerification()
	}
	if err := s.store.SetVerificationToken(ctx, u.ID, v); err != nil {
		return errx.Internal(err, msgResendFailed)
	}

	s.sendLink(ctx, email, baseURL, v.Token)
	logx.Info().Int64("user_id", u.ID).Msg("verification link resent")
	return nil
}
