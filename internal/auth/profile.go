package auth

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	errx "github.com/falaai/server/internal/core/error"
	"github.com/falaai/server/internal/store"
	logx "github.com/falaai/server/pkg/logger"
)

const (
	msgLoginRequired      = "Você precisa estar logado para atualizar o perfil."
	msgVerifyBeforeUpdate = "Sua conta precisa ser verificada para alterar o perfil. Altere o email se precisar reenviar o link."
	msgPasswordTooLong    = "A nova senha é muito longa. O limite é de 72 caracteres."
	msgPasswordTooShort   = "A nova senha deve ter pelo menos 6 caracteres."
	msgEmailInUse         = "Este email já está em uso por outro usuário."
	msgUnsupportedImage   = "Formato de imagem não suportado."
	msgProfileFailed      = "Erro ao atualizar perfil."
	NoChangesMessage      = "Nenhuma alteração detectada."
	ProfileUpdatedMessage = "Perfil atualizado com sucesso!"
	EmailChangedMessage   = "Email atualizado! Por favor, verifique seu novo email para continuar logado. Caso não receba, verifique a caixa de SPAM."
)

const (
	minPasswordLen   = 6
	maxPasswordBytes = 72
	profilePicSubdir = "profile_pics"
)

var allowedImageExt = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true,
}

// Upload is a file received from a multipart form.
type Upload struct {
	Filename string
	Content  io.Reader
}

// ProfileInput carries the submitted form fields. Nil means not submitted.
type ProfileInput struct {
	Name     *string
	Email    *string
	Password *string
	Picture  *Upload
}

type ProfileResult struct {
	Message       string `json:"message"`
	ProfilePicURL string `json:"profile_pic_url,omitempty"`
	RedirectURL   string `json:"redirect_url,omitempty"`
}

type ProfileView struct {
	ID            int64
	FullName      string
	Email         string
	EmailVerified bool
	AcceptedTerms bool
	RegisteredAt  string
	ProfilePicURL string
}

// Profile loads the data shown on the profile page.
func (s *Service) Profile(ctx context.Context, userID int64) (*ProfileView, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	v := &ProfileView{
		ID:            u.ID,
		FullName:      u.Name,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		AcceptedTerms: u.AcceptedTerms,
		ProfilePicURL: u.PictureURL(),
	}
	if u.RegisteredAt.Valid {
		v.RegisteredAt = u.RegisteredAt.Time.Format("02/01/2006 15:04:05")
	}
	return v, nil
}

// UpdateProfile applies the submitted changes. Accounts that are not verified
// yet may only change their email address.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, in ProfileInput, baseURL string) (*ProfileResult, error) {
	if userID == 0 {
		return nil, errx.Unauthorized(msgLoginRequired)
	}

	cur, err := s.store.GetUserByID(ctx, userID)
	if errx.IsNotFound(err) {
		return nil, errx.NotFound(msgUserNotFound)
	}
	if err != nil {
		return nil, errx.Internal(err, msgProfileFailed)
	}

	if !cur.EmailVerified && !onlyEmailChange(cur, in) {
		return nil, errx.Forbidden(msgVerifyBeforeUpdate)
	}

	var upd store.ProfileUpdate
	res := &ProfileResult{Message: ProfileUpdatedMessage}

	if in.Name != nil {
		if name := strings.TrimSpace(*in.Name); name != "" && name != cur.Name {
			upd.Name = &name
		}
	}

	if in.Password != nil && *in.Password != "" {
		pw := *in.Password
		if len([]rune(pw)) < minPasswordLen {
			return nil, errx.BadRequest(msgPasswordTooShort)
		}
		if len(pw) > maxPasswordBytes {
			return nil, errx.BadRequest(msgPasswordTooLong)
		}
		hash, err := HashPassword(pw, s.params)
		if err != nil {
			return nil, errx.Internal(err, msgProfileFailed)
		}
		upd.PasswordHash = &hash
	}

	var reverify *store.Verification
	if in.Email != nil {
		if email := strings.TrimSpace(*in.Email); email != "" && email != cur.Email {
			if err := s.validate.Var(email, "email"); err != nil {
				return nil, errx.BadRequest(msgInvalidEmail)
			}
			taken, err := s.store.EmailTakenByOther(ctx, email, userID)
			if err != nil {
				return nil, errx.Internal(err, msgProfileFailed)
			}
			if taken {
				return nil, errx.BadRequest(msgEmailInUse)
			}
			v := s.newVerification()
			reverify = &v
			upd.Email = &email
			upd.Reverification = reverify
		}
	}

	var savedPic string
	if in.Picture != nil && in.Picture.Filename != "" {
		url, file, err := s.savePicture(in.Picture)
		if err != nil {
			return nil, err
		}
		savedPic = file
		upd.ProfilePicURL = &url
		res.ProfilePicURL = url
	}

	if upd.Empty() {
		return &ProfileResult{Message: NoChangesMessage}, nil
	}

	if err := s.store.UpdateProfile(ctx, userID, upd); err != nil {
		if savedPic != "" {
			_ = os.Remove(savedPic)
		}
		return nil, errx.Internal(err, msgProfileFailed)
	}

	if reverify != nil {
		s.sendLink(ctx, *upd.Email, baseURL, reverify.Token)
		res.Message = EmailChangedMessage
		res.RedirectURL = "/login"
	}

	logx.Info().Int64("user_id", userID).
		Bool("name", upd.Name != nil).
		Bool("password", upd.PasswordHash != nil).
		Bool("email", upd.Email != nil).
		Bool("picture", upd.ProfilePicURL != nil).
		Msg("profile updated")
	return res, nil
}

func onlyEmailChange(cur *store.User, in ProfileInput) bool {
	nameUnchanged := in.Name == nil || *in.Name == cur.Name
	return nameUnchanged && in.Password == nil && in.Picture == nil &&
		in.Email != nil && *in.Email != cur.Email
}

// savePicture writes the upload under <UploadDir>/profile_pics and returns its
// public URL and file path.
func (s *Service) savePicture(up *Upload) (string, string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(up.Filename), "."))
	if !allowedImageExt[ext] {
		return "", "", errx.BadRequest(msgUnsupportedImage)
	}

	dir := filepath.Join(s.cfg.UploadDir, profilePicSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", errx.Internal(fmt.Errorf("create upload dir: %w", err), msgProfileFailed)
	}

	name := uuid.NewString() + "." + ext
	file := filepath.Join(dir, name)
	f, err := os.Create(file)
	if err != nil {
		return "", "", errx.Internal(fmt.Errorf("create %s: %w", file, err), msgProfileFailed)
	}
	if _, err := io.Copy(f, up.Content); err != nil {
		f.Close()
		_ = os.Remove(file)
		return "", "", errx.Internal(fmt.Errorf("write %s: %w", file, err), msgProfileFailed)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(file)
		return "", "", errx.Internal(err, msgProfileFailed)
	}

	return path.Join(s.cfg.UploadURLPrefix, profilePicSubdir, name), file, nil
}
