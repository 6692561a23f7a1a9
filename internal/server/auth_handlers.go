package server

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/falaai/server/internal/agent/graph/conversations"
	"github.com/falaai/server/internal/auth"
	errx "github.com/falaai/server/internal/core/error"
	"github.com/falaai/server/internal/session"
	logx "github.com/falaai/server/pkg/logger"
)

// baseURL is the configured public URL, or the one the request came in on.
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.BaseURL != "" {
		return strings.TrimRight(s.cfg.BaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.deps.Auth.Register(r.Context(), in, s.baseURL(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	session.FromContext(r.Context()).SetUserID(id)
	writeJSON(w, http.StatusCreated, map[string]string{
		"message":      auth.RegisteredMessage,
		"redirect_url": "/sucesso",
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"senha"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.deps.Auth.Login(r.Context(), in.Email, in.Password)
	if errors.Is(err, auth.ErrEmailNotVerified) {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": auth.UnverifiedLoginMsg})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	sess := session.FromContext(r.Context())
	if anon := sess.AnonID(); anon != "" {
		s.deps.Chat.Evict(conversations.Identity{AnonID: anon})
	}
	sess.SetUserID(u.ID)
	sess.ClearAnonID()

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      auth.LoginMessage,
		"user_id":      u.ID,
		"redirect_url": "/chat",
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	uid, ok := sess.UserID()
	if ok {
		s.deps.Chat.Evict(conversations.Identity{UserID: uid})
	}
	sess.Clear()
	logx.Info().Int64("user_id", uid).Bool("logged_in", ok).Msg("user logged out")

	writeJSON(w, http.StatusOK, map[string]string{
		"message":      auth.LogoutMessage,
		"redirect_url": "/login",
	})
}

func (s *Server) handleVerifyLink(w http.ResponseWriter, r *http.Request) {
	target := s.deps.Auth.VerifyLink(r.Context(), mux.Vars(r)["token"])
	http.Redirect(w, r, target, http.StatusFound)
}

// handleResendVerification accepts the email as a form field or as JSON.
func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var email string
	if isJSON(r) {
		var body struct {
			Email string `json:"email"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, r, err)
			return
		}
		email = body.Email
	} else {
		email = r.PostFormValue("email")
	}
	if strings.TrimSpace(email) == "" {
		writeError(w, r, errx.BadRequest("Informe o email."))
		return
	}

	if err := s.deps.Auth.ResendVerification(r.Context(), email, s.baseURL(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": auth.ResentMessage})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	uid, _ := session.FromContext(r.Context()).UserID()
	if uid == 0 {
		writeError(w, r, errx.Unauthorized("Você precisa estar logado para atualizar o perfil."))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, r, errx.New(err, http.StatusBadRequest, "Formulário inválido ou arquivo muito grande."))
		return
	}

	in := auth.ProfileInput{
		Name:     formValue(r, "nome_completo"),
		Email:    formValue(r, "email"),
		Password: formValue(r, "senha"),
	}
	file, header, err := r.FormFile("profile_pic")
	switch {
	case err == nil:
		defer file.Close()
		in.Picture = &auth.Upload{Filename: header.Filename, Content: file}
	case !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart):
		writeError(w, r, errx.New(err, http.StatusBadRequest, "Arquivo de imagem inválido."))
		return
	}
	if r.MultipartForm != nil {
		defer func(f *multipart.Form) { _ = f.RemoveAll() }(r.MultipartForm)
	}

	res, err := s.deps.Auth.UpdateProfile(r.Context(), uid, in, s.baseURL(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// formValue returns nil for missing or blank fields.
func formValue(r *http.Request, key string) *string {
	if r.MultipartForm == nil {
		if v := r.PostFormValue(key); strings.TrimSpace(v) != "" {
			return &v
		}
		return nil
	}
	vals, ok := r.MultipartForm.Value[key]
	if !ok || len(vals) == 0 || strings.TrimSpace(vals[0]) == "" {
		return nil
	}
	v := vals[0]
	return &v
}
