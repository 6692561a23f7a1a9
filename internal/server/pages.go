package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	errx "github.com/falaai/server/internal/core/error"
	"github.com/falaai/server/internal/session"
	"github.com/falaai/server/internal/store"
	logx "github.com/falaai/server/pkg/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"index", "login", "cadastro", "verificacao", "sucesso", "verificado", "profile", "chat"}

type pages struct {
	tmpl map[string]*template.Template
}

func loadPages() (*pages, error) {
	p := &pages{tmpl: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t, err := template.ParseFS(templateFS, "templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		p.tmpl[name] = t
	}
	return p, nil
}

func (p *pages) render(w http.ResponseWriter, name string, data any) {
	t, ok := p.tmpl[name]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", data); err != nil {
		logx.Error().Err(err).Str("template", name).Msg("failed to render page")
		http.Error(w, errx.SystemErrorMessage, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.pages.render(w, name, nil)
	}
}

func (s *Server) handleVerificationPage(w http.ResponseWriter, r *http.Request) {
	s.pages.render(w, "verificacao", map[string]string{"Email": r.URL.Query().Get("email")})
}

func (s *Server) handleProfilePage(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	uid, ok := sess.UserID()
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	view, err := s.deps.Auth.Profile(r.Context(), uid)
	if errx.IsNotFound(err) {
		sess.Clear()
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	if err != nil {
		writeError(w, r, errx.Internal(err, "Erro ao carregar dados do perfil."))
		return
	}
	s.pages.render(w, "profile", view)
}

type chatPage struct {
	UserID        int64
	UserName      string
	ProfilePicURL string
}

func (s *Server) handleChatPage(w http.ResponseWriter, r *http.Request) {
	data := chatPage{UserName: "Usuário", ProfilePicURL: store.DefaultProfilePicURL}
	if uid, ok := session.FromContext(r.Context()).UserID(); ok {
		data.UserID = uid
		view, err := s.deps.Auth.Profile(r.Context(), uid)
		if err != nil && !errx.IsNotFound(err) {
			logx.Warn().Err(err).Int64("user_id", uid).Msg("failed to load chat page profile")
		}
		if view != nil {
			if fields := strings.Fields(view.FullName); len(fields) > 0 {
				data.UserName = fields[0]
			}
			data.ProfilePicURL = view.ProfilePicURL
		}
	}
	s.pages.render(w, "chat", data)
}
