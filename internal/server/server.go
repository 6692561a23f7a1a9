// Package server exposes the HTTP API and the server-rendered pages.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/falaai/server/internal/agent/graph/conversations"
	"github.com/falaai/server/internal/auth"
	"github.com/falaai/server/internal/chat"
	"github.com/falaai/server/internal/metrics"
	"github.com/falaai/server/internal/session"
	"github.com/falaai/server/internal/store"
	logx "github.com/falaai/server/pkg/logger"
)

type Config struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8000"`
	BaseURL         string        `envconfig:"BASE_URL"`
	StaticDir       string        `envconfig:"STATIC_DIR" default:"static"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
	MaxUploadBytes  int64         `envconfig:"MAX_UPLOAD_BYTES" default:"5242880"`
}

type RateLimitConfig struct {
	RPS   float64 `envconfig:"AUTH_RATE_LIMIT_RPS" default:"1"`
	Burst int     `envconfig:"AUTH_RATE_LIMIT_BURST" default:"5"`
}

// AuthService is implemented by *auth.Service.
type AuthService interface {
	Register(ctx context.Context, in auth.RegisterInput, baseURL string) (int64, error)
	Login(ctx context.Context, email, password string) (*store.User, error)
	VerifyLink(ctx context.Context, token string) string
	ResendVerification(ctx context.Context, email, baseURL string) error
	UpdateProfile(ctx context.Context, userID int64, in auth.ProfileInput, baseURL string) (*auth.ProfileResult, error)
	Profile(ctx context.Context, userID int64) (*auth.ProfileView, error)
}

// ChatService is implemented by *chat.Service.
type ChatService interface {
	Send(ctx context.Context, id conversations.Identity, text string) (string, error)
	Reset(ctx context.Context, id conversations.Identity)
	Evict(id conversations.Identity)
	Conversations(ctx context.Context, userID int64) []chat.ConversationSummary
	Messages(ctx context.Context, userID, conversationID int64) ([]chat.MessageView, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Auth     AuthService
	Chat     ChatService
	Sessions *session.Manager
	Metrics  *metrics.Metrics
	Health   Pinger
}

type Server struct {
	cfg     Config
	rl      RateLimitConfig
	deps    Deps
	pages   *pages
	limiter *RateLimiter
	router  *mux.Router
	http    *http.Server
}

func New(cfg Config, rl RateLimitConfig, deps Deps) (*Server, error) {
	p, err := loadPages()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:     cfg,
		rl:      rl,
		deps:    deps,
		pages:   p,
		limiter: NewRateLimiter(rl.RPS, rl.Burst),
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestLogging, Metrics(s.deps.Metrics), s.deps.Sessions.Middleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)

	// pages
	r.HandleFunc("/", s.page("index")).Methods(http.MethodGet)
	r.HandleFunc("/login", s.page("login")).Methods(http.MethodGet)
	r.HandleFunc("/cadastro", s.page("cadastro")).Methods(http.MethodGet)
	r.HandleFunc("/verificacao", s.handleVerificationPage).Methods(http.MethodGet)
	r.HandleFunc("/sucesso", s.page("sucesso")).Methods(http.MethodGet)
	r.HandleFunc("/verificado", s.page("verificado")).Methods(http.MethodGet)
	r.HandleFunc("/profile", s.handleProfilePage).Methods(http.MethodGet)
	r.HandleFunc("/chat", s.handleChatPage).Methods(http.MethodGet)

	// auth
	limited := s.limiter.Handler
	r.Handle("/register", limited(http.HandlerFunc(s.handleRegister))).Methods(http.MethodPost)
	r.Handle("/login", limited(http.HandlerFunc(s.handleLogin))).Methods(http.MethodPost)
	r.Handle("/resend_verification_code", limited(http.HandlerFunc(s.handleResendVerification))).Methods(http.MethodPost)
	r.HandleFunc("/verify_link/{token}", s.handleVerifyLink).Methods(http.MethodGet)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/profile/update", s.handleUpdateProfile).Methods(http.MethodPut)

	// chat
	r.HandleFunc("/chat/message", s.handleChatMessage).Methods(http.MethodPost)
	r.HandleFunc("/reset_chat", s.handleResetChat).Methods(http.MethodPost)
	r.HandleFunc("/conversations", s.handleConversations).Methods(http.MethodGet)
	r.HandleFunc("/conversation/{id:[0-9]+}", s.handleConversationMessages).Methods(http.MethodGet)

	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.StaticDir))))
	return r
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.limiter.StartCleanup(10 * time.Minute)
	logx.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.StopCleanup()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health.Ping(ctx); err != nil {
			logx.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
