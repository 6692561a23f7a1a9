// Package session keeps the logged-in user id and the anonymous chat id in a
// signed cookie.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	logx "github.com/falaai/server/pkg/logger"
)

type Config struct {
	Secret     string        `envconfig:"SECRET_KEY"`
	CookieName string        `envconfig:"SESSION_COOKIE" default:"falaai_session"`
	MaxAge     time.Duration `envconfig:"SESSION_MAX_AGE" default:"336h"`
	Secure     bool          `envconfig:"SESSION_SECURE" default:"false"`
}

// Session is the request-scoped view of the cookie. Mutations mark it dirty
// so the middleware re-issues the cookie.
type Session struct {
	mu     sync.Mutex
	userID int64
	anonID string
	dirty  bool
}

func (s *Session) UserID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.userID != 0
}

func (s *Session) SetUserID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID != id {
		s.userID = id
		s.dirty = true
	}
}

func (s *Session) AnonID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anonID
}

// EnsureAnonID returns the anonymous id, creating one on first use.
func (s *Session) EnsureAnonID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.anonID == "" {
		s.anonID = uuid.NewString()
		s.dirty = true
	}
	return s.anonID
}

func (s *Session) ClearAnonID() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.anonID != "" {
		s.anonID = ""
		s.dirty = true
	}
}

// Clear drops both identifiers.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID != 0 || s.anonID != "" {
		s.userID, s.anonID = 0, ""
		s.dirty = true
	}
}

func (s *Session) snapshot() (int64, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.anonID, s.dirty
}

type ctxKey struct{}

func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the request session, or a detached empty one when the
// middleware did not run.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(ctxKey{}).(*Session); ok {
		return s
	}
	return &Session{}
}

type claims struct {
	UID int64  `json:"uid,omitempty"`
	SID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

type Manager struct {
	cfg Config
	key []byte
	now func() time.Time
}

var ErrNoSecret = errors.New("session: SECRET_KEY is empty")

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Secret == "" {
		return nil, ErrNoSecret
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "falaai_session"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 14 * 24 * time.Hour
	}
	return &Manager{cfg: cfg, key: []byte(cfg.Secret), now: time.Now}, nil
}

func (m *Manager) encode(userID int64, anonID string) (string, error) {
	now := m.now()
	c := claims{
		UID: userID,
		SID: anonID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.MaxAge)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.key)
}

func (m *Manager) decode(raw string) (*Session, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}
	return &Session{userID: c.UID, anonID: c.SID}, nil
}

// Load reads the session cookie. Missing or invalid cookies yield an empty
// session.
func (m *Manager) Load(r *http.Request) *Session {
	ck, err := r.Cookie(m.cfg.CookieName)
	if err != nil || ck.Value == "" {
		return &Session{}
	}
	s, err := m.decode(ck.Value)
	if err != nil {
		logx.Debug().Err(err).Msg("discarding invalid session cookie")
		// force a fresh cookie on the next write
		return &Session{dirty: true}
	}
	return s
}

// Cookie renders the Set-Cookie value for s.
func (m *Manager) Cookie(s *Session) (*http.Cookie, error) {
	userID, anonID, _ := s.snapshot()
	ck := &http.Cookie{
		Name:     m.cfg.CookieName,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if userID == 0 && anonID == "" {
		ck.MaxAge = -1
		return ck, nil
	}
	val, err := m.encode(userID, anonID)
	if err != nil {
		return nil, err
	}
	ck.Value = val
	ck.MaxAge = int(m.cfg.MaxAge.Seconds())
	return ck, nil
}

// Middleware attaches the session to the request context and writes the
// cookie back before the first byte of the response when it changed.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.Load(r)
		sw := &sessionWriter{ResponseWriter: w, m: m, s: s}
		next.ServeHTTP(sw, r.WithContext(NewContext(r.Context(), s)))
		sw.commit()
	})
}

type sessionWriter struct {
	http.ResponseWriter
	m         *Manager
	s         *Session
	committed bool
}

func (w *sessionWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true
	if _, _, dirty := w.s.snapshot(); !dirty {
		return
	}
	ck, err := w.m.Cookie(w.s)
	if err != nil {
		logx.Error().Err(err).Msg("failed to encode session cookie")
		return
	}
	http.SetCookie(w.ResponseWriter, ck)
}

func (w *sessionWriter) WriteHeader(code int) {
	w.commit()
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

func (w *sessionWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
