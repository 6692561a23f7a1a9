package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falaai/server/internal/agent/graph/conversations"
	"github.com/falaai/server/internal/auth"
	"github.com/falaai/server/internal/chat"
	errx "github.com/falaai/server/internal/core/error"
	"github.com/falaai/server/internal/metrics"
	"github.com/falaai/server/internal/session"
	"github.com/falaai/server/internal/core"
	"github.com/falaai/server/internal/store"
	logx "github.com/falaai/server/pkg/logger"
)

type fakeAuth struct {
	registered []auth.RegisterInput
	baseURLs   []string
	loginUser  *store.User
	loginErr   error
	verifyTo   string
	resendErr  error
	resent     []string
	profile    *auth.ProfileView
	profileErr error
	update     auth.ProfileInput
	picture    string
	updateRes  *auth.ProfileResult
}

func (f *fakeAuth) Register(_ context.Context, in auth.RegisterInput, baseURL string) (int64, error) {
	if in.Email == "dup@x.com" {
		return 0, errx.BadRequest("Este email já está registrado.")
	}
	f.registered = append(f.registered, in)
	f.baseURLs = append(f.baseURLs, baseURL)
	return 11, nil
}

func (f *fakeAuth) Login(context.Context, string, string) (*store.User, error) {
	return f.loginUser, f.loginErr
}

func (f *fakeAuth) VerifyLink(context.Context, string) string { return f.verifyTo }

func (f *fakeAuth) ResendVerification(_ context.Context, email, _ string) error {
	f.resent = append(f.resent, email)
	return f.resendErr
}

func (f *fakeAuth) UpdateProfile(_ context.Context, _ int64, in auth.ProfileInput, _ string) (*auth.ProfileResult, error) {
	f.update = in
	if in.Picture != nil {
		b, _ := io.ReadAll(in.Picture.Content)
		f.picture = in.Picture.Filename + ":" + string(b)
	}
	return f.updateRes, nil
}

func (f *fakeAuth) Profile(context.Context, int64) (*auth.ProfileView, error) {
	return f.profile, f.profileErr
}

type fakeChat struct {
	sent    []conversations.Identity
	reply   string
	sendErr error
	resets  []conversations.Identity
	evicted []conversations.Identity
	convs   []chat.ConversationSummary
	msgs    []chat.MessageView
	msgsErr error
}

func (f *fakeChat) Send(_ context.Context, id conversations.Identity, _ string) (string, error) {
	f.sent = append(f.sent, id)
	return f.reply, f.sendErr
}

func (f *fakeChat) Reset(_ context.Context, id conversations.Identity) { f.resets = append(f.resets, id) }

func (f *fakeChat) Evict(id conversations.Identity) { f.evicted = append(f.evicted, id) }

func (f *fakeChat) Conversations(context.Context, int64) []chat.ConversationSummary {
	if f.convs == nil {
		return []chat.ConversationSummary{}
	}
	return f.convs
}

func (f *fakeChat) Messages(context.Context, int64, int64) ([]chat.MessageView, error) {
	return f.msgs, f.msgsErr
}

type pingFunc func(context.Context) error

func (p pingFunc) Ping(ctx context.Context) error { return p(ctx) }

type testEnv struct {
	srv      *Server
	auth     *fakeAuth
	chat     *fakeChat
	sessions *session.Manager
	ping     error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	sm, err := session.NewManager(session.Config{Secret: "s3cret", CookieName: "falaai_session", MaxAge: time.Hour})
	require.NoError(t, err)

	env := &testEnv{auth: &fakeAuth{}, chat: &fakeChat{}, sessions: sm}
	srv, err := New(
		Config{StaticDir: t.TempDir(), MaxUploadBytes: 1 << 20},
		RateLimitConfig{RPS: 1, Burst: 3},
		Deps{
			Auth:     env.auth,
			Chat:     env.chat,
			Sessions: sm,
			Metrics:  metrics.New(),
			Health:   pingFunc(func(context.Context) error { return env.ping }),
		},
	)
	require.NoError(t, err)
	env.srv = srv
	return env
}

// loggedIn returns a cookie for a session holding uid.
func (e *testEnv) loggedIn(t *testing.T, uid int64) *http.Cookie {
	t.Helper()
	s := &session.Session{}
	s.SetUserID(uid)
	ck, err := e.sessions.Cookie(s)
	require.NoError(t, err)
	return ck
}

func (e *testEnv) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func jsonReq(method, target string, body any) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func responseSession(t *testing.T, e *testEnv, rec *httptest.ResponseRecorder) *session.Session {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return e.sessions.Load(req)
}

func TestRegister(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(jsonReq(http.MethodPost, "/register", map[string]any{
		"nome": "Ana", "email": "ana@x.com", "senha": "segredo", "termos_registro": true,
	}))
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "/sucesso", body["redirect_url"])
	assert.Equal(t, "Ana", e.auth.registered[0].Name)
	assert.True(t, e.auth.registered[0].AcceptedTerms)
	assert.Equal(t, "http://example.com", e.auth.baseURLs[0])

	uid, ok := responseSession(t, e, rec).UserID()
	assert.True(t, ok)
	assert.Equal(t, int64(11), uid)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRegisterErrors(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(jsonReq(http.MethodPost, "/register", map[string]any{"email": "dup@x.com"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Este email já está registrado.", decode(t, rec)["detail"])

	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader("{not json"))
	rec = e.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgInvalidBody, decode(t, rec)["detail"])
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)
	e.auth.loginUser = &store.User{ID: 5, EmailVerified: true}

	anon := &session.Session{}
	anonID := anon.EnsureAnonID()
	anonCookie, err := e.sessions.Cookie(anon)
	require.NoError(t, err)

	rec := e.do(jsonReq(http.MethodPost, "/login", map[string]string{"email": "a@x.com", "senha": "x"}), anonCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "/chat", body["redirect_url"])
	assert.Equal(t, float64(5), body["user_id"])

	sess := responseSession(t, e, rec)
	uid, _ := sess.UserID()
	assert.Equal(t, int64(5), uid)
	assert.Empty(t, sess.AnonID())
	assert.Equal(t, []conversations.Identity{{AnonID: anonID}}, e.chat.evicted)
}

func TestLoginFailures(t *testing.T) {
	e := newTestEnv(t)

	e.auth.loginErr = auth.ErrEmailNotVerified
	rec := e.do(jsonReq(http.MethodPost, "/login", map[string]string{"email": "a@x.com", "senha": "x"}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, auth.UnverifiedLoginMsg, decode(t, rec)["message"])

	e.auth.loginErr = errx.Unauthorized("Email ou senha inválidos.")
	rec = e.do(jsonReq(http.MethodPost, "/login", map[string]string{"email": "a@x.com", "senha": "x"}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Email ou senha inválidos.", decode(t, rec)["detail"])
}

func TestLoginIsRateLimited(t *testing.T) {
	e := newTestEnv(t)
	e.auth.loginErr = errx.Unauthorized("no")

	var last int
	for i := 0; i < 5; i++ {
		last = e.do(jsonReq(http.MethodPost, "/login", map[string]string{})).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodPost, "/logout", nil), e.loggedIn(t, 3))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/login", decode(t, rec)["redirect_url"])
	assert.Equal(t, []conversations.Identity{{UserID: 3}}, e.chat.evicted)

	_, ok := responseSession(t, e, rec).UserID()
	assert.False(t, ok)
}

func TestVerifyLinkRedirects(t *testing.T) {
	e := newTestEnv(t)
	e.auth.verifyTo = auth.RedirectExpiredToken

	rec := e.do(httptest.NewRequest(http.MethodGet, "/verify_link/abc-123", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, auth.RedirectExpiredToken, rec.Header().Get("Location"))
}

func TestResendVerificationFormAndJSON(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/resend_verification_code", strings.NewReader(url.Values{"email": {"a@x.com"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := e.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, auth.ResentMessage, decode(t, rec)["message"])

	rec = e.do(jsonReq(http.MethodPost, "/resend_verification_code", map[string]string{"email": "b@x.com"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, e.auth.resent)

	e.auth.resendErr = errx.NotFound("Usuário não encontrado.")
	rec = e.do(jsonReq(http.MethodPost, "/resend_verification_code", map[string]string{"email": "c@x.com"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateProfileMultipart(t *testing.T) {
	e := newTestEnv(t)
	e.auth.updateRes = &auth.ProfileResult{Message: auth.ProfileUpdatedMessage, ProfilePicURL: "/static/uploads/profile_pics/x.png"}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("nome_completo", "Ana Lima"))
	require.NoError(t, mw.WriteField("senha", ""))
	fw, err := mw.CreateFormFile("profile_pic", "me.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("img"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/profile/update", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := e.do(req, e.loggedIn(t, 4))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/static/uploads/profile_pics/x.png", decode(t, rec)["profile_pic_url"])
	require.NotNil(t, e.auth.update.Name)
	assert.Equal(t, "Ana Lima", *e.auth.update.Name)
	assert.Nil(t, e.auth.update.Password, "blank fields are not submitted")
	assert.Nil(t, e.auth.update.Email)
	assert.Equal(t, "me.png:img", e.auth.picture)
}

func TestUpdateProfileRequiresLogin(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodPut, "/profile/update", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatMessage(t *testing.T) {
	e := newTestEnv(t)
	e.chat.reply = "Olá!"

	rec := e.do(jsonReq(http.MethodPost, "/chat/message", map[string]string{"message": "Oi"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"response": "Olá!", "language": "pt"}, decode(t, rec))

	// anonymous visitors get a stable id in their cookie
	anon := responseSession(t, e, rec).AnonID()
	require.NotEmpty(t, anon)
	assert.Equal(t, conversations.Identity{AnonID: anon}, e.chat.sent[0])

	rec = e.do(jsonReq(http.MethodPost, "/chat/message", map[string]string{"message": "Oi"}), e.loggedIn(t, 8))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, conversations.Identity{UserID: 8}, e.chat.sent[1])
}

func TestChatMessageErrors(t *testing.T) {
	e := newTestEnv(t)

	e.chat.sendErr = chat.ErrUnverified
	rec := e.do(jsonReq(http.MethodPost, "/chat/message", map[string]string{"message": "Oi"}), e.loggedIn(t, 2))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, chat.UnverifiedChatMessage, decode(t, rec)["response"])

	e.chat.sendErr = errx.WrapLLM(errors.New("quota"))
	rec = e.do(jsonReq(http.MethodPost, "/chat/message", map[string]string{"message": "Oi"}))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, errx.LLMErrorMessage, decode(t, rec)["detail"])
}

func TestResetChat(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodPost, "/reset_chat", nil), e.loggedIn(t, 9))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, chat.ResetMessage, decode(t, rec)["message"])
	assert.Equal(t, []conversations.Identity{{UserID: 9}}, e.chat.resets)
}

func TestConversationsEndpoints(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/conversations", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	e.chat.msgs = []chat.MessageView{{Sender: "usuario", Content: "Oi", SentAt: "2025-01-01T00:00:00Z"}}
	rec = e.do(httptest.NewRequest(http.MethodGet, "/conversation/7", nil), e.loggedIn(t, 1))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"remetente":"usuario","conteudo":"Oi","data_envio":"2025-01-01T00:00:00Z"}]`, rec.Body.String())

	e.chat.msgsErr = errx.NotFound("Conversa não encontrada ou não pertence ao usuário.")
	rec = e.do(httptest.NewRequest(http.MethodGet, "/conversation/7", nil), e.loggedIn(t, 1))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(httptest.NewRequest(http.MethodGet, "/conversation/abc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPages(t *testing.T) {
	e := newTestEnv(t)

	for _, path := range []string{"/", "/login", "/cadastro", "/sucesso", "/verificado"} {
		rec := e.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html", path)
	}

	rec := e.do(httptest.NewRequest(http.MethodGet, "/verificacao?email=a%40x.com", nil))
	assert.Contains(t, rec.Body.String(), "a@x.com")
}

func TestProfilePage(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/profile", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	e.auth.profile = &auth.ProfileView{ID: 1, FullName: "Ana Lima", Email: "ana@x.com", RegisteredAt: "01/05/2025 09:30:00"}
	rec = e.do(httptest.NewRequest(http.MethodGet, "/profile", nil), e.loggedIn(t, 1))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ana Lima")
	assert.Contains(t, rec.Body.String(), "01/05/2025 09:30:00")

	e.auth.profile, e.auth.profileErr = nil, errx.WrapDB(sql.ErrNoRows)
	rec = e.do(httptest.NewRequest(http.MethodGet, "/profile", nil), e.loggedIn(t, 1))
	assert.Equal(t, http.StatusFound, rec.Code)
	_, ok := responseSession(t, e, rec).UserID()
	assert.False(t, ok, "stale session is cleared")
}

func TestChatPage(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/chat", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Olá, Usuário")
	assert.Contains(t, rec.Body.String(), store.DefaultProfilePicURL)

	e.auth.profile = &auth.ProfileView{FullName: "Carla Dias", ProfilePicURL: "/static/uploads/profile_pics/c.png"}
	rec = e.do(httptest.NewRequest(http.MethodGet, "/chat", nil), e.loggedIn(t, 2))
	assert.Contains(t, rec.Body.String(), "Olá, Carla")
	assert.Contains(t, rec.Body.String(), "/static/uploads/profile_pics/c.png")
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	e.ping = errors.New("db down")
	rec = e.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = e.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/healthz"`)
}

func TestRequestIDIsPropagated(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := e.do(req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestErrorLogCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logx.Init(logx.LoggerOpts{Environment: core.Production, Output: &buf})
	t.Cleanup(func() { logx.Init() })

	e := newTestEnv(t)
	e.chat.msgsErr = errx.NotFound("Conversa não encontrada ou não pertence ao usuário.")
	req := httptest.NewRequest(http.MethodGet, "/conversation/7", nil)
	req.Header.Set("X-Request-ID", "req-404")
	rec := e.do(req, e.loggedIn(t, 1))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var failed map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["message"] == "request failed" {
			failed = entry
		}
	}
	require.NotNil(t, failed, "no error line in %q", buf.String())
	assert.Equal(t, "req-404", failed["request_id"])
	assert.EqualValues(t, http.StatusNotFound, failed["status"])
}
