package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/templeman/internal/auth"
	"github.com/hitoshi/templeman/internal/backend/backendtest"
	"github.com/hitoshi/templeman/internal/events"
	"github.com/hitoshi/templeman/internal/guard"
	"github.com/hitoshi/templeman/internal/membership"
	"github.com/hitoshi/templeman/internal/middleware"
	"github.com/hitoshi/templeman/internal/model"
	"github.com/hitoshi/templeman/internal/profile"
	"github.com/hitoshi/templeman/internal/security"
	"github.com/hitoshi/templeman/internal/session"
)

// memSessionRepo はrepository.SessionRepositoryのインメモリ実装。
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*model.Session)}
}

func (m *memSessionRepo) Create(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memSessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || time.Now().After(s.ExpiresAt) {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memSessionRepo) UpdateTokens(_ context.Context, id, accessToken, refreshToken string, tokenExpiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.AccessToken = accessToken
		s.RefreshToken = refreshToken
		s.TokenExpiresAt = tokenExpiresAt
	}
	return nil
}

func (m *memSessionRepo) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memSessionRepo) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

// --- テスト用サーバー ---

type testServer struct {
	*httptest.Server
	backend *backendtest.Fake
}

func newTestServer(t *testing.T, pinger Pinger) *testServer {
	t.Helper()
	logger := testLogger()

	fake := backendtest.New()
	durable := session.NewMemoryStore(time.Hour, 0)
	ephemeral := session.NewMemoryStore(30*time.Minute, 0)
	t.Cleanup(durable.Stop)
	t.Cleanup(ephemeral.Stop)
	stores := session.NewManager(durable, ephemeral, logger)

	authService := auth.NewService(fake, newMemSessionRepo(), stores, auth.ServiceConfig{
		SessionMaxAge: 3600,
		BaseURL:       "http://localhost:3000",
	}, logger)
	cookies, err := auth.NewCookies(auth.CookieConfig{Secret: "test-session-secret", MaxAge: 3600})
	if err != nil {
		t.Fatalf("NewCookies: %v", err)
	}

	limiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(1000, 100), logger)
	t.Cleanup(limiter.Stop)

	sanitizer := security.NewTextSanitizer()
	router := NewRouter(&RouterDeps{
		Logger:            logger,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       limiter,
		Guard:             guard.New(cookies, authService, stores, fake, fake, logger),
		AuthService:       authService,
		Cookies:           cookies,
		ProfileService:    profile.NewService(fake, fake, sanitizer, nil, profile.Config{}, logger),
		MembershipService: membership.NewService(membership.DefaultCatalog(), fake, nil, nil, logger),
		Events:            events.NewService(events.DefaultCatalog(), nil, logger),
		Sanitizer:         sanitizer,
		HealthChecker:     pinger,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, backend: fake}
}

// browser はCookieを保持し、リダイレクトを追わないクライアント。
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
	csrf   string
}

func (s *testServer) newBrowser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	b := &browser{
		t:    t,
		base: s.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}

	resp := b.do(http.MethodGet, "/api/csrf-token", "")
	var tok struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &tok)
	if tok.Token == "" {
		t.Fatal("empty CSRF token")
	}
	b.csrf = tok.Token
	return b
}

func (b *browser) do(method, path, body string) *http.Response {
	b.t.Helper()
	req, err := http.NewRequest(method, b.base+path, strings.NewReader(body))
	if err != nil {
		b.t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.csrf != "" {
		req.Header.Set(middleware.CSRFHeaderName, b.csrf)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatalf("%s %s: %v", method, path, err)
	}
	b.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (b *browser) get(path string) *http.Response { return b.do(http.MethodGet, path, "") }

func (b *browser) post(path, body string) *http.Response { return b.do(http.MethodPost, path, body) }

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

// expectRedirect は303で指定の遷移先が返ることを確認し、通知を返す。
func expectRedirect(t *testing.T, resp *http.Response, target string) *model.Notice {
	t.Helper()
	if resp.StatusCode != http.StatusSeeOther {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s: status = %d, want 303, body = %s", resp.Request.URL.Path, resp.StatusCode, body)
	}
	if got := resp.Header.Get("Location"); got != target {
		t.Fatalf("%s: Location = %q, want %q", resp.Request.URL.Path, got, target)
	}
	var nav middleware.NavigationBody
	decodeBody(t, resp, &nav)
	return nav.Notice
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s: status = %d, want %d, body = %s", resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

const validProfileJSON = `{
	"fullName": "Ravi Kumar",
	"email": "ignored@example.com",
	"phone": "9876543210",
	"aadharNumber": "123456789012",
	"dateOfBirth": "1990-01-01",
	"address": "12 Temple Street",
	"city": "Chennai",
	"state": "Tamil Nadu",
	"pincode": "600001",
	"emergencyContact": "Lakshmi Kumar",
	"emergencyPhone": "9876543211"
}`

// --- テスト ---

func TestRouter_PublicPages(t *testing.T) {
	srv := newTestServer(t, nil)
	b := srv.newBrowser(t)

	tests := []struct {
		path string
		view string
	}{
		{"/", "landing"},
		{"/events", "events"},
		{"/donate", "donate"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := b.get(tt.path)
			expectStatus(t, resp, http.StatusOK)
			var body struct {
				View string `json:"view"`
			}
			decodeBody(t, resp, &body)
			if body.View != tt.view {
				t.Errorf("view = %q, want %q", body.View, tt.view)
			}
		})
	}
}

func TestRouter_SecurityHeadersAndRequestID(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := srv.newBrowser(t).get("/")

	if resp.Header.Get(middleware.RequestIDHeader) == "" {
		t.Error("request ID header missing")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", resp.Header.Get("X-Content-Type-Options"))
	}
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, nil)
	b := srv.newBrowser(t)

	expectStatus(t, b.get("/no-such-page"), http.StatusNotFound)
	expectStatus(t, b.do(http.MethodDelete, "/events", ""), http.StatusMethodNotAllowed)
}

func TestRouter_Health(t *testing.T) {
	t.Run("正常", func(t *testing.T) {
		srv := newTestServer(t, stubPinger{})
		resp := srv.newBrowser(t).get("/health")
		expectStatus(t, resp, http.StatusOK)
	})

	t.Run("DB接続不可", func(t *testing.T) {
		srv := newTestServer(t, stubPinger{err: errors.New("connection refused")})
		resp := srv.newBrowser(t).get("/health")
		expectStatus(t, resp, http.StatusServiceUnavailable)
	})
}

func TestRouter_CSRFRequired(t *testing.T) {
	srv := newTestServer(t, nil)
	b := srv.newBrowser(t)
	b.csrf = ""

	resp := b.post("/auth/login", `{"email":"devotee@example.com","password":"Passw0rd"}`)
	expectStatus(t, resp, http.StatusForbidden)
}

func TestRouter_ProtectedPagesRequireSession(t *testing.T) {
	srv := newTestServer(t, nil)
	b := srv.newBrowser(t)

	for _, path := range []string{"/home", "/profile", "/create-profile", "/membership", "/payment", "/status"} {
		t.Run(path, func(t *testing.T) {
			if notice := expectRedirect(t, b.get(path), "/auth"); notice != nil {
				t.Errorf("notice = %+v, want none", notice)
			}
		})
	}
}

func TestRouter_Donate(t *testing.T) {
	srv := newTestServer(t, nil)
	b := srv.newBrowser(t)

	resp := b.post("/donate", `{"name":"<b>Anon</b>","amount":501}`)
	expectStatus(t, resp, http.StatusOK)
	var body noticeBody
	decodeBody(t, resp, &body)
	if body.Notice.Title != "Thank you for your donation!" ||
		body.Notice.Description != "Your generous donation of ₹501 is greatly appreciated." {
		t.Errorf("notice = %+v", body.Notice)
	}

	resp = b.post("/donate", `{"name":"Anon","amount":0}`)
	expectStatus(t, resp, http.StatusBadRequest)

	// 長さはタグ除去後の氏名で判定する
	name := strings.Repeat("<i></i>", 20) + "Anon"
	resp = b.post("/donate", `{"name":"`+name+`","amount":101}`)
	expectStatus(t, resp, http.StatusOK)
}

func TestRouter_MembershipJourney(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.backend.AddUser("u1", "devotee@example.com", "Passw0rd")
	b := srv.newBrowser(t)

	// ログイン
	notice := expectRedirect(t, b.post("/auth/login", `{"email":"devotee@example.com","password":"Passw0rd"}`), "/home")
	if notice.Title != "Welcome back!" {
		t.Errorf("login notice = %+v", notice)
	}
	expectRedirect(t, b.get("/auth"), "/home")

	// プロフィール未作成
	resp := b.get("/home")
	expectStatus(t, resp, http.StatusOK)
	var home homeBody
	decodeBody(t, resp, &home)
	if home.User.ID != "u1" || home.HasProfile {
		t.Errorf("home = %+v", home)
	}

	resp = b.get("/profile")
	expectStatus(t, resp, http.StatusOK)
	var prof profileBody
	decodeBody(t, resp, &prof)
	if prof.Profile != nil {
		t.Errorf("profile = %+v, want null", prof.Profile)
	}

	notice = expectRedirect(t, b.get("/membership"), "/create-profile")
	if notice.Title != "Profile Required" || notice.Variant != model.NoticeDestructive {
		t.Errorf("guard notice = %+v", notice)
	}

	// プロフィール作成
	resp = b.post("/create-profile", `{"fullName":"R"}`)
	expectStatus(t, resp, http.StatusBadRequest)
	if srv.backend.UpsertCalls() != 0 {
		t.Fatal("invalid profile must not reach the backend")
	}

	notice = expectRedirect(t, b.post("/create-profile", validProfileJSON), "/home")
	if notice.Title != "Profile saved!" {
		t.Errorf("profile notice = %+v", notice)
	}
	saved, ok := srv.backend.Profile("u1")
	if !ok || saved.Email != "devotee@example.com" || saved.FullName != "Ravi Kumar" {
		t.Errorf("saved profile = %+v", saved)
	}

	// プラン未選択での支払画面
	notice = expectRedirect(t, b.get("/payment"), "/membership")
	if notice.Title != "No Plan Selected" {
		t.Errorf("payment notice = %+v", notice)
	}

	// プラン選択
	resp = b.get("/membership")
	expectStatus(t, resp, http.StatusOK)
	var plans plansBody
	decodeBody(t, resp, &plans)
	if len(plans.Plans) != 4 {
		t.Fatalf("plans = %d, want 4", len(plans.Plans))
	}

	expectStatus(t, b.post("/membership/select", `{"type":"diamond"}`), http.StatusNotFound)
	expectRedirect(t, b.post("/membership/select", `{"type":"gold"}`), "/payment")

	resp = b.get("/payment")
	expectStatus(t, resp, http.StatusOK)
	var payment paymentBody
	decodeBody(t, resp, &payment)
	if payment.Plan.Type != "gold" || payment.Plan.Amount != 3000 {
		t.Errorf("plan = %+v", payment.Plan)
	}

	// 申込
	expectStatus(t, b.post("/payment", `{"paymentReference":"   "}`), http.StatusBadRequest)
	if srv.backend.InsertCalls() != 0 {
		t.Fatal("blank reference must not reach the backend")
	}

	notice = expectRedirect(t, b.post("/payment", `{"paymentReference":"TXN-42"}`), "/status")
	if notice.Title != "Application Submitted!" {
		t.Errorf("submit notice = %+v", notice)
	}

	resp = b.get("/status")
	expectStatus(t, resp, http.StatusOK)
	var status statusBody
	decodeBody(t, resp, &status)
	if len(status.Applications) != 1 {
		t.Fatalf("applications = %d, want 1", len(status.Applications))
	}
	app := status.Applications[0]
	if app.MembershipType != "gold" || app.Amount != 3000 || app.PaymentReference != "TXN-42" ||
		app.Status != model.ApplicationStatusPending {
		t.Errorf("application = %+v", app)
	}

	// 選択中プランは送信後に消える
	expectRedirect(t, b.get("/payment"), "/membership")

	// ログアウト
	notice = expectRedirect(t, b.post("/auth/logout", ""), "/")
	if notice.Title != "Logged out successfully" {
		t.Errorf("logout notice = %+v", notice)
	}
	expectRedirect(t, b.get("/home"), "/auth")
}

func TestRouter_SessionsAreIsolated(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.backend.AddUser("u1", "one@example.com", "Passw0rd")
	srv.backend.AddUser("u2", "two@example.com", "Passw0rd")
	srv.backend.PutProfile(model.Profile{ID: "u1", FullName: "One", Email: "one@example.com"})
	srv.backend.PutProfile(model.Profile{ID: "u2", FullName: "Two", Email: "two@example.com"})

	first := srv.newBrowser(t)
	second := srv.newBrowser(t)
	expectRedirect(t, first.post("/auth/login", `{"email":"one@example.com","password":"Passw0rd"}`), "/home")
	expectRedirect(t, second.post("/auth/login", `{"email":"two@example.com","password":"Passw0rd"}`), "/home")

	expectRedirect(t, first.post("/membership/select", `{"type":"basic"}`), "/payment")

	expectRedirect(t, second.get("/payment"), "/membership")

	resp := second.get("/home")
	var home homeBody
	decodeBody(t, resp, &home)
	if home.User.ID != "u2" {
		t.Errorf("second browser user = %q", home.User.ID)
	}
}

func TestRouter_RegisterWithOTP(t *testing.T) {
	srv := newTestServer(t, nil)
	b := srv.newBrowser(t)

	resp := b.post("/auth/register",
		`{"email":"new@example.com","phone":"+919876543210","password":"Passw0rd","confirmPassword":"Passw0rd"}`)
	expectStatus(t, resp, http.StatusOK)
	var pending noticeBody
	decodeBody(t, resp, &pending)
	if !pending.OTPPending {
		t.Fatalf("body = %+v", pending)
	}

	resp = b.get("/auth")
	var page authPageBody
	decodeBody(t, resp, &page)
	if !page.OTPPending {
		t.Error("auth page should report a pending verification")
	}

	resp = b.post("/auth/verify-otp", `{"code":"000000"}`)
	expectStatus(t, resp, http.StatusUnauthorized)

	notice := expectRedirect(t, b.post("/auth/verify-otp", `{"code":"123456"}`), "/home")
	if notice.Title != "Phone verified!" {
		t.Errorf("notice = %+v", notice)
	}

	resp = b.get("/home")
	expectStatus(t, resp, http.StatusOK)
	var home homeBody
	decodeBody(t, resp, &home)
	if home.User.Email != "new@example.com" {
		t.Errorf("user = %+v", home.User)
	}
}
