package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/timecard/internal/analytics"
	"github.com/hitoshi/timecard/internal/attendance"
	"github.com/hitoshi/timecard/internal/auth"
	"github.com/hitoshi/timecard/internal/metrics"
	"github.com/hitoshi/timecard/internal/middleware"
	"github.com/hitoshi/timecard/internal/model"
	"github.com/hitoshi/timecard/internal/profile"
	"github.com/hitoshi/timecard/internal/repository/memstore"
	"github.com/hitoshi/timecard/internal/security"
)

// testApp はメモリストア上の実サービスでルーターを構成したテスト環境。
type testApp struct {
	server  *httptest.Server
	authSvc *auth.Service
	profile *profile.Service
}

func newTestApp(t *testing.T, health HealthChecker) *testApp {
	t.Helper()

	store := memstore.New()
	reg := prometheus.NewRegistry()
	mc := metrics.NewCollector(reg)

	authSvc := auth.NewService(store.Users(), store.AuthSessions(),
		auth.NewTokenIssuer("integration-secret", time.Hour),
		auth.ServiceConfig{SessionMaxAge: 3600, BcryptCost: bcrypt.MinCost})
	profileSvc := profile.NewService(store.Profiles(), security.NewNameSanitizer(), mc)
	attendanceSvc := attendance.NewService(store.WorkSessions(), store.Profiles(), mc)
	analyticsSvc := analytics.NewService(attendanceSvc, profileSvc, time.Local, 7)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Identity:          authSvc,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		StatusRecorder:    mc,
		PanicRecorder:     mc,
		HealthChecker:     health,
		MetricsHandler:    metrics.Handler(reg),
		AuthService:       NewAuthServiceAdapter(authSvc),
		AuthConfig:        AuthHandlerConfig{SessionMaxAge: 3600},
		ProfileService:    profileSvc,
		AttendanceService: attendanceSvc,
		AnalyticsService:  NewAnalyticsServiceAdapter(analyticsSvc),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testApp{server: srv, authSvc: authSvc, profile: profileSvc}
}

// do はベアラートークン付きでJSONリクエストを送信する。
func (a *testApp) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.server.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// signUp はアカウントを作成し、ユーザーIDとトークンを返す。
func (a *testApp) signUp(t *testing.T, email string) (string, string) {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/auth/signup", "", map[string]string{"email": email, "password": "password123"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d", resp.StatusCode)
	}
	var body signInResponse
	decodeBody(t, resp, &body)
	return body.User.ID, body.Token
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func expectCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d", resp.StatusCode, status)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["code"] != code {
		t.Errorf("code = %q, want %q", body["code"], code)
	}
}

func TestIntegration_AttendanceLifecycle(t *testing.T) {
	app := newTestApp(t, nil)

	staffID, staffToken := app.signUp(t, "staff@example.com")
	internID, internToken := app.signUp(t, "intern@example.com")

	// 最初のスタッフは管理コマンドで用意する
	if _, err := app.profile.GrantStaff(context.Background(), staffID, "Staff"); err != nil {
		t.Fatal(err)
	}

	// インターンがプロフィールを作成（未承認）
	resp := app.do(t, http.MethodPost, "/api/profile", internToken, map[string]string{"name": "  <b>Intern</b> "})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create profile status = %d", resp.StatusCode)
	}
	var created map[string]string
	decodeBody(t, resp, &created)
	internProfileID := created["id"]

	resp = app.do(t, http.MethodGet, "/api/profile", internToken, nil)
	var p profileResponse
	decodeBody(t, resp, &p)
	if p.Name != "Intern" || p.IsActive || p.Role != string(model.RoleIntern) {
		t.Errorf("profile = %+v", p)
	}

	// 未承認のためチェックインできない
	expectCode(t, app.do(t, http.MethodPost, "/api/sessions/check-in", internToken, nil),
		http.StatusForbidden, model.ErrCodeAccountInactive)

	// インターンはユーザー一覧を参照できない
	expectCode(t, app.do(t, http.MethodGet, "/api/users", internToken, nil),
		http.StatusForbidden, model.ErrCodeNotAuthorized)

	// スタッフが承認
	resp = app.do(t, http.MethodPost, "/api/users/"+internProfileID+"/approve", staffToken, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("approve status = %d", resp.StatusCode)
	}
	expectCode(t, app.do(t, http.MethodPost, "/api/users/missing/approve", staffToken, nil),
		http.StatusNotFound, model.ErrCodeProfileNotFound)

	// チェックイン → 二重チェックイン → チェックアウト → 二重チェックアウト
	resp = app.do(t, http.MethodPost, "/api/sessions/check-in", internToken, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("check-in status = %d", resp.StatusCode)
	}
	expectCode(t, app.do(t, http.MethodPost, "/api/sessions/check-in", internToken, nil),
		http.StatusConflict, model.ErrCodeAlreadyCheckedIn)

	resp = app.do(t, http.MethodGet, "/api/sessions/current", internToken, nil)
	var current workSessionResponse
	decodeBody(t, resp, &current)
	if current.CheckOut != nil {
		t.Errorf("current session should be open: %+v", current)
	}

	resp = app.do(t, http.MethodPost, "/api/sessions/check-out", internToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check-out status = %d", resp.StatusCode)
	}
	var closed workSessionResponse
	decodeBody(t, resp, &closed)
	if closed.ID != current.ID || closed.CheckOut == nil || closed.DurationMs == nil {
		t.Errorf("closed session = %+v", closed)
	}
	expectCode(t, app.do(t, http.MethodPost, "/api/sessions/check-out", internToken, nil),
		http.StatusConflict, model.ErrCodeNoActiveSession)

	// 履歴: 本人とスタッフは参照できる
	for _, tc := range []struct{ path, token string }{
		{"/api/users/me/sessions", internToken},
		{"/api/users/" + internID + "/sessions", staffToken},
	} {
		resp = app.do(t, http.MethodGet, tc.path, tc.token, nil)
		var list []workSessionResponse
		decodeBody(t, resp, &list)
		if len(list) != 1 || list[0].ID != closed.ID {
			t.Errorf("%s = %+v", tc.path, list)
		}
	}
	expectCode(t, app.do(t, http.MethodGet, "/api/users/"+staffID+"/sessions", internToken, nil),
		http.StatusForbidden, model.ErrCodeNotAuthorized)

	// 集計
	resp = app.do(t, http.MethodGet, "/api/analytics/team?days=1", staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("team summary status = %d", resp.StatusCode)
	}
	var team teamSummaryResponse
	decodeBody(t, resp, &team)
	if len(team.Members) != 2 {
		t.Fatalf("members = %d, want 2", len(team.Members))
	}
	var internSessions int
	for _, m := range team.Members {
		if m.Profile.UserID == internID {
			internSessions = m.SessionCount
		}
	}
	if internSessions != 1 {
		t.Errorf("intern session_count = %d, want 1", internSessions)
	}

	// 無効化するとチェックインできなくなる
	app.do(t, http.MethodPost, "/api/users/"+internProfileID+"/toggle-status", staffToken, nil)
	expectCode(t, app.do(t, http.MethodPost, "/api/sessions/check-in", internToken, nil),
		http.StatusForbidden, model.ErrCodeAccountInactive)
}

func TestIntegration_CookieSessionRequiresCSRF(t *testing.T) {
	app := newTestApp(t, nil)

	resp := app.do(t, http.MethodPost, "/auth/signup", "", map[string]string{"email": "c@example.com", "password": "password123"})
	var sessionCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil || !sessionCookie.HttpOnly {
		t.Fatalf("session cookie = %+v", sessionCookie)
	}

	req, _ := http.NewRequest(http.MethodPost, app.server.URL+"/api/profile", strings.NewReader(`{"name":"Cookie"}`))
	req.AddCookie(sessionCookie)
	resp, err := app.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	expectCode(t, resp, http.StatusForbidden, model.ErrCodeCSRFTokenInvalid)

	req, _ = http.NewRequest(http.MethodGet, app.server.URL+"/auth/me", nil)
	req.AddCookie(sessionCookie)
	resp, err = app.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var me userResponse
	decodeBody(t, resp, &me)
	if me.Email != "c@example.com" {
		t.Errorf("me = %+v", me)
	}
}

// TestIntegration_MalformedIDs はUUIDとして不正なパスIDが500ではなく該当なしになることを検証する。
func TestIntegration_MalformedIDs(t *testing.T) {
	app := newTestApp(t, nil)

	staffID, staffToken := app.signUp(t, "staff@example.com")
	if _, err := app.profile.GrantStaff(context.Background(), staffID, "Staff"); err != nil {
		t.Fatal(err)
	}

	for _, action := range []string{"approve", "toggle-status", "promote"} {
		expectCode(t, app.do(t, http.MethodPost, "/api/users/abc/"+action, staffToken, nil),
			http.StatusNotFound, model.ErrCodeProfileNotFound)
	}

	resp := app.do(t, http.MethodGet, "/api/users/abc/sessions", staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sessions status = %d, want 200", resp.StatusCode)
	}
	var sessions []workSessionResponse
	decodeBody(t, resp, &sessions)
	if sessions == nil || len(sessions) != 0 {
		t.Errorf("sessions = %v, want empty list", sessions)
	}

	resp = app.do(t, http.MethodGet, "/api/analytics/users/abc", staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analytics status = %d, want 200", resp.StatusCode)
	}
	var summary map[string]any
	decodeBody(t, resp, &summary)
	if summary["total_hours"] != float64(0) {
		t.Errorf("total_hours = %v, want 0", summary["total_hours"])
	}
}

func TestIntegration_Unauthenticated(t *testing.T) {
	app := newTestApp(t, nil)

	for _, path := range []string{"/api/profile", "/api/sessions/current", "/api/analytics/users/me", "/auth/me"} {
		expectCode(t, app.do(t, http.MethodGet, path, "", nil), http.StatusUnauthorized, model.ErrCodeUnauthenticated)
	}
	expectCode(t, app.do(t, http.MethodGet, "/api/profile", "forged-token", nil), http.StatusUnauthorized, model.ErrCodeUnauthenticated)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestIntegration_HealthAndMetrics(t *testing.T) {
	app := newTestApp(t, nil)

	resp := app.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	resp = app.do(t, http.MethodGet, "/metrics", "", nil)
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "timecard_http_status_total") {
		t.Errorf("metrics output should include HTTP status counter:\n%s", b)
	}

	down := newTestApp(t, pingFunc(func(ctx context.Context) error { return errors.New("db down") }))
	resp = down.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want 503", resp.StatusCode)
	}
}
