package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/timecard/internal/model"
)

// --- モック定義 ---

type mockResolver struct {
	resolveSessionFn func(ctx context.Context, sessionID string) (model.Caller, error)
	resolveTokenFn   func(token string) model.Caller
}

func (m *mockResolver) ResolveSession(ctx context.Context, sessionID string) (model.Caller, error) {
	if m.resolveSessionFn != nil {
		return m.resolveSessionFn(ctx, sessionID)
	}
	return model.Caller{}, nil
}

func (m *mockResolver) ResolveToken(token string) model.Caller {
	if m.resolveTokenFn != nil {
		return m.resolveTokenFn(token)
	}
	return model.Caller{}
}

func sessionResolver() *mockResolver {
	return &mockResolver{
		resolveSessionFn: func(ctx context.Context, id string) (model.Caller, error) {
			if id == "valid-session-id" {
				return model.NewCaller("user-123"), nil
			}
			return model.Caller{}, nil
		},
		resolveTokenFn: func(token string) model.Caller {
			if token == "valid-token" {
				return model.NewCaller("token-user")
			}
			return model.Caller{}
		},
	}
}

// --- テスト ---

func TestIdentityMiddleware_ValidSession_InjectsUserID(t *testing.T) {
	mw := NewIdentityMiddleware(sessionResolver())

	var captured model.Caller
	var bearer bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CallerFromContext(r.Context())
		bearer = IsBearerAuth(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured.UserID != "user-123" {
		t.Errorf("userID = %q, want %q", captured.UserID, "user-123")
	}
	if bearer {
		t.Error("cookie session should not be marked as bearer auth")
	}
}

func TestIdentityMiddleware_BearerToken(t *testing.T) {
	mw := NewIdentityMiddleware(sessionResolver())

	var userID string
	var bearer bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ = UserIDFromContext(r.Context())
		bearer = IsBearerAuth(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "bearer valid-token")
	// ベアラートークンがCookieより優先される
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if userID != "token-user" {
		t.Errorf("userID = %q, want token-user", userID)
	}
	if !bearer {
		t.Error("expected bearer auth flag")
	}
}

func TestIdentityMiddleware_Unauthenticated_Returns401(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"no credentials", func(r *http.Request) {}},
		{"unknown session", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "expired"})
		}},
		{"invalid token", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer forged")
		}},
		{"empty bearer", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer ")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewIdentityMiddleware(sessionResolver())
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Code != model.ErrCodeUnauthenticated {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthenticated)
			}
		})
	}
}

func TestIdentityMiddleware_ResolverError_Returns500(t *testing.T) {
	resolver := &mockResolver{
		resolveSessionFn: func(ctx context.Context, id string) (model.Caller, error) {
			return model.Caller{}, errors.New("database unavailable")
		},
	}
	handler := NewIdentityMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "any"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestUserIDFromContext_NoUserID_ReturnsError(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Fatal("expected error when no user ID in context")
	}
	if CallerFromContext(context.Background()).Authenticated() {
		t.Error("empty context should yield unauthenticated caller")
	}
}

func TestContextWithUserID(t *testing.T) {
	ctx := ContextWithUserID(context.Background(), "user-456")

	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if userID != "user-456" {
		t.Errorf("userID = %q, want %q", userID, "user-456")
	}
}
