// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/timecard/internal/model"
)

// SessionCookieName はログインセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// bearerContextKey はベアラートークンで認証されたことを示すキー。
	bearerContextKey = contextKey("bearer_auth")
	// requestInfoContextKey はログ用のリクエスト情報を格納するキー。
	requestInfoContextKey = contextKey("request_info")
)

// IdentityResolver はCookieのセッションIDまたはベアラートークンから呼び出し元を解決する。
type IdentityResolver interface {
	ResolveSession(ctx context.Context, sessionID string) (model.Caller, error)
	ResolveToken(token string) model.Caller
}

// NewIdentityMiddleware は呼び出し元を解決し、ユーザーIDをリクエストコンテキストに注入するミドルウェアを返す。
// Authorizationヘッダーのベアラートークンを優先し、なければHTTP Only Cookieのセッションを使う。
// 解決できない場合は401 Unauthorizedを返す。
func NewIdentityMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var caller model.Caller
			bearer := false

			if token, ok := bearerToken(r); ok {
				caller = resolver.ResolveToken(token)
				bearer = true
			} else if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
				caller, err = resolver.ResolveSession(r.Context(), cookie.Value)
				if err != nil {
					slog.Error("failed to resolve session",
						slog.String("error", err.Error()),
					)
					WriteInternalServerError(w)
					return
				}
			}

			if !caller.Authenticated() {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, caller.UserID)
			if bearer {
				ctx = context.WithValue(ctx, bearerContextKey, true)
			}
			if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
				info.userID = caller.UserID
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken はAuthorizationヘッダーからベアラートークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// CallerFromContext はリクエストコンテキストから呼び出し元を取得する。
// 未認証の場合はゼロ値のCallerを返す。
func CallerFromContext(ctx context.Context) model.Caller {
	userID, _ := ctx.Value(userIDContextKey).(string)
	return model.NewCaller(userID)
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// IsBearerAuth はリクエストがベアラートークンで認証されたかどうかを返す。
func IsBearerAuth(ctx context.Context) bool {
	b, _ := ctx.Value(bearerContextKey).(bool)
	return b
}
