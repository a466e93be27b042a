package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// PanicRecorder は回復したpanicを記録するインターフェース。
type PanicRecorder interface {
	RecordPanic()
}

// NewRecoveryMiddleware はハンドラー内のpanicを回復し、統一フォーマットの500を返すミドルウェアを生成する。
// recorderがnilの場合はログ出力のみ行う。
func NewRecoveryMiddleware(logger *slog.Logger, recorder PanicRecorder) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// クライアント切断による中断はnet/httpに任せる
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				if recorder != nil {
					recorder.RecordPanic()
				}
				logger.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("stack", string(debug.Stack())),
				)
				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
