package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はハンドラーのpanicを500に変換するミドルウェアを返す。
// http.ErrAbortHandlerはnet/httpへの中断通知なので投げ直す。
// 応答を書き始めた後のpanicではボディを追記せずログだけ残す。
func NewRecoveryMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ctx := withRequestInfo(r.Context())
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				attrs := []slog.Attr{
					slog.Any("panic", v),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Bool("response_started", rec.written),
					slog.String("stack", string(debug.Stack())),
				}
				if info.userID != "" {
					attrs = append(attrs, slog.String("user_id", info.userID))
				}
				logger.LogAttrs(ctx, slog.LevelError, "panic recovered", attrs...)

				if !rec.written {
					WriteInternalServerError(rec)
				}
			}()

			next.ServeHTTP(rec, r.WithContext(ctx))
		})
	}
}
