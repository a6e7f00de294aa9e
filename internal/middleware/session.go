// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/vidasana/internal/model"
)

// IdentityKeyHeader はリクエストの識別キーを運ぶヘッダー名。
const IdentityKeyHeader = "X-Identity-Key"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityKeyContextKey はリクエストコンテキストに識別キーを格納するためのキー。
var identityKeyContextKey = contextKey("identity_key")

// SessionChecker はセッションの有効性確認に必要なインターフェース。
// session.Managerの部分集合として定義する。
type SessionChecker interface {
	CheckSession(ctx context.Context, key string) (bool, error)
}

// FailureMode はセッションストアに到達できないときの扱いを表す。
type FailureMode int

const (
	// FailClosed はストア障害時に503を返す。状態を変更するルートで使う。
	FailClosed FailureMode = iota
	// FailOpen はストア障害時もリクエストを通す。残り時間表示など任意の表示用ルートで使う。
	FailOpen
)

// NewSessionMiddleware はX-Identity-Keyヘッダーの識別キーについてセッションを確認するミドルウェアを返す。
// 有効なセッションがあれば識別キーをリクエストコンテキストに注入する。
// ヘッダーがない、またはセッションが無効な場合は401を返す。
func NewSessionMiddleware(checker SessionChecker, mode FailureMode) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. ヘッダーから識別キーを取得
			key := r.Header.Get(IdentityKeyHeader)
			if !model.IsValidKey(key) {
				writeUnauthorized(w)
				return
			}

			// 2. セッションの有効性を検証
			ok, err := checker.CheckSession(r.Context(), key)
			if err != nil {
				if mode == FailClosed {
					slog.Error("セッションを確認できません",
						slog.String("identity_key", key),
						slog.String("error", err.Error()),
					)
					WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewStoreUnavailableError("ephemeral", err))
					return
				}
				slog.Warn("セッションを確認できないため確認なしで続行します",
					slog.String("identity_key", key),
					slog.String("error", err.Error()),
				)
				ok = true
			}
			if !ok {
				writeUnauthorized(w)
				return
			}

			// 3. 識別キーをコンテキストに注入
			next.ServeHTTP(w, r.WithContext(ContextWithIdentityKey(r.Context(), key)))
		})
	}
}

// IdentityKeyFromContext はリクエストコンテキストから識別キーを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func IdentityKeyFromContext(ctx context.Context) (string, error) {
	key, ok := ctx.Value(identityKeyContextKey).(string)
	if !ok || key == "" {
		return "", fmt.Errorf("identity key not found in context")
	}
	return key, nil
}

// ContextWithIdentityKey はコンテキストに識別キーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentityKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, identityKeyContextKey, key)
}

func writeUnauthorized(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "有効なセッションがありません。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	})
}
