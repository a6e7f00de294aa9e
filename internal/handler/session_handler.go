package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Authenticator はログインに必要なインターフェース。
type Authenticator interface {
	Login(ctx context.Context, key, password string) (time.Duration, error)
}

// SessionServiceInterface はセッションハンドラーが必要とするインターフェース。
type SessionServiceInterface interface {
	RemainingTTL(ctx context.Context, key string) (time.Duration, bool, error)
	EndSession(ctx context.Context, key string) error
}

// SessionHandler はセッションの発行・確認・終了のHTTPハンドラー。
type SessionHandler struct {
	auth     Authenticator
	sessions SessionServiceInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(auth Authenticator, sessions SessionServiceInterface) *SessionHandler {
	return &SessionHandler{auth: auth, sessions: sessions}
}

type loginRequest struct {
	Key      string `json:"key"`
	Password string `json:"password"`
}

type loginResponse struct {
	Key        string `json:"key"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// sessionStatusResponse はセッション状態のレスポンス。
// statusは active / expired / unknown のいずれか。
type sessionStatusResponse struct {
	Key              string `json:"key"`
	Status           string `json:"status"`
	RemainingSeconds *int64 `json:"remaining_seconds,omitempty"`
}

// Login は資格情報を確認してセッションを発行する。
// POST /api/sessions
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ttl, err := h.auth.Login(r.Context(), req.Key, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Key:        req.Key,
		TTLSeconds: int64(ttl.Seconds()),
	})
}

// Me は呼び出し元のセッションの残り時間を返す。
// ストア障害時は状態をunknownとして200を返す。
// GET /api/sessions/me
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	key, ok := callerKey(w, r)
	if !ok {
		return
	}

	ttl, found, err := h.sessions.RemainingTTL(r.Context(), key)
	if err != nil {
		slog.Warn("セッション残り時間の取得に失敗しました",
			slog.String("identity_key", key),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusOK, sessionStatusResponse{Key: key, Status: "unknown"})
		return
	}
	if !found || ttl <= 0 {
		writeJSON(w, http.StatusOK, sessionStatusResponse{Key: key, Status: "expired"})
		return
	}

	remaining := int64(ttl.Seconds())
	writeJSON(w, http.StatusOK, sessionStatusResponse{
		Key:              key,
		Status:           "active",
		RemainingSeconds: &remaining,
	})
}

// Logout は呼び出し元のセッションを終了する。
// DELETE /api/sessions/me
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	key, ok := callerKey(w, r)
	if !ok {
		return
	}

	if err := h.sessions.EndSession(r.Context(), key); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
