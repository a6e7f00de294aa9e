package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/vidasana/internal/identity"
	"github.com/hitoshi/vidasana/internal/model"
	"github.com/hitoshi/vidasana/internal/risk"
)

// IdentityServiceInterface は識別情報ハンドラーが必要とするサービスインターフェース。
type IdentityServiceInterface interface {
	Register(ctx context.Context, in identity.RegisterInput) (*identity.Registration, error)
	Get(ctx context.Context, key string) (*model.Identity, error)
	AppendHistory(ctx context.Context, key string, entry model.HistoryEntry) error
}

// RiskEvaluator はリスク評価に必要なインターフェース。
type RiskEvaluator interface {
	Evaluate(ctx context.Context, key string) (risk.Result, error)
}

// IdentityHandler は識別情報と診療履歴のHTTPハンドラー。
type IdentityHandler struct {
	service IdentityServiceInterface
	risk    RiskEvaluator
	guard   accessGuard
}

// NewIdentityHandler はIdentityHandlerを生成する。
func NewIdentityHandler(service IdentityServiceInterface, evaluator RiskEvaluator) *IdentityHandler {
	return &IdentityHandler{service: service, risk: evaluator, guard: accessGuard{identities: service}}
}

// registerRequest は登録リクエストのボディ。
type registerRequest struct {
	Key       string `json:"key"`
	Role      string `json:"role"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	BirthDate string `json:"birth_date"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Sex       string `json:"sex"`
	Password  string `json:"password"`
}

// historyEntryBody は診療履歴1件のリクエスト・レスポンス表現。
type historyEntryBody struct {
	Date      string `json:"date"`
	Diagnosis string `json:"diagnosis"`
	Treatment string `json:"treatment"`
}

// identityResponse は識別情報のAPIレスポンス。パスワードハッシュは含めない。
type identityResponse struct {
	Key       string             `json:"key"`
	Role      string             `json:"role"`
	FirstName string             `json:"first_name"`
	LastName  string             `json:"last_name"`
	BirthDate string             `json:"birth_date,omitempty"`
	Email     string             `json:"email,omitempty"`
	Phone     string             `json:"phone,omitempty"`
	Sex       string             `json:"sex,omitempty"`
	History   []historyEntryBody `json:"history"`
	CreatedAt time.Time          `json:"created_at"`
}

type registerResponse struct {
	Identity          identityResponse `json:"identity"`
	SessionTTLSeconds int64            `json:"session_ttl_seconds"`
}

type riskResponse struct {
	Key     string   `json:"key"`
	Score   int      `json:"score"`
	Level   string   `json:"level"`
	Alert   bool     `json:"alert"`
	Matched []string `json:"matched"`
}

// Register は識別情報を登録する。
// POST /api/identities
func (h *IdentityHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	reg, err := h.service.Register(r.Context(), identity.RegisterInput{
		Key:       req.Key,
		Role:      model.Role(req.Role),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		BirthDate: req.BirthDate,
		Email:     req.Email,
		Phone:     req.Phone,
		Sex:       req.Sex,
		Password:  req.Password,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		Identity:          toIdentityResponse(reg.Identity),
		SessionTTLSeconds: int64(reg.SessionTTL.Seconds()),
	})
}

// GetIdentity は識別情報を返す。本人または医師のみ参照できる。
// GET /api/identities/{key}
func (h *IdentityHandler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !h.guard.allow(w, r, key) {
		return
	}

	found, err := h.service.Get(r.Context(), key)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toIdentityResponse(found))
}

// AppendHistory は診療履歴を追記する。本人または医師のみ追記できる。
// POST /api/identities/{key}/history
func (h *IdentityHandler) AppendHistory(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !h.guard.allow(w, r, key) {
		return
	}

	var req historyEntryBody
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.AppendHistory(r.Context(), key, model.HistoryEntry(req)); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Risk は診療履歴からリスクを評価する。本人または医師のみ参照できる。
// GET /api/identities/{key}/risk
func (h *IdentityHandler) Risk(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !h.guard.allow(w, r, key) {
		return
	}

	result, err := h.risk.Evaluate(r.Context(), key)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	matched := result.Matched
	if matched == nil {
		matched = []string{}
	}
	writeJSON(w, http.StatusOK, riskResponse{
		Key:     key,
		Score:   result.Score,
		Level:   string(result.Level),
		Alert:   result.Alert,
		Matched: matched,
	})
}

func toIdentityResponse(i *model.Identity) identityResponse {
	history := make([]historyEntryBody, 0, len(i.History))
	for _, h := range i.History {
		history = append(history, historyEntryBody(h))
	}
	return identityResponse{
		Key:       i.Key,
		Role:      string(i.Role),
		FirstName: i.FirstName,
		LastName:  i.LastName,
		BirthDate: i.BirthDate,
		Email:     i.Email,
		Phone:     i.Phone,
		Sex:       i.Sex,
		History:   history,
		CreatedAt: i.CreatedAt,
	}
}
