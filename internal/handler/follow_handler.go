package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/vidasana/internal/model"
)

// FollowServiceInterface はフォローハンドラーが必要とするサービスインターフェース。
type FollowServiceInterface interface {
	Follow(ctx context.Context, clinicianKey, patientKey string) error
	ListFollowed(ctx context.Context, clinicianKey string) ([]model.FollowedIdentity, error)
}

// FollowHandler は医師による患者フォローのHTTPハンドラー。
type FollowHandler struct {
	service FollowServiceInterface
}

// NewFollowHandler はFollowHandlerを生成する。
func NewFollowHandler(service FollowServiceInterface) *FollowHandler {
	return &FollowHandler{service: service}
}

type followRequest struct {
	PatientKey string `json:"patient_key"`
}

type followedResponse struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
}

// Follow は呼び出し元の医師が患者をフォローする。同じ組を繰り返しても1本のままになる。
// POST /api/follows
func (h *FollowHandler) Follow(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerKey(w, r)
	if !ok {
		return
	}

	var req followRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.Follow(r.Context(), caller, req.PatientKey); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List は呼び出し元がフォローしている患者の一覧を返す。
// GET /api/follows
func (h *FollowHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerKey(w, r)
	if !ok {
		return
	}

	followed, err := h.service.ListFollowed(r.Context(), caller)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]followedResponse, 0, len(followed))
	for _, f := range followed {
		resp = append(resp, followedResponse(f))
	}
	writeJSON(w, http.StatusOK, resp)
}
