package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/vidasana/internal/model"
)

// mockFollowService はFollowServiceInterfaceのモック実装。
type mockFollowService struct {
	followFn       func(ctx context.Context, clinicianKey, patientKey string) error
	listFollowedFn func(ctx context.Context, clinicianKey string) ([]model.FollowedIdentity, error)
}

func (m *mockFollowService) Follow(ctx context.Context, clinicianKey, patientKey string) error {
	if m.followFn != nil {
		return m.followFn(ctx, clinicianKey, patientKey)
	}
	return nil
}

func (m *mockFollowService) ListFollowed(ctx context.Context, clinicianKey string) ([]model.FollowedIdentity, error) {
	if m.listFollowedFn != nil {
		return m.listFollowedFn(ctx, clinicianKey)
	}
	return nil, nil
}

func TestFollowHandler_Follow_Success(t *testing.T) {
	svc := &mockFollowService{
		followFn: func(ctx context.Context, clinicianKey, patientKey string) error {
			if clinicianKey != "20111222" || patientKey != "40123456" {
				t.Errorf("Follow(%q, %q), want (20111222, 40123456)", clinicianKey, patientKey)
			}
			return nil
		},
	}
	h := NewFollowHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/follows", bytes.NewBufferString(`{"patient_key":"40123456"}`))
	req = withIdentityKey(req, "20111222")
	w := httptest.NewRecorder()

	h.Follow(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestFollowHandler_Follow_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"caller is not clinician", model.NewUnknownIdentityError("clinician", "40123456"), http.StatusNotFound, model.ErrCodeUnknownIdentity},
		{"unknown patient", model.NewUnknownIdentityError("patient", "99999999"), http.StatusNotFound, model.ErrCodeUnknownIdentity},
		{"graph down", model.NewStoreUnavailableError("relationship", errors.New("down")), http.StatusServiceUnavailable, model.ErrCodeStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockFollowService{
				followFn: func(ctx context.Context, clinicianKey, patientKey string) error {
					return tt.err
				},
			}
			h := NewFollowHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/follows", bytes.NewBufferString(`{"patient_key":"40123456"}`))
			req = withIdentityKey(req, "20111222")
			w := httptest.NewRecorder()

			h.Follow(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := parseAPIErrorResponse(t, w)["code"]; got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestFollowHandler_List(t *testing.T) {
	svc := &mockFollowService{
		listFollowedFn: func(ctx context.Context, clinicianKey string) ([]model.FollowedIdentity, error) {
			return []model.FollowedIdentity{{Key: "40123456", DisplayName: "Ana Pérez"}}, nil
		},
	}
	h := NewFollowHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/follows", nil)
	req = withIdentityKey(req, "20111222")
	w := httptest.NewRecorder()

	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp []followedResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].DisplayName != "Ana Pérez" {
		t.Errorf("resp = %+v, want [Ana Pérez]", resp)
	}
}

func TestFollowHandler_List_EmptyIsArray(t *testing.T) {
	h := NewFollowHandler(&mockFollowService{})

	req := httptest.NewRequest(http.MethodGet, "/api/follows", nil)
	req = withIdentityKey(req, "20111222")
	w := httptest.NewRecorder()

	h.List(w, req)

	if got := w.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want %q", got, "[]\n")
	}
}
