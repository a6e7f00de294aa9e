package handler

import (
	"context"
	"iter"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/vidasana/internal/middleware"
	"github.com/hitoshi/vidasana/internal/model"
)

// AppointmentServiceInterface は予約ハンドラーが必要とするサービスインターフェース。
type AppointmentServiceInterface interface {
	ScheduleAppointment(ctx context.Context, patientKey, clinicianKey, when, specialty string) (string, error)
	ListAppointments(ctx context.Context, patientKey string) iter.Seq2[model.Appointment, error]
	GetReminder(ctx context.Context, patientKey, when string) (string, bool, error)
}

// AppointmentHandler は診療予約のHTTPハンドラー。
type AppointmentHandler struct {
	service AppointmentServiceInterface
	guard   accessGuard
}

// NewAppointmentHandler はAppointmentHandlerを生成する。
func NewAppointmentHandler(service AppointmentServiceInterface, identities IdentityLookup) *AppointmentHandler {
	return &AppointmentHandler{service: service, guard: accessGuard{identities: identities}}
}

type scheduleRequest struct {
	PatientKey   string `json:"patient_key"`
	ClinicianKey string `json:"clinician_key"`
	When         string `json:"when"`
	Specialty    string `json:"specialty"`
}

type scheduleResponse struct {
	ID string `json:"id"`
}

type appointmentResponse struct {
	ID           string    `json:"id"`
	PatientKey   string    `json:"patient_key"`
	ClinicianKey string    `json:"clinician_key"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Specialty    string    `json:"specialty"`
	Status       string    `json:"status"`
}

type reminderResponse struct {
	PatientKey string `json:"patient_key"`
	Message    string `json:"message"`
}

// Schedule は診療予約を登録する。patient_keyを省略した場合は呼び出し元を患者とする。
// 呼び出し元は予約の患者本人か担当医師でなければならない。
// POST /api/appointments
func (h *AppointmentHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerKey(w, r)
	if !ok {
		return
	}

	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PatientKey == "" {
		req.PatientKey = caller
	}
	if caller != req.PatientKey && caller != req.ClinicianKey {
		writeForbidden(w)
		return
	}

	id, err := h.service.ScheduleAppointment(r.Context(), req.PatientKey, req.ClinicianKey, req.When, req.Specialty)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, scheduleResponse{ID: id})
}

// List は患者の予約を予約日時の昇順で返す。
// GET /api/identities/{key}/appointments
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !h.guard.allow(w, r, key) {
		return
	}

	appointments := []appointmentResponse{}
	for a, err := range h.service.ListAppointments(r.Context(), key) {
		if err != nil {
			handleServiceError(w, err)
			return
		}
		appointments = append(appointments, appointmentResponse{
			ID:           a.ID,
			PatientKey:   a.PatientKey,
			ClinicianKey: a.ClinicianKey,
			ScheduledAt:  a.ScheduledAt,
			Specialty:    a.Specialty,
			Status:       string(a.Status),
		})
	}
	writeJSON(w, http.StatusOK, appointments)
}

// Reminder は予約のリマインダー本文を返す。期限切れの場合は404を返す。
// GET /api/identities/{key}/reminder?when=...
func (h *AppointmentHandler) Reminder(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !h.guard.allow(w, r, key) {
		return
	}

	msg, found, err := h.service.GetReminder(r.Context(), key, r.URL.Query().Get("when"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !found {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "REMINDER_NOT_FOUND",
			Message:  "リマインダーが見つかりません。",
			Category: model.CategoryNotFound,
			Action:   "予約日時を確認してください。リマインダーは一定時間で失効します。",
			Key:      key,
		})
		return
	}
	writeJSON(w, http.StatusOK, reminderResponse{PatientKey: key, Message: msg})
}
