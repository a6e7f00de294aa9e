package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/vidasana/internal/habit"
	"github.com/hitoshi/vidasana/internal/model"
)

// HabitServiceInterface は生活習慣ハンドラーが必要とするサービスインターフェース。
type HabitServiceInterface interface {
	RecordHabit(ctx context.Context, in habit.Input) (*model.HabitLog, error)
	ListHabits(ctx context.Context, key, from, to string) ([]*model.HabitLog, error)
}

// HabitHandler は生活習慣記録のHTTPハンドラー。
type HabitHandler struct {
	service HabitServiceInterface
	guard   accessGuard
}

// NewHabitHandler はHabitHandlerを生成する。
func NewHabitHandler(service HabitServiceInterface, identities IdentityLookup) *HabitHandler {
	return &HabitHandler{service: service, guard: accessGuard{identities: identities}}
}

type habitRequest struct {
	Sleep             string `json:"sleep"`
	Diet              string `json:"diet"`
	Symptoms          string `json:"symptoms"`
	Exercise          string `json:"exercise"`
	ExerciseFrequency int    `json:"exercise_frequency"`
	Stress            int    `json:"stress"`
}

type habitResponse struct {
	ID                string    `json:"id"`
	IdentityKey       string    `json:"identity_key"`
	Day               string    `json:"day"`
	Sleep             string    `json:"sleep"`
	Diet              string    `json:"diet"`
	Symptoms          string    `json:"symptoms"`
	Exercise          string    `json:"exercise"`
	ExerciseFrequency int       `json:"exercise_frequency"`
	Stress            int       `json:"stress"`
	RecordedAt        time.Time `json:"recorded_at"`
}

type habitListResponse struct {
	Habits  []habitResponse `json:"habits"`
	Summary *habit.Summary  `json:"summary"`
}

// Record は呼び出し元の当日の生活習慣を記録する。
// POST /api/habits
func (h *HabitHandler) Record(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerKey(w, r)
	if !ok {
		return
	}

	var req habitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	log, err := h.service.RecordHabit(r.Context(), habit.Input{
		IdentityKey:       caller,
		Sleep:             req.Sleep,
		Diet:              req.Diet,
		Symptoms:          req.Symptoms,
		Exercise:          req.Exercise,
		ExerciseFrequency: req.ExerciseFrequency,
		Stress:            req.Stress,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHabitResponse(log))
}

// List は記録を日付の降順で返し、直近の集計を添える。
// GET /api/identities/{key}/habits?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *HabitHandler) List(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !h.guard.allow(w, r, key) {
		return
	}

	q := r.URL.Query()
	logs, err := h.service.ListHabits(r.Context(), key, q.Get("from"), q.Get("to"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := habitListResponse{Habits: make([]habitResponse, 0, len(logs))}
	for _, l := range logs {
		resp.Habits = append(resp.Habits, toHabitResponse(l))
	}
	if summary, ok := habit.Summarize(logs); ok {
		resp.Summary = &summary
	}
	writeJSON(w, http.StatusOK, resp)
}

func toHabitResponse(l *model.HabitLog) habitResponse {
	return habitResponse{
		ID:                l.ID,
		IdentityKey:       l.IdentityKey,
		Day:               l.Day,
		Sleep:             l.Sleep,
		Diet:              l.Diet,
		Symptoms:          l.Symptoms,
		Exercise:          l.Exercise,
		ExerciseFrequency: l.ExerciseFrequency,
		Stress:            l.Stress,
		RecordedAt:        l.RecordedAt,
	}
}
