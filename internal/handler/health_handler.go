package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Pinger はストアの疎通確認に必要なインターフェース。
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler はストアの疎通を確認するヘルスチェックハンドラー。
type HealthHandler struct {
	stores  map[string]Pinger
	timeout time.Duration
}

// NewHealthHandler はHealthHandlerを生成する。storesのキーはレスポンスに出すストア名。
func NewHealthHandler(stores map[string]Pinger, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{stores: stores, timeout: timeout}
}

type healthResponse struct {
	Status string            `json:"status"`
	Stores map[string]string `json:"stores"`
}

// Health はすべてのストアに疎通確認を行う。1つでも失敗すれば503を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.stores))
	for name := range h.stores {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{Status: "ok", Stores: make(map[string]string, len(names))}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		err := h.stores[name].Ping(ctx)
		cancel()
		if err != nil {
			slog.Warn("ストアの疎通確認に失敗しました",
				slog.String("store", name),
				slog.String("error", err.Error()),
			)
			resp.Stores[name] = "unavailable"
			resp.Status = "degraded"
			continue
		}
		resp.Stores[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
