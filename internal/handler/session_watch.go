package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/vidasana/internal/session"
)

// SessionWatcher はセッション残り時間の監視に必要なインターフェース。
type SessionWatcher interface {
	WatchSession(ctx context.Context, key string, onTick func(time.Duration), onExpire func(session.ExpireReason)) *session.Watch
}

// sessionEvent はServer-Sent Eventsで送る1件のイベント。
type sessionEvent struct {
	name    string
	payload any
	final   bool
}

type tickPayload struct {
	RemainingSeconds int64 `json:"remaining_seconds"`
}

type expiredPayload struct {
	Reason string `json:"reason"`
}

type endedPayload struct {
	Reason string `json:"reason"`
}

// SessionWatchHandler はセッション残り時間をServer-Sent Eventsで配信するハンドラー。
type SessionWatchHandler struct {
	watcher SessionWatcher
}

// NewSessionWatchHandler はSessionWatchHandlerを生成する。
func NewSessionWatchHandler(watcher SessionWatcher) *SessionWatchHandler {
	return &SessionWatchHandler{watcher: watcher}
}

// Watch は残り時間をtickイベントとして送り、失効したらexpiredイベントを送って終了する。
// 同じ識別キーの監視は1つまでで、別のタブなどから新しい監視が始まると古いストリームは
// endedイベント（reason: replaced）を送って終了する。ログアウトではreason: stopped、
// サーバー停止ではreason: shutdownになる。クライアントが切断した場合は何も送らずに終了する。
// GET /api/sessions/me/watch
func (h *SessionWatchHandler) Watch(w http.ResponseWriter, r *http.Request) {
	key, ok := callerKey(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	// サーバー全体の書き込みタイムアウトはストリームには適用しない
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("書き込み期限を解除できません", slog.String("error", err.Error()))
	}

	ctx := r.Context()
	events := make(chan sessionEvent, 1)
	send := func(ev sessionEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	watch := h.watcher.WatchSession(ctx, key,
		func(ttl time.Duration) {
			send(sessionEvent{name: "tick", payload: tickPayload{RemainingSeconds: int64(ttl.Seconds())}})
		},
		func(reason session.ExpireReason) {
			send(sessionEvent{name: "expired", payload: expiredPayload{Reason: string(reason)}, final: true})
		},
	)
	defer watch.Stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	rc.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if !writeEvent(w, rc, ev) || ev.final {
				return
			}
		case <-watch.Done():
			// 監視終了前に送られたイベントを書き出してから終了する
			for {
				select {
				case ev := <-events:
					if !writeEvent(w, rc, ev) || ev.final {
						return
					}
				default:
					if reason := watch.StopReason(); reason != session.StopReasonNone {
						writeEvent(w, rc, sessionEvent{name: "ended", payload: endedPayload{Reason: string(reason)}, final: true})
					}
					return
				}
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, ev sessionEvent) bool {
	data, err := json.Marshal(ev.payload)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, data); err != nil {
		return false
	}
	return rc.Flush() == nil
}
