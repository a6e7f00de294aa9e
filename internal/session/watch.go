package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpireReason はセッション監視が終了した理由を表す。
type ExpireReason string

const (
	// ExpireReasonExpired はTTLが0に達したかエントリが消えたことを表す。
	ExpireReasonExpired ExpireReason = "expired"
	// ExpireReasonUnknown はストア障害が続き、状態を確認できなくなったことを表す。
	ExpireReasonUnknown ExpireReason = "unknown"
)

// StopReason は監視が外部から停止された理由を表す。
type StopReason string

const (
	// StopReasonNone は監視が停止されていないか、失効により自ら終了したことを表す。
	StopReasonNone StopReason = ""
	// StopReasonStopped は呼び出し側のStopまたはセッション終了による停止を表す。
	StopReasonStopped StopReason = "stopped"
	// StopReasonReplaced は同じキーの新しい監視に置き換えられたことを表す。
	StopReasonReplaced StopReason = "replaced"
	// StopReasonShutdown はManagerのCloseによる停止を表す。
	StopReasonShutdown StopReason = "shutdown"
)

// Watch は1つのセッションに対するバックグラウンド監視のハンドル。
type Watch struct {
	key      string
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	reason StopReason
}

// Key は監視対象の識別キーを返す。
func (w *Watch) Key() string {
	return w.key
}

// Stop は監視を停止する。onExpireは呼ばれない。複数回呼んでもよい。
func (w *Watch) Stop() {
	w.stop(StopReasonStopped)
}

// StopReason は監視を停止した理由を返す。最初の停止理由のみが記録される。
func (w *Watch) StopReason() StopReason {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reason
}

func (w *Watch) stop(reason StopReason) {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.reason = reason
		w.mu.Unlock()
		w.cancel()
	})
}

// Done は監視のゴルーチンが終了したときにcloseされるチャネルを返す。
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// runWatch は残り時間を即時に1回、その後WatchIntervalごとに確認する。
// onExpireは終了時に最大1回だけ呼ぶ。キャンセルによる終了では呼ばない。
func (m *Manager) runWatch(ctx context.Context, key string, onTick func(time.Duration), onExpire func(ExpireReason)) {
	logger := m.logger.With(slog.String("identity_key", key))

	ticker := time.NewTicker(m.cfg.WatchInterval)
	defer ticker.Stop()

	failures := 0
	for {
		ttl, ok, err := m.poll(ctx, key)
		if ctx.Err() != nil {
			logger.Debug("セッション監視を停止しました")
			return
		}

		switch {
		case err != nil:
			failures++
			logger.Warn("セッション残り時間の取得に失敗しました",
				slog.Int("consecutive_failures", failures),
				slog.String("error", err.Error()),
			)
			if failures >= m.cfg.MaxWatchFailures {
				m.expire(logger, onExpire, ExpireReasonUnknown)
				return
			}
		case !ok || ttl <= 0:
			m.expire(logger, onExpire, ExpireReasonExpired)
			return
		default:
			failures = 0
			if onTick != nil {
				onTick(ttl)
			}
		}

		select {
		case <-ctx.Done():
			logger.Debug("セッション監視を停止しました")
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) poll(ctx context.Context, key string) (time.Duration, bool, error) {
	sctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()
	return m.store.RemainingTTL(sctx, StoreKey(key))
}

func (m *Manager) expire(logger *slog.Logger, onExpire func(ExpireReason), reason ExpireReason) {
	m.metrics.RecordSessionExpired(string(reason))
	logger.Info("セッション監視が終了しました", slog.String("reason", string(reason)))
	if onExpire != nil {
		onExpire(reason)
	}
}
