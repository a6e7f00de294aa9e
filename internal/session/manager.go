// Package session はアクセスセッションのライフサイクルを管理する。
// セッションはTTL付きキーバリューストアの access:<key> エントリとして表現され、
// 発行・確認・残り時間の監視・終了を提供する。
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/vidasana/internal/metrics"
	"github.com/hitoshi/vidasana/internal/model"
	"github.com/hitoshi/vidasana/internal/repository"
)

// KeyPrefix はセッションエントリのキー接頭辞。
const KeyPrefix = "access:"

// activeValue はセッションエントリに書き込む値。存在とTTLのみが意味を持つ。
const activeValue = "active"

// StoreKey は識別キーからセッションエントリのキーを組み立てる。
func StoreKey(identityKey string) string {
	return KeyPrefix + identityKey
}

// Config はセッション管理の設定を保持する。
type Config struct {
	TTL              time.Duration // セッションの有効期間（デフォルト: 1時間）
	WatchInterval    time.Duration // 残り時間のポーリング間隔（デフォルト: 30秒）
	MaxWatchFailures int           // 監視を諦めるまでの連続失敗回数（デフォルト: 3）
	StoreTimeout     time.Duration // ストア呼び出し1回あたりのタイムアウト（デフォルト: 5秒）
}

// DefaultConfig はデフォルトのセッション設定を返す。
func DefaultConfig() Config {
	return Config{
		TTL:              time.Hour,
		WatchInterval:    30 * time.Second,
		MaxWatchFailures: 3,
		StoreTimeout:     5 * time.Second,
	}
}

// Manager はセッションの発行・確認・監視を行う。
// 同じ識別キーに対する監視は最大1つで、新しい監視は古い監視を置き換える。
type Manager struct {
	store   repository.EphemeralStore
	cfg     Config
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	mu      sync.Mutex
	watches map[string]*Watch
	closed  bool
}

// NewManager はManagerを生成する。
func NewManager(store repository.EphemeralStore, cfg Config, logger *slog.Logger, mc metrics.MetricsCollector) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = def.WatchInterval
	}
	if cfg.MaxWatchFailures < 1 {
		cfg.MaxWatchFailures = def.MaxWatchFailures
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	return &Manager{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: mc,
		watches: make(map[string]*Watch),
	}
}

// IssueSession はセッションを発行し、設定したTTLを返す。
// 既存のセッションは上書きされ、TTLは満了値にリセットされる。
func (m *Manager) IssueSession(ctx context.Context, key string) (time.Duration, error) {
	if !model.IsValidKey(key) {
		return 0, model.NewInvalidKeyError(key)
	}

	sctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()

	if err := m.store.SetWithTTL(sctx, StoreKey(key), activeValue, m.cfg.TTL); err != nil {
		m.logger.Error("セッションの発行に失敗しました",
			slog.String("identity_key", key),
			slog.String("error", err.Error()),
		)
		return 0, model.NewStoreUnavailableError("ephemeral", err)
	}

	m.metrics.RecordSessionIssued()
	m.logger.Info("セッションを発行しました",
		slog.String("identity_key", key),
		slog.Float64("ttl_seconds", m.cfg.TTL.Seconds()),
	)
	return m.cfg.TTL, nil
}

// CheckSession はセッションが有効かどうかを返す。
// ストア障害はfalseではなくエラーとして返す。fail-open/fail-closedの判断は呼び出し側が行う。
func (m *Manager) CheckSession(ctx context.Context, key string) (bool, error) {
	sctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()

	_, ok, err := m.store.Get(sctx, StoreKey(key))
	if err != nil {
		return false, model.NewStoreUnavailableError("ephemeral", err)
	}
	return ok, nil
}

// RemainingTTL はセッションの残り時間を返す。
// セッションが存在しない場合とTTLを持たない場合はokがfalseになる。
func (m *Manager) RemainingTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	sctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()

	ttl, ok, err := m.store.RemainingTTL(sctx, StoreKey(key))
	if err != nil {
		return 0, false, model.NewStoreUnavailableError("ephemeral", err)
	}
	return ttl, ok, nil
}

// EndSession はセッションを削除し、そのキーの監視を停止する。
// 停止した監視のonExpireは呼ばれない。
func (m *Manager) EndSession(ctx context.Context, key string) error {
	m.stopWatch(key)

	sctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()

	if err := m.store.Delete(sctx, StoreKey(key)); err != nil {
		return model.NewStoreUnavailableError("ephemeral", err)
	}
	m.logger.Info("セッションを終了しました", slog.String("identity_key", key))
	return nil
}

// WatchSession はセッションの残り時間をバックグラウンドで監視する。
// 同じキーの既存の監視は停止され（StopReasonReplaced）、新しい監視に置き換えられる。
// Close後に呼ばれた場合は即座に終了済みのWatchを返す。
func (m *Manager) WatchSession(ctx context.Context, key string, onTick func(time.Duration), onExpire func(ExpireReason)) *Watch {
	wctx, cancel := context.WithCancel(ctx)
	w := &Watch{
		key:    key,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		w.reason = StopReasonShutdown
		cancel()
		close(w.done)
		return w
	}
	prev := m.watches[key]
	m.watches[key] = w
	m.mu.Unlock()

	if prev != nil {
		prev.stop(StopReasonReplaced)
	}

	go func() {
		defer close(w.done)
		defer m.release(w)
		m.runWatch(wctx, key, onTick, onExpire)
	}()

	return w
}

// ActiveWatches は現在動作中の監視数を返す。テストおよび運用確認用。
func (m *Manager) ActiveWatches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

// Close はすべての監視を停止し、終了を待つ。
// 以降のWatchSessionは監視を開始しない。
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	watches := make([]*Watch, 0, len(m.watches))
	for _, w := range m.watches {
		watches = append(watches, w)
	}
	m.mu.Unlock()

	for _, w := range watches {
		w.stop(StopReasonShutdown)
		<-w.Done()
	}
}

func (m *Manager) stopWatch(key string) {
	m.mu.Lock()
	w := m.watches[key]
	m.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

// release は終了した監視を登録から外す。置き換え済みの場合は何もしない。
func (m *Manager) release(w *Watch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watches[w.key] == w {
		delete(m.watches, w.key)
	}
}
