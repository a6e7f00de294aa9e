package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// SendResult は送信エラーの分類。
type SendResult int

const (
	// SendResultOK は送信成功。
	SendResultOK SendResult = iota
	// SendResultStop は再送しても結果が変わらない失敗（4xx）。
	SendResultStop
	// SendResultRetry は再送で回復しうる失敗（429/5xx/通信エラー）。
	SendResultRetry
)

const (
	// initialBackoff は再送の初回遅延。
	initialBackoff = 200 * time.Millisecond
	// maxBackoff は再送遅延の上限。
	maxBackoff = 2 * time.Second
)

// ClassifySendError は送信エラーを再送の要否で分類する。
func ClassifySendError(err error) SendResult {
	if err == nil {
		return SendResultOK
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return SendResultStop
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429:
			return SendResultRetry
		case se.StatusCode >= 500:
			return SendResultRetry
		default:
			return SendResultStop
		}
	}
	return SendResultRetry
}

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回200ミリ秒、2倍ずつ増加、最大2秒。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// RetryingNotifier は一時的な失敗を指数バックオフで再送するNotifier。
type RetryingNotifier struct {
	next        Notifier
	maxAttempts int
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewRetryingNotifier はRetryingNotifierを生成する。maxAttemptsは初回を含む送信回数。
func NewRetryingNotifier(next Notifier, maxAttempts int, logger *slog.Logger) *RetryingNotifier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingNotifier{
		next:        next,
		maxAttempts: maxAttempts,
		logger:      logger,
		sleep:       sleepContext,
	}
}

// Send は送信に成功するか、再送不要な失敗か、試行回数の上限に達するまで送信する。
// 最後のエラーを返す。
func (n *RetryingNotifier) Send(ctx context.Context, to, subject, body string) error {
	var err error
	for attempt := 0; attempt < n.maxAttempts; attempt++ {
		if attempt > 0 {
			if serr := n.sleep(ctx, CalculateBackoff(attempt-1)); serr != nil {
				return err
			}
		}

		err = n.next.Send(ctx, to, subject, body)
		switch ClassifySendError(err) {
		case SendResultOK:
			return nil
		case SendResultStop:
			return err
		}

		n.logger.WarnContext(ctx, "通知の送信に失敗しました。再送します",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", n.maxAttempts),
			slog.String("error", err.Error()),
		)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Notifier = (*RetryingNotifier)(nil)
