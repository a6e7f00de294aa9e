// Package notify は患者・医師への通知送信を提供する。
// 送信失敗の扱い（ログ・メトリクス）は呼び出し側が決める。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Notifier は通知を送信するインターフェース。
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogNotifier は通知を構造化ログとして出力する。
// 外部の送信先が設定されていない環境でのメール送信の代替。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier はLogNotifierを生成する。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send は通知内容をINFOレベルで記録する。
func (n *LogNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.logger.InfoContext(ctx, "通知を送信しました",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.Int("body_length", len(body)),
	)
	return nil
}

// webhookPayload はWebhookに送信するJSON本文。
type webhookPayload struct {
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// maxErrorBody はエラー時にログへ含めるレスポンス本文の上限バイト数。
const maxErrorBody = 512

// WebhookNotifier は通知をJSONでWebhookにPOSTする。
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier はWebhookNotifierを生成する。
// clientにはsecurity.OutboundGuardが生成するクライアントを渡すことを想定している。
func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: client, now: time.Now}
}

// Send は通知をPOSTする。2xx以外のレスポンスはエラーとして返す。
func (n *WebhookNotifier) Send(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(webhookPayload{
		To:      to,
		Subject: subject,
		Body:    body,
		SentAt:  n.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// StatusError はWebhookが2xx以外を返したことを表す。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("notification endpoint returned %d: %s", e.StatusCode, e.Body)
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
)
