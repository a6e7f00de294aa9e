package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/vidasana/internal/metrics"
	"github.com/hitoshi/vidasana/internal/model"
	"github.com/hitoshi/vidasana/internal/notify"
	"github.com/hitoshi/vidasana/internal/repository"
)

// Evaluator は識別情報の履歴を読み込んでリスクを評価し、HIGHのとき本人へ警告を送る。
type Evaluator struct {
	identities   repository.IdentityRepository
	notifier     notify.Notifier
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	storeTimeout time.Duration
}

// NewEvaluator はEvaluatorを生成する。
func NewEvaluator(
	identities repository.IdentityRepository,
	notifier notify.Notifier,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	storeTimeout time.Duration,
) *Evaluator {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Evaluator{
		identities:   identities,
		notifier:     notifier,
		metrics:      mc,
		logger:       logger,
		storeTimeout: storeTimeout,
	}
}

// Evaluate は指定キーの履歴からリスクを算出する。
// 警告メールの送信失敗はログに残し、結果には影響させない。
func (e *Evaluator) Evaluate(ctx context.Context, key string) (Result, error) {
	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	identity, err := e.identities.FindByKey(sctx, key)
	cancel()
	if err != nil {
		return Result{}, model.NewStoreUnavailableError("identity", err)
	}
	if identity == nil {
		return Result{}, model.NewIdentityNotFoundError(key)
	}

	result := ScoreRisk(identity.History)
	e.metrics.RecordRiskAssessed(string(result.Level))
	e.logger.Info("リスク評価を実行しました",
		slog.String("identity_key", key),
		slog.Int("score", result.Score),
		slog.String("level", string(result.Level)),
	)

	if result.Alert {
		e.sendAlert(ctx, identity, result)
	}
	return result, nil
}

func (e *Evaluator) sendAlert(ctx context.Context, identity *model.Identity, result Result) {
	if identity.Email == "" {
		e.logger.Warn("警告の送信先が未登録です", slog.String("identity_key", identity.Key))
		return
	}

	body := fmt.Sprintf(
		"Estimado/a %s,\n\n"+
			"Se ha detectado un nivel de riesgo alto en su perfil médico.\n"+
			"Por favor, contacte a su médico de cabecera a la brevedad.\n\n"+
			"Nivel de Riesgo: %d/%d\n"+
			"Recomendación: Solicitar turno urgente para evaluación completa.",
		identity.DisplayName(), result.Score, MaxScore,
	)

	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	if err := e.notifier.Send(sctx, identity.Email, "Alerta Médica - Riesgo Detectado", body); err != nil {
		e.metrics.RecordNotificationFailure()
		e.logger.Error("リスク警告の送信に失敗しました",
			slog.String("identity_key", identity.Key),
			slog.String("error", err.Error()),
		)
	}
}
