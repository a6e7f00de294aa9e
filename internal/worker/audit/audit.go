// Package audit はフォロー関係グラフの定期監査ジョブを提供する。
// キー形式が不正なノードを検出し、削除対象となるエッジ数を見積もってログに残す。
// 削除は行わない。削除はpurgeサブコマンドで明示的に確認した場合のみ実行する。
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/vidasana/internal/model"
	"github.com/hitoshi/vidasana/internal/relationship"
)

// GraphAuditor は監査に必要なグラフ操作を抽象化するインターフェース。
// relationship.Engineの読み取り専用の部分集合。
type GraphAuditor interface {
	DetectInvalidNodes(ctx context.Context) ([]model.NodeDescriptor, error)
	PlanPurge(ctx context.Context) (*relationship.PurgePlan, error)
}

// Report は監査1回分の結果。
type Report struct {
	InvalidNodes []model.NodeDescriptor
	Plan         *relationship.PurgePlan
}

// AuditJob は不正ノードの検出と削除計画の作成を行うジョブ。
// 冪等で、何度実行してもグラフを変更しない。
type AuditJob struct {
	graph  GraphAuditor
	logger *slog.Logger
}

// NewAuditJob は新しいAuditJobを生成する。
func NewAuditJob(graph GraphAuditor, logger *slog.Logger) *AuditJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditJob{graph: graph, logger: logger}
}

// Start はintervalごとに監査を実行する。ctxがキャンセルされるまでブロックする。
// 起動直後に1回実行する。
func (j *AuditJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("グラフ監査ジョブを開始しました", slog.Duration("interval", interval))

	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.Error("グラフ監査の実行に失敗しました", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("グラフ監査ジョブを停止しました")
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Error("グラフ監査の実行に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce は不正ノードを検出し、削除計画を作成する。
// 検出したノードは1件ずつWarnログに記録する。
func (j *AuditJob) RunOnce(ctx context.Context) (*Report, error) {
	start := time.Now()

	nodes, err := j.graph.DetectInvalidNodes(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		j.logger.Warn("キー形式が不正なノードを検出しました",
			slog.String("node_id", n.NodeID),
			slog.String("key", n.Key),
			slog.String("first_name", n.FirstName),
			slog.String("last_name", n.LastName),
		)
	}

	plan, err := j.graph.PlanPurge(ctx)
	if err != nil {
		return nil, err
	}

	j.logger.Info("グラフ監査が完了しました",
		slog.Int("invalid_node_count", len(nodes)),
		slog.Int64("planned_edge_count", plan.EdgeCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return &Report{InvalidNodes: nodes, Plan: plan}, nil
}
