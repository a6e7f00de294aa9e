// Package relationship は医師から患者へのフォロー関係をグラフストアに保持し、
// ドキュメントストアとの参照整合性を手続き的に保証する。
//
// グラフストアは外部キーを持たないため、エッジは両端の識別情報を確認してから作成する。
// 過去の不正な書き込みで生じた形状不正ノード（キーが数字のみでないもの）は
// 監査で検出し、計画を確認したうえでそのノードへのエッジのみを削除する。
package relationship

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/vidasana/internal/metrics"
	"github.com/hitoshi/vidasana/internal/model"
	"github.com/hitoshi/vidasana/internal/repository"
)

// DetectLimit は1回の監査で返す不正ノードの上限件数。
const DetectLimit = 100

// PurgePlan はエッジ削除の前に作成する計画。
// PurgeInvalidEdgesはこの計画なしでは実行できない。
type PurgePlan struct {
	Nodes     []model.NodeDescriptor // 形状不正なノード（最大DetectLimit件）
	EdgeCount int64                  // 削除対象のエッジ数
	Pattern   string                 // 有効なキーの正規表現
	PlannedAt time.Time
}

// Engine はフォロー関係の作成・参照と整合性監査を行う。
type Engine struct {
	identities   repository.IdentityRepository
	graph        repository.RelationshipStore
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	storeTimeout time.Duration
	now          func() time.Time
}

// NewEngine はEngineを生成する。
func NewEngine(
	identities repository.IdentityRepository,
	graph repository.RelationshipStore,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	storeTimeout time.Duration,
) *Engine {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Engine{
		identities:   identities,
		graph:        graph,
		metrics:      mc,
		logger:       logger,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

// Follow は医師から患者へのフォローエッジを作成する。
// 両端がドキュメントストアに正しいロールで存在することを、グラフへの書き込み前に確認する。
// ノードとエッジはMERGEで作成するため、同じ組み合わせで何度呼んでも結果は変わらない。
func (e *Engine) Follow(ctx context.Context, clinicianKey, patientKey string) error {
	clinician, err := e.findIdentity(ctx, clinicianKey)
	if err != nil {
		return err
	}
	if clinician == nil || clinician.Role != model.RoleClinician {
		return model.NewUnknownIdentityError("clinician", clinicianKey)
	}

	patient, err := e.findIdentity(ctx, patientKey)
	if err != nil {
		return err
	}
	if patient == nil || patient.Role != model.RolePatient {
		return model.NewUnknownIdentityError("patient", patientKey)
	}

	for _, node := range []model.GraphNode{model.NodeFromIdentity(clinician), model.NodeFromIdentity(patient)} {
		if err := e.upsertNode(ctx, node); err != nil {
			return err
		}
	}

	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	if err := e.graph.UpsertEdge(sctx, clinicianKey, patientKey); err != nil {
		e.logger.Error("フォローエッジの作成に失敗しました",
			slog.String("clinician_key", clinicianKey),
			slog.String("patient_key", patientKey),
			slog.String("error", err.Error()),
		)
		return model.NewStoreUnavailableError("relationship", err)
	}

	e.logger.Info("フォロー関係を作成しました",
		slog.String("clinician_key", clinicianKey),
		slog.String("patient_key", patientKey),
	)
	return nil
}

// ListFollowed は医師がフォローしている患者を返す。
func (e *Engine) ListFollowed(ctx context.Context, clinicianKey string) ([]model.FollowedIdentity, error) {
	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	followed, err := e.graph.QueryFollowed(sctx, clinicianKey)
	if err != nil {
		return nil, model.NewStoreUnavailableError("relationship", err)
	}
	return followed, nil
}

// ListNetwork は医師から患者へのフォロー関係をすべて返す。管理用の読み取り操作。
func (e *Engine) ListNetwork(ctx context.Context) ([]model.FollowEdge, error) {
	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	edges, err := e.graph.QueryEdges(sctx)
	if err != nil {
		e.logger.Error("フォロー関係一覧の取得に失敗しました", slog.String("error", err.Error()))
		return nil, model.NewStoreUnavailableError("relationship", err)
	}
	return edges, nil
}

// RegisterNode は登録直後の識別情報をグラフに反映する。
// 表示属性は先に作成されたノードの値が残る。
func (e *Engine) RegisterNode(ctx context.Context, identity *model.Identity) error {
	return e.upsertNode(ctx, model.NodeFromIdentity(identity))
}

// DetectInvalidNodes はキーの形状が不正なノードを最大DetectLimit件返す。
// 読み取りのみで、グラフは変更しない。
func (e *Engine) DetectInvalidNodes(ctx context.Context) ([]model.NodeDescriptor, error) {
	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	nodes, err := e.graph.QueryInvalidNodes(sctx, model.ValidKeyPattern, DetectLimit)
	if err != nil {
		return nil, model.NewStoreUnavailableError("relationship", err)
	}
	e.metrics.RecordInvalidNodes(len(nodes))
	return nodes, nil
}

// PlanPurge は削除対象の不正ノードとエッジ数を集計した計画を返す。読み取りのみ。
func (e *Engine) PlanPurge(ctx context.Context) (*PurgePlan, error) {
	nodes, err := e.DetectInvalidNodes(ctx)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	edges, err := e.graph.CountEdgesToInvalid(sctx, model.ValidKeyPattern)
	if err != nil {
		return nil, model.NewStoreUnavailableError("relationship", err)
	}

	plan := &PurgePlan{
		Nodes:     nodes,
		EdgeCount: edges,
		Pattern:   model.ValidKeyPattern,
		PlannedAt: e.now(),
	}
	e.logger.Info("エッジ削除計画を作成しました",
		slog.Int("invalid_node_count", len(nodes)),
		slog.Int64("edge_count", edges),
	)
	return plan, nil
}

// PurgeInvalidEdges は計画に基づき、形状不正なノードへのエッジのみを削除する。
// ノードは削除しない。計画のエッジ数が0の場合はストアに書き込まない。
func (e *Engine) PurgeInvalidEdges(ctx context.Context, plan *PurgePlan) (int64, error) {
	if plan == nil {
		return 0, model.NewPurgeNotPlannedError()
	}
	if plan.EdgeCount == 0 {
		e.logger.Info("削除対象のエッジはありません")
		return 0, nil
	}

	pattern := plan.Pattern
	if pattern == "" {
		pattern = model.ValidKeyPattern
	}

	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	deleted, err := e.graph.DeleteEdgesTo(sctx, pattern)
	if err != nil {
		e.logger.Error("不正エッジの削除に失敗しました", slog.String("error", err.Error()))
		return 0, model.NewStoreUnavailableError("relationship", err)
	}

	e.metrics.RecordEdgesPurged(deleted)
	e.logger.Info("不正エッジの削除が完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int64("planned_count", plan.EdgeCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}

func (e *Engine) findIdentity(ctx context.Context, key string) (*model.Identity, error) {
	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	identity, err := e.identities.FindByKey(sctx, key)
	if err != nil {
		return nil, model.NewStoreUnavailableError("identity", err)
	}
	return identity, nil
}

func (e *Engine) upsertNode(ctx context.Context, node model.GraphNode) error {
	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	if err := e.graph.UpsertNode(sctx, node); err != nil {
		e.logger.Error("ノードの作成に失敗しました",
			slog.String("identity_key", node.Key),
			slog.String("error", err.Error()),
		)
		return model.NewStoreUnavailableError("relationship", err)
	}
	return nil
}
