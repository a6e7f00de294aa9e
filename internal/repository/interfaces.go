// Package repository はデータ永続化のインターフェースを定義する。
// ドキュメントストア（識別情報・予約・生活習慣）、TTL付きキーバリューストア（セッション・リマインダー）、
// グラフストア（フォロー関係）の3種類を扱う。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/vidasana/internal/model"
)

// IdentityRepository は識別情報（患者・医師）の永続化インターフェース。
// 自然キー（国民ID）の一意性はストア側のユニークインデックスで保証する。
type IdentityRepository interface {
	// FindByKey は指定キーの識別情報を取得する。見つからない場合はnilを返す。
	FindByKey(ctx context.Context, key string) (*model.Identity, error)

	// Insert は識別情報を作成し、ストア内部のIDを返す。
	// 同じキーが既に存在する場合はmodel.ErrCodeDuplicateIdentityのAPIErrorを返す。
	Insert(ctx context.Context, identity *model.Identity) (string, error)

	// AppendHistory は診療履歴を末尾に追記する。
	// キーが存在しない場合はmodel.ErrCodeIdentityNotFoundのAPIErrorを返す。
	AppendHistory(ctx context.Context, key string, entry model.HistoryEntry) error

	// Ping はストアへの疎通を確認する。
	Ping(ctx context.Context) error
}

// AppointmentRepository は診療予約の永続化インターフェース。
type AppointmentRepository interface {
	// Create は予約を作成する。
	Create(ctx context.Context, appointment *model.Appointment) error

	// OpenByPatient は患者の予約を予約日時の昇順で読み出すカーソルを開く。
	// カーソル状態は呼び出しを跨いで保持しない。
	OpenByPatient(ctx context.Context, patientKey string) (AppointmentCursor, error)
}

// AppointmentCursor は予約を1件ずつ読み出すカーソル。
// ctxはその呼び出しの間だけ使われるため、呼び出しごとにタイムアウトを設定できる。
type AppointmentCursor interface {
	// Next は次の予約を返す。終端に達した場合はokがfalseになる。
	Next(ctx context.Context) (appointment model.Appointment, ok bool, err error)

	// Close はカーソルを閉じる。複数回呼んでもよい。
	Close(ctx context.Context) error
}

// HabitRepository は生活習慣記録の永続化インターフェース。
type HabitRepository interface {
	// Create は記録を作成する。同日の記録が既に存在する場合はmodel.ErrCodeDuplicateHabitのAPIErrorを返す。
	Create(ctx context.Context, log *model.HabitLog) error

	// FindByDay は指定日の記録を取得する。見つからない場合はnilを返す。
	FindByDay(ctx context.Context, identityKey, day string) (*model.HabitLog, error)

	// ListByIdentity は記録を日付の降順で返す。
	// from/toが空文字列の場合はその方向の範囲を制限しない（両端を含む）。
	ListByIdentity(ctx context.Context, identityKey, from, to string) ([]*model.HabitLog, error)
}

// EphemeralStore はキーごとにTTLを持つキーバリューストアのインターフェース。
// アクセスセッションと予約リマインダーに使用する。
type EphemeralStore interface {
	// SetWithTTL は値を書き込み、TTLを設定する。既存の値とTTLは上書きされる。
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Get は値を取得する。キーが存在しない場合はokがfalseになる。
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// RemainingTTL は残りTTLを返す。
	// キーが存在しない場合とTTLを持たない場合はどちらもokがfalseになる。
	RemainingTTL(ctx context.Context, key string) (ttl time.Duration, ok bool, err error)

	// Delete はキーを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error

	// Ping はストアへの疎通を確認する。
	Ping(ctx context.Context) error
}

// RelationshipStore は人物ノードと有向フォローエッジを保持するグラフストアのインターフェース。
// ドキュメントストアへの外部キー機構を持たないため、参照整合性は呼び出し側で手続き的に保証する。
type RelationshipStore interface {
	// UpsertNode はノードを冪等に作成する。
	// 表示属性はノードが存在しなかった場合のみ設定する（先勝ち）。
	UpsertNode(ctx context.Context, node model.GraphNode) error

	// UpsertEdge はfromKeyからtoKeyへのフォローエッジを冪等に作成する。
	UpsertEdge(ctx context.Context, fromKey, toKey string) error

	// QueryFollowed はfromKeyがフォローしているノードを返す。順序はストア依存。
	QueryFollowed(ctx context.Context, fromKey string) ([]model.FollowedIdentity, error)

	// QueryEdges はすべてのフォローエッジを医師キー・患者キーの順で返す。
	QueryEdges(ctx context.Context) ([]model.FollowEdge, error)

	// QueryInvalidNodes はキーがvalidPatternに一致しないノードを最大limit件返す。
	QueryInvalidNodes(ctx context.Context, validPattern string, limit int) ([]model.NodeDescriptor, error)

	// CountEdgesToInvalid は終点ノードのキーがvalidPatternに一致しないエッジ数を返す。
	CountEdgesToInvalid(ctx context.Context, validPattern string) (int64, error)

	// DeleteEdgesTo は終点ノードのキーがvalidPatternに一致しないエッジのみを削除し、削除件数を返す。
	// ノード自体は削除しない。
	DeleteEdgesTo(ctx context.Context, validPattern string) (int64, error)

	// Ping はストアへの疎通を確認する。
	Ping(ctx context.Context) error
}
