package app

import (
	"io"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はグラフ監査ワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はドキュメントストアとグラフストアのスキーマを適用することを示す。
	CommandMigrate Command = "migrate"
	// CommandPurge は不正ノードへのエッジ削除を計画し、--confirm指定時のみ実行することを示す。
	CommandPurge Command = "purge"
	// CommandNetwork は医師から患者へのフォロー関係をすべて出力することを示す。
	CommandNetwork Command = "network"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// runners は各サブコマンドの実処理。テストで差し替えられるよう関数値で保持する。
type runners struct {
	serve       func(cmd *cobra.Command) error
	worker      func(cmd *cobra.Command) error
	migrate     func(cmd *cobra.Command) error
	purge       func(cmd *cobra.Command, confirm bool) error
	network     func(cmd *cobra.Command) error
	healthcheck func(cmd *cobra.Command) error
}

// newRootCommand はサブコマンドを登録したルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして起動する。
func newRootCommand(w io.Writer, r runners) *cobra.Command {
	root := &cobra.Command{
		Use:           "vidasana",
		Short:         "患者・医師の識別情報、セッション、予約、フォロー関係を扱うAPIサーバー",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.serve(cmd)
		},
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(&cobra.Command{
		Use:   string(CommandServe),
		Short: "APIサーバーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.serve(cmd)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   string(CommandWorker),
		Short: "グラフ監査ジョブを定期実行する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.worker(cmd)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   string(CommandMigrate),
		Short: "インデックスと制約を適用する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.migrate(cmd)
		},
	})

	var confirm bool
	purgeCmd := &cobra.Command{
		Use:   string(CommandPurge),
		Short: "キー形式が不正なノードへのエッジを削除する（--confirmなしでは計画のみ）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.purge(cmd, confirm)
		},
	}
	purgeCmd.Flags().BoolVar(&confirm, "confirm", false, "計画を表示したうえでエッジを削除する")
	root.AddCommand(purgeCmd)

	root.AddCommand(&cobra.Command{
		Use:   string(CommandNetwork),
		Short: "医師から患者へのフォロー関係をJSON Linesで出力する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.network(cmd)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "起動中のAPIサーバーの /health を確認する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.healthcheck(cmd)
		},
	})

	return root
}
