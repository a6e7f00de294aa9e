package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hitoshi/vidasana/internal/appointment"
	"github.com/hitoshi/vidasana/internal/config"
	"github.com/hitoshi/vidasana/internal/database"
	"github.com/hitoshi/vidasana/internal/habit"
	"github.com/hitoshi/vidasana/internal/handler"
	"github.com/hitoshi/vidasana/internal/identity"
	"github.com/hitoshi/vidasana/internal/logger"
	"github.com/hitoshi/vidasana/internal/metrics"
	"github.com/hitoshi/vidasana/internal/middleware"
	"github.com/hitoshi/vidasana/internal/model"
	"github.com/hitoshi/vidasana/internal/notify"
	"github.com/hitoshi/vidasana/internal/relationship"
	"github.com/hitoshi/vidasana/internal/repository"
	"github.com/hitoshi/vidasana/internal/risk"
	"github.com/hitoshi/vidasana/internal/security"
	"github.com/hitoshi/vidasana/internal/session"
	"github.com/hitoshi/vidasana/internal/worker/audit"
)

// notifyTimeout は通知Webhook 1回あたりのタイムアウト。
const notifyTimeout = 10 * time.Second

// shutdownTimeout はグレースフルシャットダウンの待ち時間の上限。
const shutdownTimeout = 30 * time.Second

// notifyMaxAttempts は通知Webhookの最大送信回数（初回を含む）。
const notifyMaxAttempts = 3

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMを受信するとサブコマンドのcontextがキャンセルされる。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(w, runners{
		serve: func(cmd *cobra.Command) error {
			return withConfig(cmd, w, CommandServe, runServe)
		},
		worker: func(cmd *cobra.Command) error {
			return withConfig(cmd, w, CommandWorker, runWorker)
		},
		migrate: func(cmd *cobra.Command) error {
			return withConfig(cmd, w, CommandMigrate, runMigrate)
		},
		purge: func(cmd *cobra.Command, confirm bool) error {
			return withConfig(cmd, w, CommandPurge, func(ctx context.Context, cfg *config.Config) error {
				return runPurge(ctx, cfg, confirm)
			})
		},
		network: func(cmd *cobra.Command) error {
			return withConfig(cmd, w, CommandNetwork, func(ctx context.Context, cfg *config.Config) error {
				return runNetwork(ctx, cfg, cmd.OutOrStdout())
			})
		},
		// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
		healthcheck: func(cmd *cobra.Command) error {
			port := os.Getenv("SERVER_PORT")
			if port == "" {
				port = "8080"
			}
			return runHealthcheck(cmd.Context(), port)
		},
	})
	root.SetArgs(args)

	return root.ExecuteContext(ctx)
}

// withConfig は設定を読み込んでからサブコマンドを実行する。
func withConfig(cmd *cobra.Command, w io.Writer, name Command, run func(context.Context, *config.Config) error) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(name)),
		slog.String("port", cfg.ServerPort),
		slog.String("mongo_uri", maskURI(cfg.MongoURI)),
		slog.String("neo4j_uri", maskURI(cfg.Neo4jURI)),
	)

	return run(cmd.Context(), cfg)
}

// runServe はAPIサーバーモードで起動する。
// 3つのストアに接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// contextがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. ストア接続
	mongoClient, err := connectMongo(ctx, cfg)
	if err != nil {
		return err
	}
	defer mongoClient.Disconnect(context.Background())

	redisClient, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	graphDriver, err := connectNeo4j(ctx, cfg)
	if err != nil {
		return err
	}
	defer graphDriver.Close(context.Background())

	slog.Info("store connections established")

	// 2. リポジトリの初期化
	db := mongoClient.Database(cfg.MongoDatabase)
	identityRepo := repository.NewMongoIdentityRepo(db)
	appointmentRepo := repository.NewMongoAppointmentRepo(db)
	habitRepo := repository.NewMongoHabitRepo(db)
	ephemeral := repository.NewRedisEphemeralStore(redisClient)
	graph := repository.NewNeo4jRelationshipStore(graphDriver, cfg.Neo4jDatabase)

	// 3. メトリクスと通知
	registry, mc := newMetrics()
	notifier, err := newNotifier(cfg)
	if err != nil {
		return err
	}

	// 4. ドメインサービスの初期化
	appLogger := slog.Default()
	sessions := session.NewManager(ephemeral, session.Config{
		TTL:              cfg.SessionTTL,
		WatchInterval:    cfg.WatchInterval,
		MaxWatchFailures: cfg.WatchMaxFailures,
		StoreTimeout:     cfg.StoreTimeout,
	}, appLogger, mc)
	defer sessions.Close()

	engine := relationship.NewEngine(identityRepo, graph, mc, appLogger, cfg.StoreTimeout)
	identityService := identity.NewService(identityRepo, sessions, engine, nil, appLogger, cfg.StoreTimeout)
	evaluator := risk.NewEvaluator(identityRepo, notifier, mc, appLogger, cfg.StoreTimeout)
	scheduler := appointment.NewScheduler(identityRepo, appointmentRepo, ephemeral, notifier, mc, appLogger, appointment.Config{
		ReminderTTL:  cfg.ReminderTTL,
		StoreTimeout: cfg.StoreTimeout,
		Location:     cfg.Location,
	})
	habitService := habit.NewService(identityRepo, habitRepo, notifier, mc, appLogger, cfg.StoreTimeout, cfg.Location)

	// 5. ルーターの構築
	// configのRateLimitGeneralはreq/min単位
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            appLogger,
		Metrics:           mc,
		Gatherer:          registry,
		SessionChecker:    sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		IdentityService: identityService,
		Authenticator:   identityService,
		RiskEvaluator:   evaluator,
		SessionService:  sessions,
		SessionWatcher:  sessions,

		AppointmentService: scheduler,
		HabitService:       habitService,

		FollowService: engine,

		Stores: map[string]handler.Pinger{
			"document":     identityRepo,
			"ephemeral":    ephemeral,
			"relationship": graph,
		},
	})

	// 6. HTTPサーバーの起動
	server := newAPIServer(":"+cfg.ServerPort, router, sessions)

	return serveUntilDone(ctx, server, "API server")
}

// newAPIServer はAPIサーバーを生成する。
// Shutdown開始時にセッション監視を停止し、監視ストリームのリクエストを終了させる。
// http.Server.Shutdownは処理中のリクエストのcontextをキャンセルしないため、
// 監視を止めないとShutdownがタイムアウトまで待ち続ける。
func newAPIServer(addr string, handler http.Handler, sessions *session.Manager) *http.Server {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	server.RegisterOnShutdown(sessions.Close)
	return server
}

// runWorker はワーカーモードで起動する。
// グラフストアに接続し、グラフ監査ジョブを定期実行する。監査結果は/metricsで公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	mongoClient, err := connectMongo(ctx, cfg)
	if err != nil {
		return err
	}
	defer mongoClient.Disconnect(context.Background())

	graphDriver, err := connectNeo4j(ctx, cfg)
	if err != nil {
		return err
	}
	defer graphDriver.Close(context.Background())

	slog.Info("store connections established (worker)")

	registry, mc := newMetrics()
	identityRepo := repository.NewMongoIdentityRepo(mongoClient.Database(cfg.MongoDatabase))
	graph := repository.NewNeo4jRelationshipStore(graphDriver, cfg.Neo4jDatabase)
	engine := relationship.NewEngine(identityRepo, graph, mc, slog.Default(), cfg.StoreTimeout)

	job := audit.NewAuditJob(engine, slog.Default())

	metricsServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      metrics.SetupMetricsRoute(registry),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	jobDone := make(chan struct{})
	go func() {
		defer close(jobDone)
		job.Start(jobCtx, cfg.AuditInterval)
	}()

	err = serveUntilDone(ctx, metricsServer, "worker metrics server")
	cancel()
	<-jobDone

	slog.Info("worker stopped gracefully")
	return err
}

// runMigrate はドキュメントストアのインデックスとグラフストアの制約を適用する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	slog.Info("running document store migrations",
		slog.String("mongo_uri", maskURI(cfg.MongoURI)),
		slog.String("database", cfg.MongoDatabase),
	)

	if err := database.RunMigrations(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.StoreTimeout); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	graphDriver, err := connectNeo4j(ctx, cfg)
	if err != nil {
		return err
	}
	defer graphDriver.Close(context.Background())

	if err := database.EnsureGraphSchema(ctx, graphDriver, cfg.Neo4jDatabase); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("migrations completed successfully")
	return nil
}

// runPurge は不正キーのノードへ向かうエッジの削除計画を作成してログに出力する。
// confirmがtrueの場合のみ、その計画に基づいて削除を実行する。
func runPurge(ctx context.Context, cfg *config.Config, confirm bool) error {
	mongoClient, err := connectMongo(ctx, cfg)
	if err != nil {
		return err
	}
	defer mongoClient.Disconnect(context.Background())

	graphDriver, err := connectNeo4j(ctx, cfg)
	if err != nil {
		return err
	}
	defer graphDriver.Close(context.Background())

	identityRepo := repository.NewMongoIdentityRepo(mongoClient.Database(cfg.MongoDatabase))
	graph := repository.NewNeo4jRelationshipStore(graphDriver, cfg.Neo4jDatabase)
	engine := relationship.NewEngine(identityRepo, graph, nil, slog.Default(), cfg.StoreTimeout)

	plan, err := engine.PlanPurge(ctx)
	if err != nil {
		return fmt.Errorf("failed to plan purge: %w", err)
	}

	for _, n := range plan.Nodes {
		slog.Info("削除対象エッジの終点ノード",
			slog.String("node_id", n.NodeID),
			slog.String("key", n.Key),
		)
	}
	slog.Info("エッジ削除計画を作成しました",
		slog.Int("invalid_node_count", len(plan.Nodes)),
		slog.Int64("planned_edge_count", plan.EdgeCount),
		slog.Bool("confirm", confirm),
	)

	if !confirm {
		slog.Info("--confirm が指定されていないため削除は行いません")
		return nil
	}

	if _, err := engine.PurgeInvalidEdges(ctx, plan); err != nil {
		return fmt.Errorf("failed to purge edges: %w", err)
	}
	return nil
}

// runNetwork はグラフストア上のフォロー関係をすべて読み出し、1行1エッジのJSONで出力する。
func runNetwork(ctx context.Context, cfg *config.Config, out io.Writer) error {
	mongoClient, err := connectMongo(ctx, cfg)
	if err != nil {
		return err
	}
	defer mongoClient.Disconnect(context.Background())

	graphDriver, err := connectNeo4j(ctx, cfg)
	if err != nil {
		return err
	}
	defer graphDriver.Close(context.Background())

	identityRepo := repository.NewMongoIdentityRepo(mongoClient.Database(cfg.MongoDatabase))
	graph := repository.NewNeo4jRelationshipStore(graphDriver, cfg.Neo4jDatabase)
	engine := relationship.NewEngine(identityRepo, graph, nil, slog.Default(), cfg.StoreTimeout)

	edges, err := engine.ListNetwork(ctx)
	if err != nil {
		return fmt.Errorf("failed to list network: %w", err)
	}
	if err := writeNetwork(out, edges); err != nil {
		return err
	}
	slog.Info("フォロー関係を出力しました", slog.Int("edge_count", len(edges)))
	return nil
}

// writeNetwork はエッジを1行1件のJSONで書き出す。
func writeNetwork(out io.Writer, edges []model.FollowEdge) error {
	enc := json.NewEncoder(out)
	for _, e := range edges {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to write network: %w", err)
		}
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// serveUntilDone はサーバーを起動し、contextがキャンセルされたらシャットダウンする。
// 起動に失敗した場合はそのエラーを返す。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("%s listen error: %w", name, err)
	}
	return serveListener(ctx, server, ln, name)
}

// serveListener は受け付け済みのリスナーでサーバーを起動し、contextがキャンセルされたらシャットダウンする。
func serveListener(ctx context.Context, server *http.Server, ln net.Listener, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s serve error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

func connectMongo(ctx context.Context, cfg *config.Config) (*mongo.Client, error) {
	client, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.StoreTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to document store: %w", err)
	}
	return client, nil
}

func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client, err := database.ConnectRedis(ctx, database.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Timeout:  cfg.StoreTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ephemeral store: %w", err)
	}
	return client, nil
}

func connectNeo4j(ctx context.Context, cfg *config.Config) (neo4j.DriverWithContext, error) {
	cctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()

	driver, err := database.ConnectNeo4j(cctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relationship store: %w", err)
	}
	return driver, nil
}

// newMetrics はプロセス専用のレジストリとコレクターを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, metrics.NewCollector(registry)
}

// newNotifier は通知先の設定に応じたNotifierを返す。
// Webhook URLが未設定の場合はログ出力で代替する。
func newNotifier(cfg *config.Config) (notify.Notifier, error) {
	if cfg.NotifyWebhookURL == "" {
		return notify.NewLogNotifier(slog.Default()), nil
	}

	guard := security.NewOutboundGuard()
	if err := guard.ValidateURL(cfg.NotifyWebhookURL); err != nil {
		return nil, fmt.Errorf("invalid NOTIFY_WEBHOOK_URL: %w", err)
	}
	webhook := notify.NewWebhookNotifier(cfg.NotifyWebhookURL, guard.NewSafeClient(notifyTimeout))
	return notify.NewRetryingNotifier(webhook, notifyMaxAttempts, slog.Default()), nil
}

// maskURI は接続URIの認証情報をマスクする。
func maskURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.Redacted()
}
