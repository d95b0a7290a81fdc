// Package app はアプリケーションの起動と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/cabinet/internal/account"
	"github.com/hitoshi/cabinet/internal/agent"
	"github.com/hitoshi/cabinet/internal/config"
	"github.com/hitoshi/cabinet/internal/database"
	"github.com/hitoshi/cabinet/internal/handler"
	"github.com/hitoshi/cabinet/internal/logger"
	"github.com/hitoshi/cabinet/internal/metrics"
	"github.com/hitoshi/cabinet/internal/middleware"
	"github.com/hitoshi/cabinet/internal/mirror"
	"github.com/hitoshi/cabinet/internal/reddit"
	"github.com/hitoshi/cabinet/internal/repository"
	"github.com/hitoshi/cabinet/internal/scrape"
	"github.com/hitoshi/cabinet/internal/security"
	"github.com/hitoshi/cabinet/internal/sync"
	"github.com/hitoshi/cabinet/internal/worker/cleanup"
	"github.com/hitoshi/cabinet/internal/worker/refresh"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	// agent はDBに接続しないローカルモードのため、専用設定を読み込む
	if cmd == CommandAgent {
		logger.SetupDefault(w)

		agentCfg, err := config.LoadAgent()
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}

		// プロフィールURLは任意の第2引数。省略時は照合ループのみ実行する。
		profileURL := ""
		if len(args) > 1 {
			profileURL = args[1]
		}
		return runAgent(agentCfg, profileURL)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	kvRepo := repository.NewPostgresKVRepo(db)
	accountRepo := repository.NewPostgresAccountRepo(db)

	// 3. セキュリティサービスとメトリクスの初期化
	fetchGuard := security.NewFetchGuard()
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービスの初期化
	// 取り込み時のライブ再取得は外向きフェッチのためSSRFガード付きクライアントを使う
	redditClient := reddit.NewClient(
		fetchGuard.NewSafeClient(cfg.FetchTimeout, cfg.FetchMaxSize),
		slog.Default(),
	)
	accountService := account.NewService(
		accountRepo, redditClient, redditClient, collector, slog.Default(),
	)

	// 5. ルーターの構築
	// configのレート制限はreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.IngestRate = rate.Limit(float64(cfg.RateLimitIngest) / 60.0)
	rateLimiterCfg.IngestBurst = cfg.RateLimitIngest
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		HealthChecker:  db,
		MetricsHandler: metrics.SetupMetricsRoute(registry),

		KVStore:        kvRepo,
		AccountService: handler.NewAccountServiceAdapter(accountService),
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、統計再取得ワーカーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)

	// 3. フェッチャーとワーカーの初期化
	fetchGuard := security.NewFetchGuard()
	collector := metrics.NewCollector(prometheus.NewRegistry())

	redditClient := reddit.NewClient(
		fetchGuard.NewSafeClient(cfg.FetchTimeout, cfg.FetchMaxSize),
		slog.Default(),
	)
	worker := refresh.NewWorker(
		accountRepo, redditClient, collector, slog.Default(),
		cfg.StatsTTL, cfg.RefreshAPIInterval, cfg.RefreshMaxPerCycle,
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("refresh_interval", cfg.RefreshInterval),
		slog.Duration("stats_ttl", cfg.StatsTTL),
	)

	// 期限切れセッションのクリーンアップジョブを日次でバックグラウンド実行
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// 統計再取得ワーカーをメインgoroutineで実行（ブロッキング）
	worker.Start(ctx, cfg.RefreshInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runAgent はローカルエージェントモードで起動する。
// プロフィールURLが指定された場合はスクレイプと取り込みPOSTを1回実行し、
// その後ローカルミラーとリモートKVストアの照合ループを継続する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runAgent(cfg *config.AgentConfig, profileURL string) error {
	// 1. ローカルミラーを開く
	store, err := mirror.Open(cfg.MirrorPath, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open local mirror: %w", err)
	}
	defer store.Close()

	// 2. リモートKVクライアントと照合エンジンの初期化
	apiClient := &http.Client{Timeout: 15 * time.Second}
	remote := sync.NewRemoteClient(apiClient, cfg.APIBaseURL, cfg.APIToken, slog.Default())
	engine := sync.NewEngine(remote, store, cfg.WatchKeys, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down agent...")
		cancel()
	}()

	// 3. プロフィールURLが指定されていればスクレイプ→取り込みを実行
	if profileURL != "" {
		if err := scrapeAndIngest(ctx, cfg, profileURL); err != nil {
			// スクレイプ失敗でも照合ループは継続する
			slog.Error("scrape and ingest failed",
				slog.String("profile_url", profileURL),
				slog.String("error", err.Error()),
			)
		}
	}

	slog.Info("agent starting",
		slog.String("api_url", cfg.APIBaseURL),
		slog.String("mirror_path", cfg.MirrorPath),
		slog.Duration("sync_interval", cfg.SyncInterval),
	)

	// 照合ループをメインgoroutineで実行（ブロッキング）
	engine.Run(ctx, cfg.SyncInterval)

	slog.Info("agent stopped gracefully")
	return nil
}

// scrapeAndIngest はプロフィールページをスクレイプし、取り込みエンドポイントへ送信する。
// ブラウザのCookieストアからセッショントークンの収集を試みるが、
// 見つからなくてもスナップショットの送信は行う。
func scrapeAndIngest(ctx context.Context, cfg *config.AgentConfig, profileURL string) error {
	fetchGuard := security.NewFetchGuard()
	sanitizer := security.NewTextSanitizer()
	collector := metrics.NewCollector(prometheus.NewRegistry())
	scraper := scrape.NewScraper(sanitizer, collector, slog.Default())

	token, err := agent.CollectBrowserToken(ctx)
	if err != nil {
		slog.Warn("browser token collection failed",
			slog.String("error", err.Error()),
		)
		token = ""
	}

	ag := agent.NewAgent(
		fetchGuard.NewSafeClient(cfg.FetchTimeout, cfg.FetchMaxSize),
		&http.Client{Timeout: 15 * time.Second},
		scraper,
		fetchGuard,
		slog.Default(),
		cfg.APIBaseURL,
		cfg.APIToken,
		cfg.FetchMaxSize,
	)

	return ag.ScrapeAndPost(ctx, profileURL, token)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
