// Package app はコマンドごとの依存関係の組み立てと起動を行う。
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/ainews/internal/config"
	"github.com/hitoshi/ainews/internal/database"
	"github.com/hitoshi/ainews/internal/handler"
	"github.com/hitoshi/ainews/internal/logger"
	"github.com/hitoshi/ainews/internal/metrics"
	"github.com/hitoshi/ainews/internal/middleware"
	"github.com/hitoshi/ainews/internal/model"
	"github.com/hitoshi/ainews/internal/source"
)

const (
	dbConnectTimeout = 10 * time.Second
	shutdownTimeout  = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 環境変数から設定を読み込む
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでログを再設定する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("llm_provider", cfg.LLMProvider),
		slog.String("llm_model", cfg.LLMModel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandAggregate:
		return runAggregate(ctx, w, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSeed:
		return runSeed(ctx, cfg)
	default:
		return runWorker(ctx, cfg)
	}
}

// runWorker はワーカーモードで起動する。
// スケジューラ、管理APIサーバー、（有効な場合）シードファイル監視を起動し、
// SIGINTまたはSIGTERMを受信するとグレースフルシャットダウンを行う。
// マイグレーションは実行しない。
func runWorker(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()

	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbConnectTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("database connection established")

	// 2. パイプラインの組み立て
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c, err := buildComponents(ctx, cfg, db, reg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	scheduler, err := newScheduler(cfg, c, logger)
	if err != nil {
		return err
	}

	// 3. 管理APIの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.AdminRateLimit))
	defer rateLimiter.Stop()

	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is not set; admin API is unauthenticated")
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            logger,
		AdminToken:        cfg.AdminToken,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Trigger:           scheduler,
		Sources:           c.registry,
		Reporter:          c.aggregator,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(reg),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 4. 起動
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("admin API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	scheduler.Start()
	logger.Info("scheduler started",
		slog.String("aggregate_schedule", cfg.AggregateSchedule),
		slog.String("cleanup_schedule", cfg.CleanupSchedule),
		slog.String("timezone", cfg.ScheduleTimezone),
	)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if cfg.WatchSeedFile {
		watcher := source.NewWatcher(cfg.SeedFile, seedSyncFunc(c.seeder), source.DefaultDebounce, logger)
		go func() {
			if err := watcher.Run(watchCtx); err != nil {
				logger.Error("seed watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// 5. 終了待ち
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down worker...")
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("server listen error: %w", err)
		}
	}
	cancelWatch()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler did not stop in time", slog.String("error", err.Error()))
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("worker stopped gracefully")
	return nil
}

// runAggregate は集約ランを1回同期実行し、結果をJSONでwに書き出す。
func runAggregate(ctx context.Context, w io.Writer, cfg *config.Config) error {
	logger := slog.Default()

	db, err := database.Connect(ctx, cfg.DatabaseURL, dbConnectTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := buildComponents(ctx, cfg, db, prometheus.NewRegistry(), logger)
	if err != nil {
		return err
	}
	defer c.Close()

	report, err := c.aggregator.Run(ctx, model.TriggerCLI)
	if report != nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			return fmt.Errorf("failed to write report: %w", encErr)
		}
	}
	if err != nil {
		return fmt.Errorf("aggregation failed: %w", err)
	}
	return nil
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

// runSeed はシードファイルを読み込み、著者・カテゴリ・ソースを同期する。
func runSeed(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()

	seed, err := source.LoadSeedFile(cfg.SeedFile)
	if err != nil {
		return err
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL, dbConnectTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := buildComponents(ctx, cfg, db, prometheus.NewRegistry(), logger)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.seeder.Sync(ctx, seed)
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}

	logger.Info("seed completed",
		slog.String("file", cfg.SeedFile),
		slog.Int("authors", result.Authors),
		slog.Int("categories", result.Categories),
		slog.Int("sources", result.Sources),
		slog.Int("failed", result.Failed),
	)
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
