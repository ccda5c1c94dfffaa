// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"breakglass-service/config"
	"breakglass-service/internal/handler"
	"breakglass-service/internal/infra"
	"breakglass-service/internal/notify"
	"breakglass-service/internal/repository"
	"breakglass-service/internal/usecase"
	"breakglass-service/internal/vault"
)

// escrowSealer は提出された分割片の封印に使うエスクロー。
type escrowSealer interface {
	Seal(ctx context.Context, plaintext, label []byte) ([]byte, error)
	Open(ctx context.Context, ciphertext, label []byte) ([]byte, error)
	Close() error
}

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// トレーサー初期化（ロガー設定の前に実行）
	shutdownTracer, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(ctx); err != nil {
			slog.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg)

	// DB初期化
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is not set")
		os.Exit(1)
	}
	db, err := infra.NewDB(cfg)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}

	// エスクロー初期化
	sealer, err := newSealer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init escrow sealer", "sealer", cfg.Sealer, "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := sealer.Close(); closeErr != nil {
			slog.Error("failed to close escrow sealer", "error", closeErr)
		}
	}()

	// 保管庫初期化
	store, err := newObjectStore(cfg)
	if err != nil {
		slog.Error("failed to init vault store", "backend", cfg.VaultBackend, "error", err)
		os.Exit(1)
	}
	v := vault.New(store, cfg.RestoreDir)

	// DI
	metrics := infra.NewMetrics()
	configRepo := repository.NewConfigRepository(db)
	holderRepo := repository.NewHolderRepository(db)
	activationRepo := repository.NewActivationRepository(db)
	drillRepo := repository.NewDrillRepository(db)
	rtoRepo := repository.NewRTORepository(db)

	runCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	runner := usecase.NewRecoveryRunner(runCtx, activationRepo, sealer, v, metrics)
	activations := usecase.NewActivationService(activationRepo, configRepo, holderRepo, sealer, newNotifier(cfg), runner, metrics)
	drills := usecase.NewDrillService(drillRepo, configRepo, holderRepo, activationRepo)
	monitor := usecase.NewComplianceMonitor(drills, metrics, cfg.ComplianceInterval)

	router := handler.NewRouter(handler.Handlers{
		Config:     handler.NewConfigHandler(usecase.NewTrustRootService(configRepo, v)),
		Holder:     handler.NewHolderHandler(usecase.NewHolderService(holderRepo, configRepo)),
		Activation: handler.NewActivationHandler(activations),
		RTO:        handler.NewRTOHandler(usecase.NewRTOService(rtoRepo, activationRepo)),
		Drill:      handler.NewDrillHandler(drills),
		Backup:     handler.NewBackupHandler(usecase.NewBackupService(v, configRepo)),
		Metrics:    metrics.Handler(),
	})

	// 前回異常終了時に残った実行中フラグを解除する
	if n, err := activationRepo.ResetStaleRecoveries(ctx); err != nil {
		slog.Error("failed to reset stale recoveries", "error", err)
		os.Exit(1)
	} else if n > 0 {
		slog.Warn("reset stale recoveries; retry them explicitly", "count", n)
	}

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Run(runCtx)
	}()

	// サーバー起動
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return runCtx },
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	// 実行中の復旧処理と通知の完了を待つ
	stopWorkers()
	<-monitorDone
	runner.Wait()
	activations.WaitNotifications()
	slog.Info("server stopped")
}

func newSealer(ctx context.Context, cfg *config.Config) (escrowSealer, error) {
	if cfg.Sealer == config.SealerAge {
		return infra.LoadAgeSealer(cfg.AgeIdentityFile)
	}
	return infra.NewKMSSealer(ctx, cfg.KMSKeyName)
}

func newObjectStore(cfg *config.Config) (vault.ObjectStore, error) {
	if cfg.VaultBackend == config.VaultBackendS3 {
		return vault.NewS3Store(vault.S3Config{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	}
	return vault.NewFileStore(cfg.VaultDir)
}

func newNotifier(cfg *config.Config) *notify.Dispatcher {
	var mail *notify.EmailNotifier
	if cfg.SMTPAddr != "" {
		host, _, err := net.SplitHostPort(cfg.SMTPAddr)
		if err != nil {
			host = cfg.SMTPAddr
		}
		mail = notify.NewEmailNotifier(notify.NewSMTPTransport(cfg.SMTPAddr, host, cfg.SMTPUser, cfg.SMTPPassword), cfg.SMTPFrom)
	}
	return notify.NewDispatcher(mail, notify.NewWebhookNotifier(cfg.WebhookTimeout))
}
