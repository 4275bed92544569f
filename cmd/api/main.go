package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"unmgate.org/internal/apikey"
	"unmgate.org/internal/cache"
	"unmgate.org/internal/config"
	"unmgate.org/internal/httpapi"
	"unmgate.org/internal/monitor"
	"unmgate.org/internal/obs"
	"unmgate.org/internal/permission"
	"unmgate.org/internal/storage"
)

var version = "0.3.0"

func main() {
	configPath := flag.String("config", os.Getenv("UNM_CONFIG"), "path to YAML config")
	flag.Parse()

	obs.Init()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := obs.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	obs.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	var db *sql.DB
	if cfg.Storage.Kind == "sql" {
		db, err = sql.Open(cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			logger.Fatal("open database", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	storeOpts := storage.Options{
		Kind:       cfg.Storage.Kind,
		Dir:        cfg.Storage.Path,
		DB:         db,
		Driver:     cfg.Storage.Driver,
		Passphrase: cfg.Storage.EncryptionKey,
		Logger:     logger,
	}
	keyStore, err := storage.New[apikey.Credential]("api-keys", storeOpts)
	if err != nil {
		logger.Fatal("api-keys store", zap.Error(err))
	}
	roleStore, err := storage.New[permission.Role]("roles", storeOpts)
	if err != nil {
		logger.Fatal("roles store", zap.Error(err))
	}
	eventStore, err := storage.New[monitor.SecurityEvent]("security", storeOpts)
	if err != nil {
		logger.Fatal("security store", zap.Error(err))
	}

	shared, err := cache.New(cache.Options{
		Kind:          cfg.Cache.Kind,
		TTL:           cfg.Cache.TTL,
		MaxSize:       cfg.Cache.MaxSize,
		RedisAddr:     cfg.Cache.RedisAddr,
		RedisDB:       cfg.Cache.RedisDB,
		RedisPassword: cfg.Cache.RedisPass,
	})
	if err != nil {
		logger.Fatal("build cache", zap.Error(err))
	}

	mon := monitor.New(eventStore, shared,
		monitor.WithMaxEvents(cfg.Monitor.MaxEvents),
		monitor.WithAlerting(cfg.Monitor.AlertEnabled),
		monitor.WithLogDir(cfg.Monitor.LogDir),
		monitor.WithMonitorLogger(logger),
	)
	if err := mon.Initialize(ctx); err != nil {
		logger.Fatal("initialize monitor", zap.Error(err))
	}
	mon.AddChannel(monitor.NewConsoleChannel(monitor.ChannelConfig{
		Name:        "console",
		Enabled:     true,
		MinSeverity: monitor.SeverityLow,
	}, logger))
	if cfg.Monitor.WebhookURL != "" {
		mon.AddChannel(monitor.NewWebhookChannel(monitor.WebhookConfig{
			ChannelConfig: monitor.ChannelConfig{
				Name:        "webhook",
				Enabled:     true,
				MinSeverity: monitor.SeverityHigh,
			},
			URL: cfg.Monitor.WebhookURL,
		}))
	}

	keyOpts := []apikey.ServiceOption{
		apikey.WithDefaultTTL(cfg.Auth.DefaultKeyTTL),
		apikey.WithLogger(logger),
	}
	if cfg.Monitor.Enabled {
		keyOpts = append(keyOpts, apikey.WithEventSink(mon))
	}
	keys := apikey.NewService(keyStore, keyOpts...)
	if err := keys.Initialize(ctx); err != nil {
		logger.Fatal("initialize credentials", zap.Error(err))
	}
	if cfg.Auth.SeedTestKey {
		keys.Seed(ctx, "smoketest", "smoketest-secret", "smoke-tests")
	}

	eval := permission.NewEvaluator(shared, logger)
	roles := permission.NewRoleService(roleStore, shared, eval, logger)
	if err := roles.Initialize(ctx); err != nil {
		logger.Fatal("initialize roles", zap.Error(err))
	}
	if err := permission.Bootstrap(ctx, roles, eval); err != nil {
		logger.Fatal("bootstrap roles", zap.Error(err))
	}

	signer := apikey.NewSigner(cfg.Auth.SigningSecret, shared,
		apikey.WithWindow(cfg.Auth.SignatureWindow))

	api := httpapi.New(keys, signer, roles, eval, mon, httpapi.Options{
		Version:            version,
		SignatureRequired:  cfg.Auth.SignatureRequired,
		DefaultRole:        cfg.Auth.DefaultRole,
		RateLimitPerSecond: cfg.Security.RateLimitPerSecond,
		RateLimitBurst:     cfg.Security.RateLimitBurst,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting unmgate", zap.String("version", version), zap.String("addr", srv.Addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	mon.Flush()
	_ = shared.Close()
	_ = keyStore.Close()
	_ = roleStore.Close()
	_ = eventStore.Close()
	if db != nil {
		_ = db.Close()
	}
	logger.Info("stopped")
}
