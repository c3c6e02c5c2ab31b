package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"ascms.org/internal/auth"
	"ascms.org/internal/config"
	"ascms.org/internal/httpapi"
	"ascms.org/internal/migrate"
	"ascms.org/internal/notify"
	"ascms.org/internal/obs"
	"ascms.org/internal/storage"
	"ascms.org/internal/store/memory"
	"ascms.org/internal/store/pg"
	"ascms.org/ops/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, ready, closeStore := openStore(ctx, cfg)
	cancel()
	defer closeStore()

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		SigningKey: cfg.JWT.Key,
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
	})
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	opts := []auth.ServiceOption{
		auth.WithHasher(auth.BcryptHasher{Cost: cfg.Auth.BcryptCost}),
		auth.WithNotifier(notify.New(newSender(cfg.SMTP))),
	}
	if cfg.Storage.Enabled() {
		objects, err := storage.New(cfg.Storage)
		if err != nil {
			log.Fatalf("object storage: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := objects.EnsureBucket(ctx); err != nil {
			log.Fatalf("object storage bucket: %v", err)
		}
		cancel()
		opts = append(opts, auth.WithFileStorage(objects))
	}

	svc, err := auth.NewService(store, tokens, opts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	if err := svc.EnsureCatalog(ctx); err != nil {
		log.Fatalf("permission catalog: %v", err)
	}
	cancel()

	proxies, err := cfg.HTTP.TrustedProxyPrefixes()
	if err != nil {
		log.Fatalf("trusted proxies: %v", err)
	}
	api := httpapi.New(svc, ready, httpapi.Config{
		Version:        version,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		RateLimitRPS:   cfg.Auth.RateLimitRPS,
		RateLimitBurst: cfg.Auth.RateLimitBurst,
		TrustedProxies: proxies,
	})
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	var grpcSrv *grpc.Server
	if cfg.HTTP.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.HTTP.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = httpapi.NewGRPCServer(ready)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	obs.Info("server starting", map[string]any{
		"version":   version,
		"env":       string(cfg.Env),
		"http_addr": srv.Addr,
		"grpc_addr": cfg.HTTP.GRPCAddr,
		"uploads":   svc.UploadsEnabled(),
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	obs.Info("server shutting down", nil)
	obs.SetReady(false)

	ctx, cancel = context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(ctx); err != nil {
		obs.Error("http shutdown", map[string]any{"error": err.Error()})
	}
	obs.Info("server stopped", nil)
}

// openStore connects to PostgreSQL when a DSN is configured and falls back to the
// in-memory store otherwise. Validation already forbids the fallback in prod.
func openStore(ctx context.Context, cfg config.Config) (auth.Store, httpapi.ReadinessChecker, func()) {
	if cfg.Database.DSN == "" {
		obs.Warn("ASCMS_PG_DSN not set, using in-memory store", map[string]any{"env": string(cfg.Env)})
		return memory.New(), httpapi.ReadyProbe{}, func() {}
	}
	store, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}
	if cfg.Database.AutoMigrate {
		mgr := migrate.NewManager(store.DB(), migrations.Files)
		applied, err := mgr.Up(ctx)
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
		seeded, err := mgr.Seed(ctx)
		if err != nil {
			log.Fatalf("seed: %v", err)
		}
		obs.Info("database migrated", map[string]any{"applied": applied, "seeded": seeded})
	}
	return store, httpapi.ReadyProbe{DB: store.DB()}, func() { _ = store.Close() }
}

func newSender(cfg config.SMTPConfig) notify.Sender {
	if !cfg.Enabled() {
		return notify.LogSender{}
	}
	sender, err := notify.NewSMTPSender(cfg)
	if err != nil {
		log.Fatalf("smtp: %v", err)
	}
	return sender
}
