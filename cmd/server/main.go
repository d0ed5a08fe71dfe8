package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"cajero/backend/internal/cache"
	"cajero/backend/internal/config"
	"cajero/backend/internal/httpapi"
	"cajero/backend/internal/logging"
	"cajero/backend/internal/reporting"
	"cajero/backend/internal/service"
	"cajero/backend/internal/store"
	"cajero/backend/internal/store/memory"
	pgstore "cajero/backend/internal/store/postgres"
	"cajero/backend/internal/syncer"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}

	if cfg.MigrateOnStart && cfg.DatabaseURL != "" {
		if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	repo, reconciler, closers, err := openRepository(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("repository unavailable")
	}

	reportCache := cache.ReportCache(cache.NoopReportCache{})
	if cfg.RedisAddr != "" {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using noop report cache")
			_ = redisCache.Close()
		} else {
			reportCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info().Str("addr", cfg.RedisAddr).Msg("report cache: redis")
		}
		pingCancel()
	} else {
		log.Info().Msg("report cache: noop")
	}

	reports := reporting.NewAggregator(repo, reportCache, time.Duration(cfg.ReportCacheTTLSeconds)*time.Second, cfg.ReportLocation())
	svc := service.New(repo, reports, cfg.DefaultCurrency)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	api := httpapi.New(svc, auth, reports, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		RequestTimeout: requestTimeout,
		Sync:           reconciler,
	})

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	if reconciler != nil {
		go reconciler.Run(runCtx, time.Duration(cfg.SyncIntervalSeconds)*time.Second)
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Str("mode", cfg.DataMode).Msg("cajero backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	stopRun()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
}

// openRepository picks the data store once:
//
//	online + DATABASE_URL   postgres
//	offline + DATABASE_URL  memory, reconciled against postgres
//	no DATABASE_URL         seeded memory
func openRepository(ctx context.Context, cfg config.Config) (store.Repository, *syncer.Reconciler, []func() error, error) {
	if cfg.DatabaseURL == "" {
		log.Info().Msg("repository: in-memory (seeded)")
		return memory.NewSeeded(), nil, nil, nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if !cfg.Offline() {
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		log.Info().Msg("repository: postgres")
		return pg, nil, []func() error{pg.Close}, nil
	}

	if err != nil {
		log.Warn().Err(err).Msg("remote database unreachable, running offline on seeded memory store without sync")
		return memory.NewSeeded(), nil, nil, nil
	}

	local := memory.New()
	reconciler := syncer.NewReconciler(local, pg, 500)
	// Invoice rows are stamped before their stock locks are granted, at most
	// one request timeout before commit.
	reconciler.SetPullOverlap(max(syncer.DefaultPullOverlap, 2*time.Duration(cfg.RequestTimeoutSeconds)*time.Second))
	// Pull once before serving so existing accounts can log in.
	if _, err := reconciler.RunOnce(ctx); err != nil {
		log.Warn().Err(err).Msg("initial sync finished with errors")
	}
	log.Info().Msg("repository: in-memory, synced with postgres")
	return local, reconciler, []func() error{pg.Close}, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
