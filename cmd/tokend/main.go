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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cosmic-crm/token-service/internal/config"
	"github.com/cosmic-crm/token-service/internal/handler"
	"github.com/cosmic-crm/token-service/internal/handler/admin"
	"github.com/cosmic-crm/token-service/internal/middleware"
	"github.com/cosmic-crm/token-service/internal/service"
	"github.com/cosmic-crm/token-service/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("tokend failed")
	}
}

func run() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	if err := store.RunMigrations(cfg.MigrationsURL, cfg.DatabaseURL); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	pg := store.NewPostgres(pool)
	tokens := service.NewTokenService(pg)

	adminAuth, err := middleware.NewAdminAuth(cfg.GoogleClientID, cfg.GoogleAllowedDomain, cfg.GoogleAllowedEmails)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := middleware.NewMetrics(registry)

	attempts := middleware.NewAttemptLimiter(cfg.AuthMaxFailures, cfg.AuthFailureWindow, cfg.AuthBlockDuration)

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.Instrument)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireJSON)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Method(http.MethodGet, "/healthz", handler.NewHealthHandler(pg))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.TokenAuth(tokens, attempts, metrics))
		r.Use(middleware.UsageTracking(tokens, metrics))
		r.Method(http.MethodGet, "/v1/usage", handler.NewUsageHandler())
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminAuth.Middleware(attempts))
		r.Method(http.MethodGet, "/tokens", admin.NewListTokensHandler(tokens))
		r.Method(http.MethodPost, "/tokens", admin.NewCreateTokenHandler(tokens))
		r.Method(http.MethodPost, "/tokens/purge", admin.NewPurgeTokensHandler(tokens))
		r.Method(http.MethodGet, "/tokens/{id}", admin.NewGetTokenHandler(tokens))
		r.Method(http.MethodPatch, "/tokens/{id}", admin.NewUpdateTokenHandler(tokens))
		r.Method(http.MethodDelete, "/tokens/{id}", admin.NewRevokeTokenHandler(tokens))
	})

	go purgeLoop(ctx, tokens, cfg.PurgeInterval)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("tokend listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

// purgeLoop periodically removes expired and revoked tokens.
func purgeLoop(ctx context.Context, tokens *service.TokenService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := tokens.PurgeExpired(ctx); err != nil {
				log.Error().Err(err).Msg("scheduled token purge failed")
			}
		}
	}
}
