package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"validai/api/internal/app"
	"validai/api/internal/authpw"
	"validai/api/internal/blob"
	"validai/api/internal/config"
	"validai/api/internal/confighist"
	"validai/api/internal/email"
	"validai/api/internal/export"
	"validai/api/internal/logger"
	"validai/api/internal/maintenance"
	"validai/api/internal/metrics"
	"validai/api/internal/obs"
	"validai/api/internal/runs"
	"validai/api/internal/search"
	"validai/api/internal/session"
	"validai/api/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	if err := os.MkdirAll(cfg.PlaybooksDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.PlaybooksDir).Msg("failed to create playbooks dir")
	}

	m := metrics.New()
	dataStore := store.NewPostgresStore(db)
	accounts := authpw.NewService(dataStore)
	history := confighist.New(cfg.PlaybooksDir)
	exporter := export.NewService(dataStore)

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
		// Seed Meilisearch from Postgres so the index survives restarts.
		go searchService.ReindexAllFromPG(ctx)
	}

	// Document storage and run execution degrade together: without object
	// storage there is nothing to run against.
	var blobs *blob.Store
	var engine *runs.Engine
	if bs, err := blob.NewStore(ctx, blob.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	}); err != nil {
		log.Warn().Err(err).Msg("object storage unavailable, documents and runs disabled")
	} else {
		blobs = bs
		engine = runs.New(runs.Config{Workers: cfg.RunWorkers, QueueLen: cfg.RunQueueLen}, dataStore, blobs, runs.KeywordExecutor{}, log, m)
		defer engine.Stop()
	}

	// Refresh tokens live in Redis when configured, Postgres otherwise.
	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info().Msg("using redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		service = app.New(cfg, dataStore, redisStore, accounts, mail, blobs, searchService, history, engine, exporter, m, log)
	} else {
		log.Info().Msg("using postgres for refresh token storage")
		service = app.New(cfg, dataStore, session.NewPostgresFallback(dataStore), accounts, mail, blobs, searchService, history, engine, exporter, m, log)
	}

	sweeper := maintenance.New(dataStore, log, m, maintenance.Config{RenumberSchedule: cfg.SweepSchedule})
	if err := sweeper.Start(); err != nil {
		log.Fatal().Err(err).Msg("maintenance scheduler failed to start")
	}
	defer sweeper.Stop()

	obsServer := obs.NewServer(cfg.ObsAddr, log)
	obsServer.Start()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("validai api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("observability shutdown error")
	}
}
