package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"caseflow/api/internal/app"
	"caseflow/api/internal/blob"
	"caseflow/api/internal/config"
	"caseflow/api/internal/engine"
	"caseflow/api/internal/groups"
	"caseflow/api/internal/notify"
	"caseflow/api/internal/obs"
	"caseflow/api/internal/roles"
	"caseflow/api/internal/search"
	"caseflow/api/internal/store"
	"caseflow/api/internal/workflow"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	var cache *groups.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisClient, err := groups.NewCache(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, group lookups uncached: %v", err)
			cache = groups.New(dataStore, nil, cfg.GroupCacheTTL, cfg.AdminGroup)
		} else {
			defer redisClient.Close()
			cache = groups.New(dataStore, redisClient, cfg.GroupCacheTTL, cfg.AdminGroup)
		}
	} else {
		cache = groups.New(dataStore, nil, cfg.GroupCacheTTL, cfg.AdminGroup)
	}

	resolver := roles.NewResolver(cache, workflow.DefaultDefinitions(cfg.AdminGroup, cfg.UserGroup)...)
	graph, err := workflow.DefaultGraph(resolver)
	if err != nil {
		log.Fatalf("state graph invalid: %v", err)
	}

	blobs, err := blob.NewMinioStore(ctx, blob.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatalf("blob store unavailable: %v", err)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, dataStore)
	searchService.Reindex(ctx)

	notifier := notify.NewService(notify.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !notifier.IsConfigured() {
		log.Printf("SMTP not configured, notifications disabled")
	}

	eng := engine.New(dataStore, dataStore, cache, resolver, graph, notifier, blobs, searchService)

	obs.Init()
	httpServer := app.NewHTTPServer(eng, searchService, dataStore, cfg.CORSOrigin)
	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	mux.Handle("/", obs.Instrument(httpServer.Handler()))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Caseflow API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
