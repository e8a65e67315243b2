package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vitalik-svt/tomata/internal/app"
	"github.com/vitalik-svt/tomata/internal/authpw"
	"github.com/vitalik-svt/tomata/internal/config"
	"github.com/vitalik-svt/tomata/internal/logger"
	"github.com/vitalik-svt/tomata/internal/relocate"
	"github.com/vitalik-svt/tomata/internal/schema"
	"github.com/vitalik-svt/tomata/internal/search"
	"github.com/vitalik-svt/tomata/internal/session"
	"github.com/vitalik-svt/tomata/internal/storage"
	"github.com/vitalik-svt/tomata/internal/store"
	"github.com/vitalik-svt/tomata/internal/versioning"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", "error", err)
	}
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connection failed", "error", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, cfg.DatabaseURL); err != nil {
		log.Fatal("migrations failed", "error", err)
	}

	images, err := storage.NewMinio(storage.MinioConfig{
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		UseSSL:          cfg.S3UseSSL,
		Bucket:          cfg.ImagesBucket,
	})
	if err != nil {
		log.Fatal("object storage init failed", "error", err)
	}

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatal("redis connection failed", "error", err)
	}
	defer sessions.Close()

	documents := store.NewAssignmentStore(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log.With("component", "meilisearch"))
		defer meiliClient.Close()
	} else {
		log.Info("MEILI_URL not set, search uses postgres")
	}
	searchService := search.NewService(meiliClient, search.NewStoreSearch(documents), log.With("component", "search"))

	snapshots := schema.NewSnapshotter(cfg.EventsMapperPath)
	if _, err := snapshots.Current(); err != nil {
		log.Fatal("event catalog unusable", "path", cfg.EventsMapperPath, "error", err)
	}
	relocator := relocate.New(images, log.With("component", "images"), cfg.ImageTransferConcurrency)

	service := app.New(cfg, app.Deps{
		Documents: documents,
		Images:    images,
		Relocator: relocator,
		Snapshots: snapshots,
		Versions:  versioning.NewManager(documents, snapshots, relocator),
		Search:    searchService,
		Users:     authpw.NewService(store.NewUserStore(db)),
		Sessions:  sessions,
		DB:        db,
		Log:       log,
	})
	if err := service.Bootstrap(ctx); err != nil {
		log.Fatal("bootstrap failed", "error", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log.With("component", "http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("tomata api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
}
