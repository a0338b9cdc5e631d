package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marketbridge/apsis-sync/internal/apiclient"
	"github.com/marketbridge/apsis-sync/internal/auth/token"
	"github.com/marketbridge/apsis-sync/internal/config"
	"github.com/marketbridge/apsis-sync/internal/crypto"
	"github.com/marketbridge/apsis-sync/internal/db"
	"github.com/marketbridge/apsis-sync/internal/export"
	"github.com/marketbridge/apsis-sync/internal/profile"
	"github.com/marketbridge/apsis-sync/internal/scope"
	"github.com/marketbridge/apsis-sync/internal/server"
	"github.com/marketbridge/apsis-sync/internal/store"
	syncpkg "github.com/marketbridge/apsis-sync/internal/sync"
	"github.com/marketbridge/apsis-sync/internal/version"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	stores := store.NewStoreStore(database)
	if err := cfg.Seed(stores); err != nil {
		log.Fatalf("Failed to seed stores: %v", err)
	}

	enc, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to build encryptor: %v", err)
	}

	gateway := apiclient.NewClient(cfg.APIBaseURL)
	scopeCfg := scope.NewConfigStore(database)
	resolver := scope.NewResolver(database, scopeCfg)
	tokens := token.NewManager(scopeCfg, resolver, gateway, enc)

	profiles := store.NewProfileStore(database)
	events := store.NewEventStore(database)
	batches := store.NewBatchStore(database)
	service := profile.NewService(profiles, events)

	writer, err := export.NewWriter(cfg.StagingDir)
	if err != nil {
		log.Fatalf("Failed to prepare staging dir: %v", err)
	}

	batcher := syncpkg.NewBatcher(resolver, profiles, batches, writer, cfg.BatchSize)
	coordinator := syncpkg.NewCoordinator(
		gateway, tokens, resolver, scope.PathSection, profiles, batches, writer, cfg.MaxPollAttempts)
	poster := syncpkg.NewEventPoster(
		gateway, tokens, resolver, scope.PathSection, events, profiles, cfg.BatchSize)
	runner := syncpkg.NewRunner(stores, batcher, coordinator, poster)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runLoop(ctx, runner, cfg.SyncIntervalDuration())

	router := server.NewRouter(server.Deps{
		DB:       database,
		Service:  service,
		Profiles: profiles,
		Events:   events,
		Batches:  batches,
		Tokens:   tokens,
		Gateway:  gateway,
		RunSync:  func() { runner.RunAll(context.Background()) },
	})

	srv := &http.Server{Addr: cfg.Listen, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("🚀 apsisd %s listening on %s (sync every %s)",
		version.Version, cfg.Listen, cfg.SyncIntervalDuration())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
	log.Printf("👋 apsisd stopped")
}

// runLoop runs one sync pass per tick until the context is canceled. Passes
// are allowed to overlap a slow predecessor; every store-level write is a
// filtered bulk UPDATE, so overlapping passes converge.
func runLoop(ctx context.Context, runner *syncpkg.Runner, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runner.RunAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go runner.RunAll(ctx)
		}
	}
}
