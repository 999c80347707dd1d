package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zykor/barsync/internal/api"
	"github.com/zykor/barsync/internal/archive"
	"github.com/zykor/barsync/internal/config"
	"github.com/zykor/barsync/internal/contahub"
	"github.com/zykor/barsync/internal/nibo"
	"github.com/zykor/barsync/internal/notify"
	"github.com/zykor/barsync/internal/pipeline"
	"github.com/zykor/barsync/internal/pkg/distlock"
	"github.com/zykor/barsync/internal/pkg/logger"
	"github.com/zykor/barsync/internal/repository/postgres"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

func main() {
	log.Println("Starting barsync API server...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		log.Fatalf("Database: %v", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unavailable, falling back to advisory locks", "error", err)
			redisClient = nil
		}
	}

	staging := postgres.NewStagingRepo(db)
	rows := postgres.NewRowRepo(db)
	jobs := postgres.NewJobRepo(db)

	registry := buildRegistry(cfg)
	collector := pipeline.NewCollector(staging, registry)
	processor := pipeline.NewProcessor(staging, rows, registry, cfg.Sync.BatchPause())
	orchestrator := pipeline.NewOrchestrator(collector, processor, jobs, registry, pipeline.Config{
		EmptyPeriodThreshold: cfg.Sync.EmptyPeriodThreshold,
		PeriodPause:          cfg.Sync.PeriodPause(),
	})

	orchestrator.SetLockFactory(func(barID int64) pipeline.Locker {
		return distlock.NewLock(redisClient, db, distlock.SyncKey(barID), cfg.Sync.LockTTL())
	})

	if cfg.Notify.Enabled {
		orchestrator.SetNotifier(notify.NewDiscordNotifier(cfg.Notify.WebhookURL))
	}

	if cfg.Archive.Enabled {
		s3Archive, err := archive.NewS3Archive(context.Background(), cfg.Archive.S3Bucket, cfg.Archive.S3Region)
		if err != nil {
			logger.Warn("payload archive disabled", "error", err)
		} else {
			collector.SetArchiver(s3Archive)
		}
	}

	handlers := api.NewHandlers(orchestrator, collector, processor, jobs, staging)
	handlers.SetHealthDeps(db, redisClient)
	handlers.BacklogStartDate = cfg.Sync.BacklogStartDate

	server := api.NewServer(handlers)
	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", addr)
		errCh <- server.ListenAndServe(addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server: %v", err)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// buildRegistry wires every enabled vendor's data types.
func buildRegistry(cfg *config.Config) *pipeline.Registry {
	var specs []pipeline.DataTypeSpec

	if cfg.ContaHub.Enabled {
		client := contahub.NewClient(
			contahub.Config{BaseURL: cfg.ContaHub.BaseURL, TimeoutSeconds: cfg.ContaHub.TimeoutSeconds},
			contahub.StaticCredentials{
				Email:     cfg.ContaHub.Email,
				Password:  cfg.ContaHub.Password,
				CompanyID: cfg.ContaHub.CompanyID,
			},
			cfg.Sync.VendorDelay(),
		)
		specs = append(specs, contahub.DataTypes(client)...)
	}

	if cfg.Nibo.Enabled {
		client := nibo.NewClient(
			nibo.Config{
				BaseURL:        cfg.Nibo.BaseURL,
				OrganizationID: cfg.Nibo.OrganizationID,
				PageSize:       cfg.Nibo.PageSize,
				TimeoutSeconds: cfg.Nibo.TimeoutSeconds,
			},
			nibo.StaticToken(cfg.Nibo.APIToken),
			cfg.Sync.VendorDelay(),
		)
		specs = append(specs, nibo.DataTypes(client)...)
	}

	return pipeline.NewRegistry(cfg.Sync.MaxBatchSize, specs...)
}
