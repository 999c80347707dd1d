// The worker runs one sync job to completion and exits. It is the cron
// entrypoint: nightly continuous pulls and one-off backlog crawls run here
// instead of holding an API request open.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/zykor/barsync/internal/archive"
	"github.com/zykor/barsync/internal/config"
	"github.com/zykor/barsync/internal/contahub"
	"github.com/zykor/barsync/internal/domain"
	"github.com/zykor/barsync/internal/nibo"
	"github.com/zykor/barsync/internal/notify"
	"github.com/zykor/barsync/internal/pipeline"
	"github.com/zykor/barsync/internal/pkg/distlock"
	"github.com/zykor/barsync/internal/pkg/logger"
	"github.com/zykor/barsync/internal/repository/postgres"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		barID       = flag.Int64("bar", 0, "bar ID to sync (required)")
		mode        = flag.String("mode", domain.ModeSinglePeriod, "single_period, continuous, or backlog")
		periodStart = flag.String("start", "", "first period, YYYY-MM-DD")
		periodEnd   = flag.String("end", "", "last period for continuous mode, YYYY-MM-DD")
		dataTypes   = flag.String("types", "", "comma-separated data types (default: all)")
		reprocess   = flag.Int("reprocess", 0, "instead of syncing, reprocess up to N pending staging records")
	)
	flag.Parse()

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Database ping: %v", err)
	}

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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *reprocess > 0 {
		res, err := processor.ProcessUnprocessed(ctx, *reprocess)
		if err != nil {
			log.Fatalf("Reprocess: %v", err)
		}
		logger.Info("reprocessing done",
			"rows", res.Processed, "inserted", res.Inserted, "failed_batches", res.Errors)
		return
	}

	if *barID == 0 {
		flag.Usage()
		os.Exit(2)
	}
	start := *periodStart
	if start == "" {
		if *mode == domain.ModeBacklog && cfg.Sync.BacklogStartDate != "" {
			start = cfg.Sync.BacklogStartDate
		} else {
			// Default to yesterday's business date.
			start = time.Now().AddDate(0, 0, -1).Format("2006-01-02")
		}
	}

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
		s3Archive, err := archive.NewS3Archive(ctx, cfg.Archive.S3Bucket, cfg.Archive.S3Region)
		if err != nil {
			logger.Warn("payload archive disabled", "error", err)
		} else {
			collector.SetArchiver(s3Archive)
		}
	}

	var types []string
	if *dataTypes != "" {
		for _, t := range strings.Split(*dataTypes, ",") {
			types = append(types, strings.TrimSpace(t))
		}
	}

	job, err := orchestrator.NewJob(ctx, *barID, types, *mode, start, *periodEnd)
	if err != nil {
		log.Fatalf("Job: %v", err)
	}

	summary, err := orchestrator.Run(ctx, job)
	if err != nil && ctx.Err() == nil {
		log.Fatalf("Run: %v", err)
	}
	if summary.Status == domain.StatusFailed {
		os.Exit(1)
	}
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
