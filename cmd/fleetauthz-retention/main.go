package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/fleetauthz/pkg/audit"
	"github.com/platinummonkey/fleetauthz/pkg/config"
	"github.com/platinummonkey/fleetauthz/pkg/observability"
)

var (
	runOnce  = flag.Bool("run-once", false, "Run retention once and exit")
	schedule = flag.String("schedule", "", "Cron schedule override (default: FLEETAUTHZ_AUDIT_RETENTION_SCHEDULE)")
	timeout  = flag.Duration("timeout", 30*time.Minute, "Maximum duration of one retention run")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("FLEETAUTHZ_POSTGRES_URL is required")
	}
	if cfg.Audit.RetentionDays <= 0 {
		log.Fatalf("Invalid retention days: %d", cfg.Audit.RetentionDays)
	}
	if *schedule != "" {
		cfg.Audit.RetentionSchedule = *schedule
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("component", "audit-retention")

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	store, err := newStore(context.Background(), db, cfg.Audit)
	if err != nil {
		log.Fatalf("Failed to initialize audit store: %v", err)
	}
	policy := retentionPolicy(cfg.Audit)

	// Run once mode (for testing or manual cleanup)
	if *runOnce {
		if err := runRetention(store, policy, logger); err != nil {
			log.Fatalf("Retention failed: %v", err)
		}
		return
	}

	c := cron.New()
	_, err = c.AddFunc(cfg.Audit.RetentionSchedule, func() {
		defer observability.RecoverPanic(logger, "audit retention")

		if err := runRetention(store, policy, logger); err != nil {
			logger.WithError(err).Error("Audit retention failed")
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule audit retention: %v", err)
	}

	c.Start()
	logger.WithFields(map[string]interface{}{
		"schedule":        cfg.Audit.RetentionSchedule,
		"retention_days":  policy.RetentionDays,
		"archive_enabled": policy.ArchiveEnabled,
	}).Info("Audit retention scheduler started")

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down gracefully...")

	// Wait for a running job to finish
	ctx := c.Stop()
	<-ctx.Done()

	logger.Info("Audit retention stopped")
}

func newStore(ctx context.Context, db *sql.DB, cfg config.AuditConfig) (*audit.DBStore, error) {
	dbLogger, err := audit.NewDBLogger(db)
	if err != nil {
		return nil, err
	}

	var opts []audit.StoreOption
	if cfg.ArchiveEnabled {
		archiver, err := audit.NewS3Archiver(ctx, audit.S3Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create archiver: %w", err)
		}
		opts = append(opts, audit.WithArchiver(archiver))
	}

	return audit.NewDBStore(dbLogger, opts...), nil
}

func retentionPolicy(cfg config.AuditConfig) audit.RetentionPolicy {
	policy := audit.DefaultRetentionPolicy()
	policy.RetentionDays = cfg.RetentionDays
	policy.ArchiveEnabled = cfg.ArchiveEnabled
	if cfg.ArchivePrefix != "" {
		policy.ArchivePrefix = cfg.ArchivePrefix
	}
	return policy
}

func runRetention(store *audit.DBStore, policy audit.RetentionPolicy, logger *observability.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	deleted, err := store.Cleanup(ctx, policy)
	if err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"deleted":     deleted,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Audit retention completed")
	return nil
}
