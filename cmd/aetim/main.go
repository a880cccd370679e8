// Package main is the entry point for the threat intelligence engine.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quantumlayerhq/aetim/internal/ai"
	"github.com/quantumlayerhq/aetim/internal/correlate"
	"github.com/quantumlayerhq/aetim/internal/events"
	"github.com/quantumlayerhq/aetim/internal/feeds"
	"github.com/quantumlayerhq/aetim/internal/ingest"
	"github.com/quantumlayerhq/aetim/internal/notify"
	"github.com/quantumlayerhq/aetim/internal/report"
	"github.com/quantumlayerhq/aetim/internal/repository"
	"github.com/quantumlayerhq/aetim/internal/risk"
	"github.com/quantumlayerhq/aetim/internal/service"
	"github.com/quantumlayerhq/aetim/pkg/audit"
	"github.com/quantumlayerhq/aetim/pkg/authz"
	"github.com/quantumlayerhq/aetim/pkg/config"
	"github.com/quantumlayerhq/aetim/pkg/database"
	"github.com/quantumlayerhq/aetim/pkg/kafka"
	"github.com/quantumlayerhq/aetim/pkg/logger"
	"github.com/quantumlayerhq/aetim/pkg/models"
	"github.com/quantumlayerhq/aetim/pkg/secrets"
	"github.com/quantumlayerhq/aetim/pkg/telemetry"
)

// Build information (set via ldflags).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, "json")
	log = log.WithService("aetim")

	log.Info("starting threat intelligence engine",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"env", cfg.Env,
	)

	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	tcfg.Environment = cfg.Env
	tcfg.Enabled = cfg.Metrics.Enabled
	if cfg.Metrics.OTLPEndpoint != "" {
		tcfg.ExporterType = telemetry.ExporterOTLPGRPC
		tcfg.OTLPEndpoint = cfg.Metrics.OTLPEndpoint
	}
	provider, err := telemetry.NewProvider(tcfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "error", err)
		}
	}()

	// Connect to database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	log.Info("connected to database")

	// In-process event bus, optionally mirrored to Kafka
	bus := events.NewBus(log)
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("failed to create Kafka producer: %w", err)
		}
		defer producer.Close()
		events.NewMirror(bus, producer, cfg.Kafka, log)
		log.Info("event mirror connected to Kafka", "brokers", cfg.Kafka.Brokers)
	}

	// Repositories
	feedRepo := repository.NewFeeds(db.Pool)
	threatRepo := repository.NewThreats(db.Pool)
	assetRepo := repository.NewAssets(db.Pool)
	assocRepo := repository.NewAssociations(db.Pool)
	assessmentRepo := repository.NewAssessments(db.Pool)
	statsRepo := repository.NewStats(db.Pool)
	reportRepo := repository.NewReports(db.Pool)
	ruleRepo := repository.NewNotificationRules(db.Pool)
	notificationRepo := repository.NewNotifications(db.Pool)
	pirRepo := repository.NewPIRs(db.Pool)
	scheduleRepo := repository.NewSchedules(db.Pool)

	// Feed credentials: the secret store resolves references when the
	// config carries none.
	secretStore, err := secrets.New(cfg.Vault, log)
	if err != nil {
		return fmt.Errorf("failed to initialize secret store: %w", err)
	}
	nvdKey := resolveKey(ctx, secretStore, cfg.NVD.APIKey, "nvd/api_key", log)
	msrcKey := resolveKey(ctx, secretStore, cfg.MSRC.APIKey, "msrc/api_key", log)

	// Extraction: external service when configured, rule engine otherwise
	aiClient := ai.NewClient(cfg.AI, log)
	extractor := ai.NewExtractor(aiClient, log)

	// Collection pipeline
	httpClient := &http.Client{Timeout: cfg.Collector.RequestTimeout}
	registry := feeds.NewRegistry(
		feeds.NewKEVDriver(httpClient, "", log),
		feeds.NewNVDDriver(httpClient, cfg.NVD.BaseURL, nvdKey, log),
		feeds.NewVMwareDriver(httpClient, "", "", log),
		feeds.NewMSRCDriver(httpClient, cfg.MSRC.BaseURL, msrcKey, log),
		feeds.NewTWCERTDriver(httpClient, "", extractor, log),
	)
	tracker := ingest.NewTracker(cfg.Collector.FailureThreshold, cfg.Collector.AlertCooldown, bus, log)
	scheduler := ingest.NewScheduler(cfg.Collector, registry, extractor, feedRepo, threatRepo, tracker, bus, log)

	// Correlation and risk scoring react to pipeline events
	engine := correlate.NewEngine(threatRepo, assetRepo, assocRepo, bus, log)
	bus.Subscribe(events.ThreatIngested, func(e events.Event) {
		payload, ok := e.Payload.(events.ThreatIngestedPayload)
		if !ok {
			return
		}
		if _, err := engine.CorrelateThreat(ctx, payload.ThreatID); err != nil {
			log.Error("correlation failed", "threat_id", payload.ThreatID, "error", err)
		}
	})

	scorer := risk.NewScorer(
		models.RiskWeights{
			CountDivisor: cfg.Risk.CountDivisor,
			CountWeight:  cfg.Risk.CountWeight,
			PIRWeight:    cfg.Risk.PIRWeight,
			KEVWeight:    cfg.Risk.KEVWeight,
		},
		threatRepo, feedRepo, assocRepo, assetRepo, pirRepo, assessmentRepo, bus, log,
	)
	bus.Subscribe(events.AssociationCreated, func(e events.Event) {
		payload, ok := e.Payload.(events.AssociationCreatedPayload)
		if !ok {
			return
		}
		if _, err := scorer.ScoreAssociation(ctx, payload.ThreatID, payload.AssociationID); err != nil {
			log.Error("risk scoring failed", "association_id", payload.AssociationID, "error", err)
		}
	})

	// Reporting
	tickets := report.NewTicketGenerator(cfg.Risk.TicketMinScore, cfg.Reports.BaseDir,
		threatRepo, assocRepo, assetRepo, reportRepo, bus, log)
	tickets.Subscribe(bus)

	weekly := report.NewWeeklyGenerator(cfg.Reports, tz,
		statsRepo, threatRepo, assetRepo, reportRepo, aiClient, bus, log)

	// Notifications
	mailer := notify.NewSMTPMailer(cfg.Notifications)
	notifier := notify.NewNotifier(ruleRepo, notificationRepo, threatRepo, statsRepo, mailer, tz, log)
	notifier.Subscribe(bus)

	// Shared cron runner for reports and digests
	runner := cron.New(cron.WithLocation(tz))
	if err := scheduleReports(ctx, runner, weekly, scheduleRepo, log); err != nil {
		return err
	}
	if err := notifier.ScheduleDigests(ctx, runner); err != nil {
		return fmt.Errorf("failed to schedule digests: %w", err)
	}
	runner.Start()

	// Command layer. The role store reads through database/sql, so the gate
	// gets its own handle next to the pgx pool.
	roleDB, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open role store connection: %w", err)
	}
	defer roleDB.Close()
	gate := authz.NewGate(roleDB)
	sink := audit.NewSink(db.Pool, log)
	svc := service.New(db, gate, sink, bus,
		feedRepo, threatRepo, assetRepo, pirRepo, reportRepo, ruleRepo, notificationRepo, scheduleRepo,
		scheduler, engine, tickets, log)
	// No transport mounts the commands in this binary; until one does, the
	// scheduler and cron jobs above are the only callers.
	_ = svc

	// Start feed collection
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start collection scheduler: %w", err)
	}

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	<-shutdown
	log.Info("shutdown signal received")

	scheduler.Stop()
	<-runner.Stop().Done()

	log.Info("threat intelligence engine shutdown complete")
	return nil
}

// scheduleReports installs every enabled report schedule on the shared cron
// runner, falling back to the configured weekly default when none exist.
func scheduleReports(
	ctx context.Context,
	runner *cron.Cron,
	weekly *report.WeeklyGenerator,
	schedules *repository.Schedules,
	log *logger.Logger,
) error {
	stored, err := schedules.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("loading report schedules: %w", err)
	}

	if len(stored) == 0 {
		if err := weekly.Schedule(runner); err != nil {
			return fmt.Errorf("failed to schedule weekly report: %w", err)
		}
		log.Info("weekly report scheduled from config default")
		return nil
	}

	for _, sched := range stored {
		sched := sched
		_, err := runner.AddFunc(sched.CronExpr, func() {
			if _, err := weekly.Generate(context.Background()); err != nil {
				log.Error("scheduled report failed", "schedule", sched.Name, "error", err)
				return
			}
			if err := schedules.MarkRun(context.Background(), sched.ID, time.Now()); err != nil {
				log.Error("failed to stamp schedule run", "schedule", sched.Name, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to register schedule %q: %w", sched.Name, err)
		}
		log.Info("report schedule registered", "schedule", sched.Name, "cron", sched.CronExpr)
	}
	return nil
}

// resolveKey prefers the configured value and falls back to the secret store.
func resolveKey(ctx context.Context, store secrets.Store, configured, ref string, log *logger.Logger) string {
	if configured != "" {
		return configured
	}
	value, err := store.Resolve(ctx, ref)
	if err != nil {
		log.Warn("credential reference unresolved", "ref", ref, "error", err)
		return ""
	}
	return value
}
