package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credsync/internal/credential/models"
	"credsync/internal/credential/store"
	"credsync/internal/enrich"
	"credsync/internal/events"
	"credsync/internal/evidence"
	"credsync/internal/ledger"
	"credsync/internal/platform/config"
	"credsync/internal/platform/httpserver"
	"credsync/internal/platform/logger"
	"credsync/internal/platform/metrics"
	"credsync/internal/platform/postgres"
	platformredis "credsync/internal/platform/redis"
	"credsync/internal/provider"
	"credsync/internal/provider/nsdc"
	"credsync/internal/provider/sih"
	"credsync/internal/provider/token"
	"credsync/internal/provider/udemy"
	syncsvc "credsync/internal/sync"
	httptransport "credsync/internal/transport/http"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Storage. Without a database URL the service runs entirely in memory,
	// which is only suitable for local development.
	var (
		credentials store.Store
		watermarks  store.WatermarkStore
	)
	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pgStore := store.NewPostgres(pool)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Error("apply schema", "error", err)
			os.Exit(1)
		}
		credentials = pgStore
		watermarks = store.NewPostgresWatermarks(pool)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory storage")
		credentials = store.NewMemory()
		watermarks = store.NewMemoryWatermarks()
	}

	// Redis backs the provider token cache; absent Redis the cache is
	// process-local.
	var tokens token.Store = token.NewMemory()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		tokens = token.NewRedis(redisClient.Client)
	}

	var evidenceStore evidence.Store
	if cfg.Evidence.GatewayURL != "" {
		evidenceStore = evidence.NewGateway(cfg.Evidence.GatewayURL, cfg.Evidence.AccessKey, cfg.Evidence.Timeout)
	} else {
		log.Warn("EVIDENCE_GATEWAY_URL not set, storing evidence in memory")
		evidenceStore = evidence.NewMemory()
	}

	var publisher *events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err = events.NewPublisher(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic,
			events.WithLogger(log))
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
	}

	ledgerQueue := ledger.NewQueue(
		credentials,
		ledger.NewHTTPClient(cfg.Ledger.URL, cfg.Ledger.Timeout),
		cfg.Ledger.Workers,
		cfg.Ledger.QueueDepth,
		ledger.WithLogger(log),
		ledger.WithEvents(publisher),
		ledger.WithMetrics(m),
	)

	var enrichClient enrich.Client
	if cfg.Enrich.URL != "" {
		enrichClient = enrich.NewHTTPClient(cfg.Enrich.URL, cfg.Enrich.ExtractTimeout, cfg.Enrich.AnalysisTimeout)
	} else {
		log.Warn("ENRICH_SERVICE_URL not set, enrichment will use the local heuristic only")
	}
	enrichService := enrich.NewService(credentials, evidenceStore, enrichClient,
		enrich.WithLogger(log),
		enrich.WithMetrics(m),
		enrich.WithWorkers(cfg.Enrich.Workers),
	)

	syncService := syncsvc.NewService(
		buildConnectors(cfg, tokens, log),
		credentials,
		watermarks,
		evidenceStore,
		syncsvc.Config{
			MaxConcurrentJobs: cfg.Sync.MaxConcurrentJobs,
			MaxFetchAttempts:  cfg.Sync.MaxFetchAttempts,
			MaxDurationHours:  cfg.Sync.MaxDurationHours,
			FetchTimeout:      cfg.Sync.FetchTimeout,
		},
		syncsvc.WithLogger(log),
		syncsvc.WithMetrics(m),
		syncsvc.WithEvents(publisher),
		syncsvc.WithLedger(ledgerQueue),
		syncsvc.WithEnrichment(enrichService),
	)
	scheduler := syncsvc.NewScheduler(syncService, cfg.Sync.Interval, log)

	go ledgerQueue.Run(ctx)
	go enrichService.Run(ctx)
	go scheduler.Run(ctx)
	go runLedgerSweeper(ctx, ledgerQueue, cfg.Ledger.SweepInterval, log)

	handler := httptransport.New(log, scheduler, syncService, ledgerQueue, credentials, cfg.OperatorKeyHash, webhookSecrets(cfg))
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	go func() {
		log.Info("starting credsync", "addr", cfg.Addr, "providers", syncService.Providers())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

// buildConnectors instantiates one adapter per enabled provider.
func buildConnectors(cfg config.Config, tokens token.Store, log *slog.Logger) []provider.Connector {
	var connectors []provider.Connector
	pageSize := cfg.Sync.PageSize

	if p := cfg.Providers.NSDC; p.Enabled {
		connectors = append(connectors, nsdc.New(nsdc.Config{
			BaseURL:      p.BaseURL,
			IssuerID:     p.IssuerID,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			PageSize:     pageSize,
		}, tokens))
	}
	if p := cfg.Providers.SIH; p.Enabled {
		connectors = append(connectors, sih.New(sih.Config{
			BaseURL:  p.BaseURL,
			IssuerID: p.IssuerID,
			APIKey:   p.APIKey,
			PageSize: pageSize,
		}))
	}
	if p := cfg.Providers.Udemy; p.Enabled {
		connectors = append(connectors, udemy.New(udemy.Config{
			BaseURL:      p.BaseURL,
			IssuerID:     p.IssuerID,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			PageSize:     pageSize,
		}, tokens))
	}
	if len(connectors) == 0 {
		log.Warn("no providers enabled")
	}
	return connectors
}

// webhookSecrets collects the signing secrets of providers whose push
// endpoint is enabled.
func webhookSecrets(cfg config.Config) map[models.Provider]string {
	secrets := make(map[models.Provider]string)
	if p := cfg.Providers.NSDC; p.Enabled && p.WebhookSecret != "" {
		secrets[models.ProviderNSDC] = p.WebhookSecret
	}
	if p := cfg.Providers.SIH; p.Enabled && p.WebhookSecret != "" {
		secrets[models.ProviderSIH] = p.WebhookSecret
	}
	if p := cfg.Providers.Udemy; p.Enabled && p.WebhookSecret != "" {
		secrets[models.ProviderUdemy] = p.WebhookSecret
	}
	return secrets
}

// runLedgerSweeper periodically re-drives credentials that never received a
// ledger confirmation.
func runLedgerSweeper(ctx context.Context, queue *ledger.Queue, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := queue.Sweep(ctx, 0)
			if err != nil {
				log.ErrorContext(ctx, "ledger sweep failed", "error", err)
				continue
			}
			if result.Resubmitted > 0 {
				log.InfoContext(ctx, "ledger sweep completed",
					"resubmitted", result.Resubmitted,
					"confirmed", result.Confirmed,
					"failed", result.Failed,
				)
			}
		}
	}
}
