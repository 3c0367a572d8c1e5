package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"concierge/internal/adapters/ai"
	"concierge/internal/adapters/config"
	"concierge/internal/adapters/crm"
	"concierge/internal/adapters/embeddings"
	"concierge/internal/adapters/errors/noop"
	"concierge/internal/adapters/errors/sentry"
	kafkaadapter "concierge/internal/adapters/kafka"
	"concierge/internal/adapters/postgres"
	redisadapter "concierge/internal/adapters/redis"
	"concierge/internal/cache"
	"concierge/internal/consumers"
	"concierge/internal/domain/agent"
	"concierge/internal/domain/session"
	"concierge/internal/metrics"
	redisrepo "concierge/internal/repository/redis"
	"concierge/internal/services/compliance"
	"concierge/internal/services/gateway"
	"concierge/internal/services/handoff"
	"concierge/internal/services/orchestrator"
	"concierge/internal/services/quota"
	"concierge/internal/services/scoring"
	"concierge/pkg/errors"
	"concierge/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	metrics.Register()
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.Serve(cfg.Metrics.Port)
		log.Infof("Metrics listening on :%d", cfg.Metrics.Port)
	}

	// Stores
	redisClient, err := redisadapter.NewClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pgClient.Close()

	// Tiered response cache
	tiers := []cache.Tier{
		cache.NewL1(cfg.Cache.L1MaxEntries, cfg.Cache.L1TTL),
		cache.NewL2(redisClient.Client(), cfg.Cache.L2TTL),
	}
	l3 := initSemanticTier(cfg, pgClient, log)
	if l3 != nil {
		tiers = append(tiers, l3)
	}
	tiered := cache.NewTiered(cfg.Cache.TierTimeout, tiers...)

	// Model gateway
	chain, err := ai.BuildChain(cfg.AI, cfg.Compliance.FallbackText)
	if err != nil {
		log.Fatalf("Failed to build provider chain: %v", err)
	}
	gw := gateway.New(tiered, chain, cfg.AI.RequestTimeout)

	// Sessions and snapshots
	sessionRepo := redisrepo.NewSessionRepository(redisClient.Client())
	registry := session.NewRegistry(sessionRepo, cfg.Session.InactivityWindow, cfg.Session.LockTimeout)
	snapshotRepo := redisrepo.NewSnapshotRepository(redisClient.Client())

	// Handoff pipeline
	committedPub := kafkaadapter.NewProducer(cfg.Kafka.Brokers, kafkaadapter.TopicHandoffsCommitted)
	rejectedPub := kafkaadapter.NewProducer(cfg.Kafka.Brokers, kafkaadapter.TopicHandoffsRejected)
	flaggedPub := kafkaadapter.NewProducer(cfg.Kafka.Brokers, kafkaadapter.TopicComplianceFlagged)
	deferredPub := kafkaadapter.NewProducer(cfg.Kafka.Brokers, kafkaadapter.TopicDeferredSends)
	defer func() {
		for _, p := range []*kafkaadapter.Producer{committedPub, rejectedPub, flaggedPub, deferredPub} {
			if err := p.Close(); err != nil {
				log.Warnf("Failed to close producer: %v", err)
			}
		}
	}()

	candidates := agent.Registry()
	packager := handoff.NewPackager(cfg.Handoff.SnapshotTurns, cfg.Handoff.SnapshotTTL)
	engine := handoff.NewEngine(cfg.Handoff, packager, snapshotRepo, committedPub, rejectedPub)
	scorer := scoring.New(cfg.Scorer, candidates)

	// CRM
	crmClient := crm.NewClient(cfg.CRM)

	gate, err := compliance.NewGate(cfg.Compliance, crmClient, flaggedPub)
	if err != nil {
		log.Fatalf("Failed to build compliance gate: %v", err)
	}

	limiter := quota.NewLimiter(cfg.Quota, redisrepo.NewQuotaStore(redisClient.Client()))

	orch := orchestrator.New(
		*cfg, registry, scorer, engine, snapshotRepo, gw, gate, limiter,
		crmClient, crmClient, deferredPub, candidates,
	)

	log.Info("System initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startConsumers(ctx, cfg, orch, deferredPub, log)
	if l3 != nil {
		go runCacheSweeper(ctx, l3, cfg.Workers.SnapshotGCInterval, log)
	}
	go runSessionSweeper(ctx, registry, cfg.Workers.SessionGCInterval, log)

	waitForShutdown(ctx, cancel, errorTracker, metricsSrv, log)
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// initSemanticTier builds the persistent cache tier. It needs an
// embedding provider, so without an OpenAI key the system runs on the
// first two tiers only.
func initSemanticTier(cfg *config.Config, pg *postgres.Client, log *logger.Logger) *cache.L3 {
	if cfg.AI.OpenAIKey == "" {
		log.Warn("No OpenAI key configured, persistent semantic tier disabled")
		return nil
	}

	embedder, err := embeddings.NewOpenAIProvider(cfg.AI.OpenAIKey, cfg.AI.EmbeddingModel, cfg.AI.RequestTimeout)
	if err != nil {
		log.Warnf("Failed to initialize embeddings, persistent semantic tier disabled: %v", err)
		return nil
	}

	return cache.NewL3(pg.DB(), embedder, cfg.Cache.L3TTL, cfg.Cache.SemanticThreshold)
}

// startConsumers launches the Kafka intake and redelivery loops
func startConsumers(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, deferredPub *kafkaadapter.Producer, log *logger.Logger) {
	inbound := consumers.NewInboundConsumer(
		kafkaadapter.NewConsumer(kafkaadapter.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topic:   kafkaadapter.TopicInboundMessages,
		}),
		orch,
		cfg.Workers.InboundConcurrency,
	)
	go func() {
		if err := inbound.Start(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("Inbound consumer exited: %v", err)
		}
	}()

	deferred := consumers.NewDeferredConsumer(
		kafkaadapter.NewConsumer(kafkaadapter.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID + "-deferred",
			Topic:   kafkaadapter.TopicDeferredSends,
		}),
		orch,
		deferredPub,
		cfg.Workers.DeferredPollInterval,
		5,
	)
	go func() {
		if err := deferred.Start(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("Deferred consumer exited: %v", err)
		}
	}()

	log.Info("Consumers started")
}

// runCacheSweeper periodically evicts expired rows from the persistent
// cache tier. Redis-backed state expires by TTL and needs no sweeping.
func runCacheSweeper(ctx context.Context, l3 *cache.L3, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l3.DeleteExpired(ctx)
			if err != nil {
				log.Warnf("Cache sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Infof("Cache sweep removed %d expired entries", n)
			}
		}
	}
}

// runSessionSweeper archives sessions that went quiet without a closing
// message, so idle conversations reach the archive before retention
// deletes them.
func runSessionSweeper(ctx context.Context, registry *session.Registry, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := registry.ArchiveIdle(ctx); err != nil {
				log.Warnf("Session sweep failed: %v", err)
			}
		}
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, errorTracker errors.Tracker, metricsSrv *http.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down...")

	cancel()

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Failed to stop metrics server: %v", err)
		}
	}

	if errorTracker != nil {
		if err := errorTracker.Flush(ctx); err != nil {
			log.Warnf("Failed to flush error tracker: %v", err)
		}
	}

	log.Info("Shutdown complete")
}
