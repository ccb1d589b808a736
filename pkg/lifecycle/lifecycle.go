// Package lifecycle wires the orchestrator's startup sequence — store
// connections, leader election, the recovery sweep, schedule
// restoration, and the Management API — into a single runnable
// process, and coordinates its graceful shutdown.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	config "leadforge/configs"
	"leadforge/pkg/api"
	"leadforge/pkg/api/middleware"
	"leadforge/pkg/auth"
	"leadforge/pkg/budget"
	"leadforge/pkg/coordination"
	"leadforge/pkg/coordination/etcd"
	"leadforge/pkg/dispatcher"
	"leadforge/pkg/logger"
	"leadforge/pkg/metrics"
	"leadforge/pkg/models"
	"leadforge/pkg/notifier"
	"leadforge/pkg/observability/tracing"
	"leadforge/pkg/runner"
	"leadforge/pkg/scheduler"
	"leadforge/pkg/storage"
	"leadforge/pkg/storage/archive"
	"leadforge/pkg/storage/postgres"
	"leadforge/pkg/storage/redis"
)

// Orchestrator bundles every process-lifetime dependency.
type Orchestrator struct {
	cfg         *config.Config
	store       *postgres.PostgresStore
	budgetCache *redis.BudgetCache
	etcdCoord   *etcd.EtcdCoordinator
	election    coordination.Election
	scheduler   *scheduler.Scheduler
	runner      *runner.Runner
	server      *api.Server
	tracer      *tracing.Provider
}

// New connects every dependency and assembles the orchestrator. It
// does not start serving or scheduling; call Run for that.
func New(cfg *config.Config) (*Orchestrator, error) {
	tracingCfg := tracing.DefaultConfig("leadforge-orchestrator")
	tracingCfg.Enabled = cfg.TracingEnabled
	tracingCfg.Endpoint = cfg.OTLPEndpoint
	tracer, err := tracing.Init(context.Background(), tracingCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}

	if cfg.DBHost == "" {
		logger.Get().Warn("no store configured, starting in API-only mode with the scheduler disabled")
		srv := api.NewServer(api.Config{Port: cfg.APIPort})
		return &Orchestrator{cfg: cfg, server: srv, tracer: tracer}, nil
	}

	connStr := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
	store, err := postgres.NewPostgresStore(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	budgetCache, err := redis.NewBudgetCache(cfg.RedisAddr, 30*time.Second)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	etcdCoord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
	if err != nil {
		store.Close()
		budgetCache.Close()
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	var archiveStore storage.ArchiveStore
	if cfg.S3Bucket != "" {
		archiveStore, err = archive.NewS3Store(archive.S3StoreConfig{
			Bucket:   cfg.S3Bucket,
			Prefix:   "raw-results",
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 archive: %w", err)
		}
	} else {
		archiveStore, err = archive.NewLocalStore("./data/archive")
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local archive: %w", err)
		}
	}

	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}

	budgetGate := budget.New(store, budgetCache, loc)
	notify := notifier.New(notifier.Config{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	})
	dispatch := dispatcher.New()
	campaignRunner := runner.New(store, store, archiveStore, budgetGate, dispatch, notify, cfg.RawResultArchiveThresholdBytes)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "orchestrator-unknown"
	}
	election := etcdCoord.NewElection("leadforge-orchestrator")

	sched := scheduler.New(campaignRunner, store, budgetCache, hostname, loc)

	authCfg, authOn, err := buildAuthGate(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure auth: %w", err)
	}
	var authMW gin.HandlerFunc
	if authOn {
		authMW = middleware.AuthMiddleware(authCfg)
	}

	srv := api.NewServer(api.Config{
		Port:      cfg.APIPort,
		Campaigns: store,
		Runs:      store,
		Archive:   archiveStore,
		Scheduler: sched,
		Runner:    campaignRunner,
		Budget:    budgetGate,
		Notifier:  notify,
		Election:  election,
		AuthMW:    authMW,
	})

	return &Orchestrator{
		cfg:         cfg,
		store:       store,
		budgetCache: budgetCache,
		etcdCoord:   etcdCoord,
		election:    election,
		scheduler:   sched,
		runner:      campaignRunner,
		server:      srv,
		tracer:      tracer,
	}, nil
}

// buildAuthGate constructs the gin auth middleware when AUTH_ENABLED is
// set; otherwise routes are left unguarded.
func buildAuthGate(cfg *config.Config) (middleware.AuthConfig, bool, error) {
	if !cfg.AuthEnabled {
		return middleware.AuthConfig{}, false, nil
	}
	defaults := auth.DefaultJWTConfig()
	defaults.SecretKey = cfg.JWTSecret
	defaults.Issuer = cfg.JWTIssuer
	jwtSvc, err := auth.NewJWTService(defaults)
	if err != nil {
		return middleware.AuthConfig{}, false, err
	}
	client := redislib.NewClient(&redislib.Options{Addr: cfg.RedisAddr})
	keyStore := auth.NewRedisAPIKeyStore(client)
	return middleware.AuthConfig{
		JWTService:  jwtSvc,
		APIKeyStore: keyStore,
		SkipPaths:   []string{"/api/health", "/api/stats", "/metrics"},
	}, true, nil
}

// Run serves the Management API, campaigns the orchestrator for
// leadership and, once elected, performs the startup recovery sweep and
// restores active schedules; it returns when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	log := logger.Get()

	errCh := make(chan error, 1)
	go func() { errCh <- o.server.Start() }()

	if o.store == nil {
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return o.shutdown()
		}
	}

	election := o.election
	log.Info("campaigning for orchestrator leadership")
	electCtx, cancelElect := context.WithCancel(ctx)
	defer cancelElect()

	leaderCh := make(chan error, 1)
	go func() { leaderCh <- election.Campaign(electCtx, hostnameOr("orchestrator")) }()

	select {
	case err := <-leaderCh:
		if err != nil {
			return fmt.Errorf("leader election failed: %w", err)
		}
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return o.shutdown()
	}
	log.Info("acquired orchestrator leadership")

	if err := o.recoverStaleRuns(ctx); err != nil {
		log.Warn("recovery sweep encountered an error", zap.Error(err))
	}

	if o.cfg.EnableCronOnStartup {
		active, err := o.store.ListActiveCampaigns(ctx)
		if err != nil {
			log.Warn("failed to load active campaigns for scheduling", zap.Error(err))
		} else {
			o.scheduler.ScheduleAll(active)
		}
		o.scheduler.Start()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return o.shutdown()
	}
}

// Reload re-reads the active campaign set from the store and replaces
// every registered schedule with a fresh one, for operator-driven
// config refresh (SIGHUP).
func (o *Orchestrator) Reload(ctx context.Context) error {
	if o.store == nil || o.scheduler == nil {
		return nil
	}

	active, err := o.store.ListActiveCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload active campaigns: %w", err)
	}

	o.scheduler.StopAll()
	o.scheduler.ScheduleAll(active)
	o.scheduler.Start()

	logger.Get().Info("schedules reloaded", zap.Int("active", len(active)))
	return nil
}

func (o *Orchestrator) shutdown() error {
	log := logger.Get()
	log.Info("shutting down orchestrator")

	if o.scheduler != nil {
		o.scheduler.StopAll()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.server.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown error", zap.Error(err))
	}

	if o.election != nil {
		if err := o.election.Resign(context.Background()); err != nil {
			log.Warn("failed to resign leadership", zap.Error(err))
		}
	}

	if o.etcdCoord != nil {
		o.etcdCoord.Close()
	}
	if o.budgetCache != nil {
		o.budgetCache.Close()
	}
	if o.store != nil {
		o.store.Close()
	}

	if err := o.tracer.Shutdown(shutdownCtx); err != nil {
		log.Warn("tracer shutdown error", zap.Error(err))
	}

	log.Info("shutdown complete")
	return nil
}

// recoverStaleRuns marks runs orphaned by a prior crash (stuck in
// `running` past the configured threshold) as failed.
func (o *Orchestrator) recoverStaleRuns(ctx context.Context) error {
	threshold, err := time.ParseDuration(o.cfg.RecoveryStaleThreshold)
	if err != nil {
		threshold = 20 * time.Minute
	}
	cutoff := time.Now().Add(-threshold)

	stale, err := o.store.ListStaleRunning(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stale runs: %w", err)
	}

	for i := range stale {
		run := stale[i]
		now := time.Now()
		patch := map[string]interface{}{
			"status":       models.RunFailed,
			"completed_at": now,
			"errors": models.RunErrors{{
				Step:      "recovery",
				Error:     "orphaned by orchestrator restart",
				Timestamp: now,
			}},
		}
		if err := o.store.UpdateRun(ctx, run.ID, patch); err != nil {
			logger.Get().Warn("failed to mark stale run failed", zap.String("run_id", run.ID.String()), zap.Error(err))
			continue
		}
		metrics.OrphansReaped.Inc()
	}

	logger.Get().Info("recovery sweep complete", zap.Int("reaped", len(stale)))
	return nil
}

func hostnameOr(fallback string) string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return fallback
	}
	return h
}
