package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"os"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/auth"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/fetch"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/memory"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/postgres"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/providers"
	postgresqueue "github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/queue/redis"
	redisadapter "github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/redis"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driving/http"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/config"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/services"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/metrics"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/worker"
)

// stores is one storage backend's full set of driven ports.
type stores struct {
	consents driven.ConsentStore
	tenants  driven.TenantStore
	apiKeys  driven.APIKeyStore
	tokens   driven.TokenStore
	codes    driven.OneTimeCodeStore
	settings driven.ProviderSettingsStore
	syncs    driven.SyncStateStore
	records  driven.RecordStore
	steps    driven.StepStore
	states   driven.OAuthStateStore
	queue    driven.TaskQueue
	lock     driven.DistributedLock
}

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	checks  map[string]http.Pinger
	closers []func() error

	stores  stores
	metrics *metrics.Metrics
	server  *http.Server
	worker  *worker.Worker
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, checks: map[string]http.Pinger{}}
	if err := a.openStorage(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.openRedis(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.wire(); err != nil {
		a.close()
		return nil, err
	}
	if err := a.bootstrapTenant(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	owner := instanceID()

	if a.cfg.Storage.Mode == config.StorageMemory {
		a.logger.Warn("using in-memory storage; state is lost on restart")
		a.stores = stores{
			consents: memory.NewConsentStore(),
			tenants:  memory.NewTenantStore(),
			apiKeys:  memory.NewAPIKeyStore(),
			tokens:   memory.NewTokenStore(),
			codes:    memory.NewOneTimeCodeStore(),
			settings: memory.NewProviderSettingsStore(),
			syncs:    memory.NewSyncStateStore(),
			records:  memory.NewRecordStore(),
			steps:    memory.NewStepStore(),
			states:   memory.NewOAuthStateStore(),
			queue:    memory.NewQueue(),
			lock:     memory.NewLock(owner, gocache.New(time.Minute, 5*time.Minute)),
		}
		return nil
	}

	pg := a.cfg.Storage.Postgres
	db, err := postgres.Connect(ctx, postgres.Config{
		URL:             pg.URL,
		MaxOpenConns:    pg.MaxOpenConns,
		MaxIdleConns:    pg.MaxIdleConns,
		ConnMaxLifetime: pg.ConnMaxLifetime,
		ConnMaxIdleTime: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	a.checks["postgres"] = db

	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	a.logger.Info("postgres connected and schema initialized")

	key, err := a.cfg.EncryptionKeyBytes()
	if err != nil {
		return err
	}
	enc, err := postgres.NewSecretEncryptor(key)
	if err != nil {
		return fmt.Errorf("token encryptor: %w", err)
	}

	a.stores = stores{
		consents: postgres.NewConsentStore(db),
		tenants:  postgres.NewTenantStore(db),
		apiKeys:  postgres.NewAPIKeyStore(db),
		tokens:   postgres.NewTokenStore(db, enc),
		codes:    postgres.NewOneTimeCodeStore(db),
		settings: postgres.NewProviderSettingsStore(db),
		syncs:    postgres.NewSyncStateStore(db),
		records:  postgres.NewRecordStore(db),
		steps:    postgres.NewStepStore(db),
		states:   postgres.NewOAuthStateStore(db),
		queue:    postgresqueue.NewQueue(db.DB),
		lock:     postgres.NewAdvisoryLock(db),
	}
	return nil
}

// openRedis swaps the lock, queue and OAuth state store for Redis-backed
// ones when a Redis URL is configured.
func (a *app) openRedis(ctx context.Context) error {
	if a.cfg.Redis.URL == "" {
		a.logger.Info("redis not configured; using storage backend for lock, queue and oauth states")
		return nil
	}
	opts, err := redis.ParseURL(a.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	queue, err := redisqueue.NewQueue(ctx, client, "worker-"+instanceID(),
		redisqueue.WithClaimTimeout(a.cfg.Worker.ClaimTimeout))
	if err != nil {
		return fmt.Errorf("redis queue: %w", err)
	}
	a.closers = append(a.closers, queue.Close)
	a.stores.queue = queue
	a.stores.lock = redisadapter.NewLock(client)
	a.stores.states = redisadapter.NewOAuthStateStore(client)
	a.checks["redis"] = pingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
	a.logger.Info("redis connected")
	return nil
}

func (a *app) wire() error {
	cfg, s := a.cfg, a.stores
	a.metrics = metrics.New(prometheus.DefaultRegisterer)

	httpClient := &stdhttp.Client{Timeout: 30 * time.Second}
	endpoints := cfg.ProviderEndpoints()
	registry, err := providers.NewRegistry(providers.NewAdapters(endpoints, httpClient))
	if err != nil {
		return fmt.Errorf("provider registry: %w", err)
	}

	apis := fetch.DefaultAPIs()
	for p, ep := range endpoints {
		if api, ok := apis[p]; ok && ep.APIBaseURL != "" {
			api.BaseURL = ep.APIBaseURL
			apis[p] = api
		}
	}
	fetcher := fetch.NewHTTPFetcher(fetch.Config{
		APIs:       apis,
		HTTPClient: httpClient,
		PageSize:   cfg.Sync.PageSize,
		Logger:     a.logger,
	})

	authAdapter := auth.NewAdapter(cfg.Auth.JWTSecret)

	tokens := services.NewTokenManager(services.TokenManagerConfig{
		Tokens:      s.tokens,
		Consents:    s.consents,
		Settings:    s.settings,
		Registry:    registry,
		Lock:        s.lock,
		Metrics:     a.metrics,
		Logger:      a.logger,
		RefreshSkew: cfg.Tokens.RefreshSkew,
		LockTTL:     cfg.Tokens.LockTTL,
	})

	orchestrator := services.NewSyncOrchestrator(services.SyncOrchestratorConfig{
		Consents:       s.consents,
		SyncStore:      s.syncs,
		Records:        s.records,
		Steps:          s.steps,
		Fetcher:        fetcher,
		Tokens:         tokens,
		Queue:          s.queue,
		Metrics:        a.metrics,
		Logger:         a.logger,
		LeaseTTL:       cfg.Sync.LeaseTTL,
		MaxConcurrency: cfg.Sync.MaxConcurrency,
	})

	svc := http.Services{
		Auth: services.NewAuthService(s.tenants, s.apiKeys, s.consents, s.codes, authAdapter),
		Consents: services.NewConsentService(services.ConsentServiceConfig{
			Consents:  s.consents,
			Tenants:   s.tenants,
			Tokens:    s.tokens,
			Codes:     s.codes,
			Settings:  s.settings,
			SyncStore: s.syncs,
			Steps:     s.steps,
			Records:   s.records,
			Manager:   tokens,
			Logger:    a.logger,
		}),
		OAuth: services.NewOAuthService(services.OAuthServiceConfig{
			Registry:        registry,
			Consents:        s.consents,
			Settings:        s.settings,
			OAuthStateStore: s.states,
			Manager:         tokens,
			Logger:          a.logger,
		}),
		Sync: orchestrator,
	}

	a.server = http.NewServer(http.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		Version:       version,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		SessionCookie: cfg.Server.SessionCookie,
		Logger:        a.logger,
		Metrics:       a.metrics,
	}, svc, a.checks)

	var scheduler *services.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = services.NewScheduler(services.SchedulerConfig{
			TaskQueue: s.queue,
			States:    s.states,
			Lock:      s.lock,
			Logger:    a.logger,
			Interval:  cfg.Scheduler.Interval,
		})
	}
	wcfg := worker.WorkerConfig{
		TaskQueue:      s.queue,
		Orchestrator:   orchestrator,
		Metrics:        a.metrics,
		Logger:         a.logger,
		Concurrency:    cfg.Worker.Concurrency,
		DequeueTimeout: cfg.Worker.DequeueTimeout,
	}
	if scheduler != nil {
		wcfg.Scheduler = scheduler
	}
	a.worker = worker.NewWorker(wcfg)
	a.checks["queue"] = s.queue
	return nil
}

// bootstrapTenant upserts the configured tenant so a fresh deployment has
// a credential to call the API with.
func (a *app) bootstrapTenant(ctx context.Context) error {
	b := a.cfg.Bootstrap
	if b.TenantID == "" {
		return nil
	}
	name := b.TenantName
	if name == "" {
		name = b.TenantID
	}
	tenant := &domain.Tenant{
		ID:                 b.TenantID,
		Name:               name,
		MaxConsents:        b.MaxConsents,
		RateLimitPerMinute: b.RateLimitPerMinute,
		LegacyKeyHash:      auth.NewAdapter(a.cfg.Auth.JWTSecret).LegacyDigest(b.TenantKey),
		CreatedAt:          time.Now().UTC(),
	}
	if existing, err := a.stores.tenants.Get(ctx, b.TenantID); err == nil && existing != nil {
		tenant.CreatedAt = existing.CreatedAt
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("bootstrap tenant: %w", err)
	}
	if err := a.stores.tenants.Save(ctx, tenant); err != nil {
		return fmt.Errorf("bootstrap tenant: %w", err)
	}
	a.logger.Info("bootstrap tenant ready", "tenant_id", tenant.ID)
	return nil
}

// runAPI serves HTTP until ctx is done. withWorker embeds the task worker.
func (a *app) runAPI(ctx context.Context, withWorker bool) error {
	if withWorker {
		if err := a.worker.Start(ctx); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		defer a.worker.Stop()
	}
	return a.server.Start(ctx)
}

func (a *app) runWorker(ctx context.Context) error {
	if err := a.worker.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	<-ctx.Done()
	a.logger.Info("shutdown signal received, stopping worker")
	a.worker.Stop()
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func migrate(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Storage.Mode != config.StoragePostgres {
		return errors.New("migrate requires storage mode postgres")
	}
	db, err := postgres.Connect(ctx, postgres.Config{URL: cfg.Storage.Postgres.URL, MaxOpenConns: 2})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	logger.Info("schema up to date")
	return nil
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
