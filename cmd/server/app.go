package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"pipscreen/internal/admin"
	jwttoken "pipscreen/internal/jwt_token"
	"pipscreen/internal/platform/config"
	"pipscreen/internal/platform/httpserver"
	platformmetrics "pipscreen/internal/platform/metrics"
	"pipscreen/internal/platform/migrations"
	"pipscreen/internal/platform/postgres"
	platformredis "pipscreen/internal/platform/redis"
	quotametrics "pipscreen/internal/quota/metrics"
	quotaservice "pipscreen/internal/quota/service"
	ratelimitmetrics "pipscreen/internal/ratelimit/metrics"
	ratelimitmw "pipscreen/internal/ratelimit/middleware"
	ratelimitmodels "pipscreen/internal/ratelimit/models"
	"pipscreen/internal/ratelimit/store/bucket"
	quotastore "pipscreen/internal/quota/store"
	registryhandler "pipscreen/internal/registry/handler"
	registryservice "pipscreen/internal/registry/service"
	registrystore "pipscreen/internal/registry/store"
	screeninghandler "pipscreen/internal/screening/handler"
	screeningmetrics "pipscreen/internal/screening/metrics"
	"pipscreen/internal/screening/progress"
	screeningservice "pipscreen/internal/screening/service"
	searchhandler "pipscreen/internal/search/handler"
	searchmetrics "pipscreen/internal/search/metrics"
	searchservice "pipscreen/internal/search/service"
	"pipscreen/internal/tokenindex"
	httptransport "pipscreen/internal/transport/http"
	audit "pipscreen/pkg/platform/audit"
	"pipscreen/pkg/platform/audit/publisher"
	"pipscreen/pkg/platform/audit/relay"
	auditmemory "pipscreen/pkg/platform/audit/store/memory"
	auditpostgres "pipscreen/pkg/platform/audit/store/postgres"
)

const auditBufferSize = 1024

// registryBackend is what the registry store must offer to every consumer.
type registryBackend interface {
	searchservice.Corpus
	registryservice.Store
	tokenindex.Source
}

type app struct {
	cfg     config.Server
	logger  *slog.Logger
	server  *http.Server
	relay   *relay.Relay
	closers []func()
}

func newApp(ctx context.Context, cfg config.Server, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()
	checks := map[string]httptransport.HealthCheck{}

	var (
		registry   registryBackend
		ledger     quotaservice.Store
		auditStore audit.Store
		outbox     *auditpostgres.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		applied, err := migrations.Up(ctx, db)
		if err != nil {
			return nil, err
		}
		logger.Info("database ready", "migrations_applied", applied)

		registry = registrystore.NewPostgres(db)
		ledger = quotastore.NewPostgres(db)
		outbox = auditpostgres.New(db)
		auditStore = outbox
		checks["postgres"] = db.PingContext
	} else {
		if cfg.IsProduction() {
			return nil, errors.New("DATABASE_URL is required in production")
		}
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		registry = registrystore.NewInMemory()
		ledger = quotastore.NewInMemory()
		auditStore = auditmemory.NewInMemoryStore()
	}

	auditPublisher := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(auditBufferSize),
		publisher.WithLogger(logger),
	)
	a.closers = append(a.closers, auditPublisher.Close)

	indexOpts := []tokenindex.Option{
		tokenindex.WithLogger(logger),
		tokenindex.WithAuditPublisher(auditPublisher),
		tokenindex.WithMetrics(tokenindex.NewMetrics()),
		tokenindex.WithMaxAge(cfg.Screening.TokenIndexMaxAge),
	}
	var (
		tracker screeningservice.Tracker
		buckets ratelimitmw.BucketStore
	)
	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		a.closers = append(a.closers, func() { _ = rc.Close() })
		checks["redis"] = rc.Health
		indexOpts = append(indexOpts, tokenindex.WithSnapshot(
			tokenindex.NewRedisSnapshot(rc.Client, tokenindex.WithSnapshotNamespace(cfg.Environment)),
		))
		tracker = progress.NewRedis(rc.Client, cfg.Screening.ProgressTTL)
		buckets = bucket.NewRedisBucketStore(rc.Client)
	} else {
		tracker = progress.NewInMemory(cfg.Screening.ProgressTTL)
		buckets = bucket.NewInMemoryBucketStore()
	}

	if err := a.setupRelay(ctx, outbox, checks); err != nil {
		return nil, err
	}

	quota, err := quotaservice.New(ledger,
		quotaservice.WithLogger(logger),
		quotaservice.WithAuditPublisher(auditPublisher),
		quotaservice.WithMetrics(quotametrics.New()),
	)
	if err != nil {
		return nil, err
	}
	index, err := tokenindex.New(registry, indexOpts...)
	if err != nil {
		return nil, err
	}
	search, err := searchservice.New(registry, quota,
		searchservice.WithLogger(logger),
		searchservice.WithAuditPublisher(auditPublisher),
		searchservice.WithMetrics(searchmetrics.New()),
	)
	if err != nil {
		return nil, err
	}
	screening, err := screeningservice.New(registry, quota, index,
		screeningservice.WithLogger(logger),
		screeningservice.WithAuditPublisher(auditPublisher),
		screeningservice.WithMetrics(screeningmetrics.New()),
		screeningservice.WithProgress(tracker),
		screeningservice.WithConcurrency(cfg.Screening.BulkConcurrency),
		screeningservice.WithSuggestions(cfg.Screening.Suggestions),
	)
	if err != nil {
		return nil, err
	}
	capture, err := registryservice.New(registry, index,
		registryservice.WithLogger(logger),
		registryservice.WithAuditPublisher(auditPublisher),
	)
	if err != nil {
		return nil, err
	}

	limiter := ratelimitmw.New(buckets, rateLimits(cfg.RateLimit), logger,
		ratelimitmw.WithDisabled(cfg.RateLimit.Disabled),
		ratelimitmw.WithMetrics(ratelimitmetrics.New()),
	)

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:         logger,
		Metrics:        platformmetrics.New(prometheus.DefaultRegisterer),
		MetricsHandler: promhttp.Handler(),
		Validator:      jwttoken.NewJWTServiceAdapter(jwtService),
		AdminToken:     cfg.AdminToken,
		AdminTokenHash: cfg.AdminTokenHash,
		RateLimiter:    limiter,
		Authenticated: []httptransport.Mount{
			{Registrar: searchhandler.New(search, quota, logger), Class: ratelimitmodels.ClassSearch},
			{Registrar: screeninghandler.New(screening, logger), Class: ratelimitmodels.ClassBulk},
			{Registrar: registryhandler.New(capture, logger), Class: ratelimitmodels.ClassWrite},
		},
		Admin:        []httptransport.Registrar{admin.New(index, logger)},
		HealthChecks: checks,
	})
	a.server = httpserver.New(cfg.Addr, router)
	return a, nil
}

func rateLimits(cfg config.RateLimitConfig) map[ratelimitmodels.EndpointClass]ratelimitmodels.Limit {
	return map[ratelimitmodels.EndpointClass]ratelimitmodels.Limit{
		ratelimitmodels.ClassSearch: {Requests: cfg.Search, Window: cfg.Window},
		ratelimitmodels.ClassBulk:   {Requests: cfg.Bulk, Window: cfg.Window},
		ratelimitmodels.ClassWrite:  {Requests: cfg.Write, Window: cfg.Window},
	}
}

// setupRelay starts nothing; it builds the Kafka relay when both the outbox
// and brokers are configured.
func (a *app) setupRelay(ctx context.Context, outbox *auditpostgres.Store, checks map[string]httptransport.HealthCheck) error {
	brokers := a.cfg.Kafka.Brokers
	if len(brokers) == 0 {
		return nil
	}
	if outbox == nil {
		a.logger.Warn("KAFKA_BROKERS set without DATABASE_URL, audit relay disabled")
		return nil
	}
	producer, err := relay.NewKafkaProducer(brokers)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, producer.Close)
	checks["kafka"] = producer.Ping

	if err := producer.EnsureTopics(ctx, 1, 1, relay.Topics(a.cfg.Kafka.TopicPrefix)...); err != nil {
		a.logger.Warn("audit topics not ensured", "error", err)
	}
	r, err := relay.New(outbox, producer,
		relay.WithLogger(a.logger),
		relay.WithMetrics(relay.NewMetrics()),
		relay.WithTopicPrefix(a.cfg.Kafka.TopicPrefix),
		relay.WithBatchSize(a.cfg.Kafka.RelayBatch),
		relay.WithInterval(a.cfg.Kafka.RelayInterval),
	)
	if err != nil {
		return err
	}
	a.relay = r
	return nil
}

// run serves until ctx is cancelled, then shuts the server down and releases
// resources in reverse order of acquisition.
func (a *app) run(ctx context.Context) error {
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("starting pipscreen", "addr", a.server.Addr, "environment", a.cfg.Environment)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.relay != nil {
		g.Go(func() error {
			return a.relay.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.ShutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down", "timeout", a.cfg.ShutdownTimeout)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
