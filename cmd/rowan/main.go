package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/Ramsey-B/rowan/config"
	"github.com/Ramsey-B/rowan/internal/handlers"
	"github.com/Ramsey-B/rowan/internal/repositories"
	"github.com/Ramsey-B/rowan/pkg/database"
	"github.com/Ramsey-B/rowan/pkg/dedup"
	"github.com/Ramsey-B/rowan/pkg/events"
	"github.com/Ramsey-B/rowan/pkg/graph"
	"github.com/Ramsey-B/rowan/pkg/health"
	"github.com/Ramsey-B/rowan/pkg/kafka"
	"github.com/Ramsey-B/rowan/pkg/leads"
	"github.com/Ramsey-B/rowan/pkg/loader"
	"github.com/Ramsey-B/rowan/pkg/locking"
	"github.com/Ramsey-B/rowan/pkg/matching"
	"github.com/Ramsey-B/rowan/pkg/middleware"
	"github.com/Ramsey-B/rowan/pkg/normalizers"
	"github.com/Ramsey-B/rowan/pkg/pipeline"
	"github.com/Ramsey-B/rowan/pkg/redis"
	"github.com/Ramsey-B/rowan/pkg/relationships"
	"github.com/Ramsey-B/rowan/pkg/scoring"
	"github.com/Ramsey-B/rowan/pkg/startup"
	"github.com/Ramsey-B/rowan/pkg/store"
	"github.com/Ramsey-B/rowan/pkg/tracing"
	"github.com/Ramsey-B/rowan/pkg/tracing/exporters"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rowan: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (ectologger.Logger, func(), error) {
	zcfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = level

	zapLogger, err := zcfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), func() { _ = zapLogger.Sync() }, nil
}

// app holds the wired components of the service
type app struct {
	cfg    *config.Config
	logger ectologger.Logger

	db        *database.DatabaseInstance
	store     store.Store
	redis     *redis.Client
	graph     *graph.Client
	producer  *kafka.Producer
	consumer  *kafka.Consumer
	hub       *events.Hub
	pipeline  *pipeline.Service
	projector *graph.Projector
	checker   *health.Checker
	server    *http.Server
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, sync, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.OtelEnabled,
		ServiceName: cfg.AppName,
		OTLP: exporters.OTLPConfig{
			Endpoint: cfg.OtelEndpoint,
			Protocol: cfg.OtelProtocol,
			Insecure: cfg.OtelInsecure,
			Timeout:  10 * time.Second,
		},
	})
	if err != nil {
		return err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		hub:     events.NewHub(logger, events.DefaultBuffer),
		checker: health.NewChecker(cfg.Version),
	}

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&startup.Dependency{Name: "store", StartFunc: a.startStore, StopFunc: a.stopStore})
	boot.AddDependency(&startup.Dependency{Name: "redis", StartFunc: a.startRedis, StopFunc: a.stopRedis})
	boot.AddDependency(&startup.Dependency{Name: "graph", StartFunc: a.startGraph, StopFunc: a.stopGraph})
	boot.AddDependency(&startup.Dependency{Name: "kafka-producer", StartFunc: a.startProducer, StopFunc: a.stopProducer})
	boot.AddDependency(&startup.Dependency{
		Name:      "pipeline",
		Requires:  []string{"store", "redis", "graph", "kafka-producer"},
		StartFunc: a.startPipeline,
		StopFunc:  a.stopPipeline,
	})
	boot.AddDependency(&startup.Dependency{
		Name:      "kafka-consumer",
		Requires:  []string{"pipeline"},
		StartFunc: a.startConsumer,
		StopFunc:  a.stopConsumer,
	})
	boot.AddDependency(&startup.Dependency{
		Name:      "http",
		Requires:  []string{"pipeline"},
		StartFunc: a.startServer,
		StopFunc:  a.stopServer,
	})

	if err := boot.Start(ctx); err != nil {
		return err
	}
	a.checker.SetReady(true)
	logger.Infof("%s %s listening on :%d", cfg.AppName, cfg.Version, cfg.Port)

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	a.checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	stopErr := boot.Stop(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}
	return stopErr
}

func (a *app) startStore(ctx context.Context) error {
	if a.cfg.StoreDriver == "memory" {
		a.logger.Warn("Using the in-memory store, data is lost on restart")
		a.store = store.NewMemory()
		a.checker.AddCheck("store", true, a.store.Ping)
		return nil
	}

	db, err := database.Open(ctx, database.Config{
		Host:            a.cfg.DatabaseHost,
		Port:            a.cfg.DatabasePort,
		User:            a.cfg.DatabaseUserName,
		Password:        a.cfg.DatabasePassword,
		Name:            a.cfg.DatabaseName,
		SSLMode:         a.cfg.DatabaseSSLMode,
		MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return err
	}

	migrations := database.NewMigrationService(a.logger, database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(db.DB, a.cfg.DatabaseName); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	a.db = db
	a.store = repositories.NewStore(db, a.logger)
	a.checker.AddCheck("store", true, a.store.Ping)
	return nil
}

func (a *app) stopStore(context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *app) startRedis(ctx context.Context) error {
	if !a.cfg.RedisEnabled {
		return nil
	}
	client, err := redis.NewClient(ctx, redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redis = client
	// resolution cannot take family locks without redis
	a.checker.AddCheck("redis", true, client.Ping)
	return nil
}

func (a *app) stopRedis(context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *app) startGraph(ctx context.Context) error {
	if !a.cfg.GraphEnabled {
		return nil
	}
	client, err := graph.NewClient(graph.Config{
		Host:     a.cfg.GraphDBHost,
		Port:     a.cfg.GraphDBPort,
		Username: a.cfg.GraphDBUser,
		Password: a.cfg.GraphDBPassword,
	}, a.logger)
	if err != nil {
		return err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return err
	}
	a.graph = client
	a.checker.AddCheck("graph", false, client.VerifyConnectivity)
	return nil
}

func (a *app) stopGraph(ctx context.Context) error {
	if a.graph == nil {
		return nil
	}
	return a.graph.Close(ctx)
}

func (a *app) startProducer(context.Context) error {
	if !a.cfg.KafkaProducerEnabled {
		return nil
	}
	a.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      a.cfg.KafkaBrokers,
		Topic:        a.cfg.KafkaProgressTopic,
		BatchSize:    a.cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(a.cfg.KafkaBatchTimeoutMs) * time.Millisecond,
		RequiredAcks: a.cfg.KafkaRequiredAcks,
		Compression:  a.cfg.KafkaCompression,
	}, a.logger)
	return nil
}

func (a *app) stopProducer(context.Context) error {
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

func (a *app) startPipeline(ctx context.Context) error {
	var locker locking.Locker = locking.NewKeyedMutex()
	if a.redis != nil {
		locker = redis.NewLocker(a.redis, "", a.cfg.LockTTL, a.cfg.LockTimeout)
	}

	matcher := matching.NewMatcher(matching.Config{
		NameWeight:         a.cfg.NameWeight,
		BirthDateWeight:    a.cfg.BirthDateWeight,
		BirthPlaceWeight:   a.cfg.BirthPlaceWeight,
		BirthCountryWeight: a.cfg.BirthCountryWeight,
		AutoMergeThreshold: a.cfg.AutoMergeThreshold,
		ReviewThreshold:    a.cfg.ReviewThreshold,
		DateToleranceYears: a.cfg.DateProximityYears,
		NeutralScore:       a.cfg.NeutralScore,
	})
	resolver := dedup.NewDeduplicator(a.store, matcher, locker, a.logger, a.cfg.ResolveMaxRetries)
	scorer := scoring.NewScorer(a.store, a.logger, a.cfg.LeadAncestorCountry)

	var publisher events.Publisher = a.hub
	if a.producer != nil {
		publisher = events.Multi{a.hub, events.NewKafkaEmitter(a.producer, a.logger)}
	}

	deps := pipeline.Dependencies{
		Store:      a.store,
		Normalizer: normalizers.NewNormalizer(a.cfg.DestinationCountry),
		Resolver:   resolver,
		Extractor:  relationships.NewExtractor(resolver, a.store, a.logger),
		Scorer:     scorer,
		Publisher:  publisher,
	}
	if a.graph != nil {
		a.projector = graph.NewProjector(a.graph, a.store, a.logger)
		deps.Projector = a.projector
	}

	a.pipeline = pipeline.NewService(pipeline.Config{
		WorkerCount:  a.cfg.PipelineWorkerCount,
		QueueSize:    a.cfg.PipelineQueueSize,
		LeadMinScore: a.cfg.LeadMinScore,
	}, deps, a.logger)
	if err := a.pipeline.Start(ctx); err != nil {
		return err
	}

	a.server = a.newServer(resolver, scorer)
	return nil
}

func (a *app) stopPipeline(ctx context.Context) error {
	if a.pipeline == nil {
		return nil
	}
	return a.pipeline.Stop(ctx)
}

func (a *app) startConsumer(ctx context.Context) error {
	if !a.cfg.KafkaConsumerEnabled {
		return nil
	}
	handler := kafka.NewIngestHandler(a.pipeline, validator.New(validator.WithRequiredStructEnabled()), a.logger)
	a.consumer = kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       a.cfg.KafkaBrokers,
		Topic:         a.cfg.KafkaIngestTopic,
		ConsumerGroup: a.cfg.KafkaConsumerGroup,
	}, a.logger, handler)
	if err := a.consumer.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	a.checker.AddCheck("kafka", false, func(context.Context) error {
		if !a.consumer.Health() {
			return errors.New("consumer is not running")
		}
		return nil
	})
	return nil
}

func (a *app) stopConsumer(context.Context) error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Stop()
}

func (a *app) newServer(resolver *dedup.Deduplicator, scorer *scoring.Scorer) *http.Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: a.cfg.AllowOrigins}))
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	a.checker.RegisterRoutes(e)

	var projector handlers.Projector
	if a.projector != nil {
		projector = a.projector
	}

	api := e.Group("/api/v1")
	handlers.NewIngestHandler(a.pipeline, loader.NewLoader(a.cfg.SampleDataDir, a.pipeline, a.logger), a.logger).Register(api)
	handlers.NewJobHandler(a.pipeline, a.logger).Register(api)
	handlers.NewLeadHandler(leads.NewService(a.store, scorer, a.logger, a.cfg.LeadMinScore, a.cfg.LeadAncestorCountry), a.logger).Register(api)
	handlers.NewMatchCandidateHandler(a.store, resolver, scorer, projector, a.logger).Register(api)
	handlers.NewProgressHandler(a.hub, handlers.DefaultHeartbeat, a.logger).Register(api)

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Port),
		Handler:      e,
		ReadTimeout:  time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
	}
}

func (a *app) startServer(context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// surface bind errors to the startup retry loop
	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-time.After(200 * time.Millisecond):
		return nil
	}
}

func (a *app) stopServer(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
