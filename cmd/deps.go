package cmd

import (
	"context"
	"time"

	"quizgen/internal/adapter/outbound/llm"
	outboundmsg "quizgen/internal/adapter/outbound/messaging"
	"quizgen/internal/adapter/outbound/repository"
	"quizgen/internal/application/common/slogger"
	"quizgen/internal/application/service"
	"quizgen/internal/application/worker"
	"quizgen/internal/config"
	"quizgen/internal/domain/pricing"
	"quizgen/internal/observability"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultDatabaseHost = "localhost"

// appDependencies wires the shared object graph used by the worker and jobs
// commands.
type appDependencies struct {
	pool            *pgxpool.Pool
	repo            *repository.PostgresJobRepository
	queue           *outboundmsg.NATSJobQueue
	processor       *worker.JobProcessor
	inline          *service.InlineExecutor
	jobs            *service.DefaultJobService
	recovery        *service.RecoveryService
	shutdownMetrics func(context.Context) error
}

func buildDependencies(cfg *config.Config) (*appDependencies, error) {
	pool, err := setupDatabaseConnection(cfg)
	if err != nil {
		return nil, err
	}

	pricingCalc, err := buildPricingCalculator(cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	contentStore := repository.NewPostgresContentStore(pool)
	repo := repository.NewPostgresJobRepository(pool, pricingCalc, contentStore)

	queue, err := outboundmsg.NewNATSJobQueue(cfg.NATS)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := queue.Connect(); err != nil {
		// An unreachable broker is not fatal: jobs run inline until it
		// comes back.
		slogger.WarnNoCtx("Queue broker unreachable, jobs will run inline", slogger.Fields{
			"url":   cfg.NATS.URL,
			"error": err.Error(),
		})
	}

	llmClient, err := llm.NewOpenAIClient(cfg.OpenAI)
	if err != nil {
		queue.Close()
		pool.Close()
		return nil, err
	}

	shutdownMetrics, err := observability.SetupMeterProvider("quizgen", Version)
	if err != nil {
		slogger.WarnNoCtx("Meter provider unavailable", slogger.Fields{"error": err.Error()})
		shutdownMetrics = nil
	}

	metrics, err := observability.NewWorkerMetrics()
	if err != nil {
		slogger.WarnNoCtx("Worker metrics unavailable", slogger.Fields{"error": err.Error()})
		metrics = nil
	}

	processor := worker.NewJobProcessor(
		repo, queue, llmClient, llmClient, metrics,
		cfg.Generation, cfg.Worker.JobTimeout,
	)
	inline := service.NewInlineExecutor(processor, cfg.Worker.Concurrency)
	jobs := service.NewDefaultJobService(repo, queue, inline, cfg.Generation.MaxPerJob)
	recovery := service.NewRecoveryService(
		repo, queue, inline,
		cfg.Worker.StuckJobMaxAge, cfg.Worker.RecoveryInterval,
	)

	return &appDependencies{
		pool:            pool,
		repo:            repo,
		queue:           queue,
		processor:       processor,
		inline:          inline,
		jobs:            jobs,
		recovery:        recovery,
		shutdownMetrics: shutdownMetrics,
	}, nil
}

// Close releases the graph's connections after in-flight inline jobs finish.
func (d *appDependencies) Close() {
	d.inline.Wait()
	d.queue.Close()
	d.pool.Close()
	if d.shutdownMetrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.shutdownMetrics(ctx); err != nil {
			slogger.WarnNoCtx("Metric provider shutdown failed", slogger.Fields{"error": err.Error()})
		}
	}
}

// setupDatabaseConnection initializes the database connection with defaults.
func setupDatabaseConnection(cfg *config.Config) (*pgxpool.Pool, error) {
	dbConfig := repository.DatabaseConfig{
		Host:           cfg.Database.Host,
		Port:           cfg.Database.Port,
		Database:       cfg.Database.Name,
		Username:       cfg.Database.User,
		Password:       cfg.Database.Password,
		Schema:         "quizgen",
		MaxConnections: cfg.Database.MaxConnections,
		SSLMode:        cfg.Database.SSLMode,
	}

	if dbConfig.Host == "" {
		dbConfig.Host = defaultDatabaseHost
	}
	if dbConfig.Port == 0 {
		dbConfig.Port = 5432
	}
	if dbConfig.MaxConnections == 0 {
		dbConfig.MaxConnections = 10
	}
	if dbConfig.SSLMode == "" {
		dbConfig.SSLMode = "disable"
	}

	return repository.NewDatabaseConnection(dbConfig)
}

// buildPricingCalculator loads the optional rates overlay on top of the
// built-in table.
func buildPricingCalculator(cfg *config.Config) (*pricing.Calculator, error) {
	if cfg.Pricing.RatesFile == "" {
		return pricing.NewCalculator(), nil
	}
	return pricing.NewCalculatorFromFile(cfg.Pricing.RatesFile)
}
