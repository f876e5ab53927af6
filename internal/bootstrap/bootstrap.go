package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/docextract/internal/config"
	"github.com/kirillkom/docextract/internal/core/ports"
	"github.com/kirillkom/docextract/internal/core/usecase"
	rediscache "github.com/kirillkom/docextract/internal/infrastructure/cache/redis"
	"github.com/kirillkom/docextract/internal/infrastructure/chunking"
	"github.com/kirillkom/docextract/internal/infrastructure/events"
	"github.com/kirillkom/docextract/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/docextract/internal/infrastructure/extractor/source"
	"github.com/kirillkom/docextract/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docextract/internal/infrastructure/llm/openai"
	"github.com/kirillkom/docextract/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docextract/internal/infrastructure/repository/memory"
	"github.com/kirillkom/docextract/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docextract/internal/infrastructure/resilience"
	"github.com/kirillkom/docextract/internal/infrastructure/schemas"
	"github.com/kirillkom/docextract/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/docextract/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Metrics *metrics.WorkerMetrics

	// Queue is nil when QUEUE_ENABLED=false.
	Queue     ports.MessageQueue
	Documents ports.DocumentStore
	Schemas   *schemas.Registry

	IngestUC   *usecase.IngestDocumentUseCase
	ProcessUC  *usecase.ProcessDocumentUseCase
	SessionUC  *usecase.SessionUseCase
	ReviewUC   *usecase.ReviewUseCase
	SLAUC      *usecase.SLAUseCase
	SettingsUC *usecase.SettingsUseCase
	SLAMonitor *usecase.SLAMonitor

	closers []func()
}

type stores struct {
	documents ports.DocumentStore
	sessions  ports.SessionStore
	reviews   ports.ReviewTaskStore
	slaRules  ports.SlaRuleStore
	settings  ports.SettingsStore
}

// New wires every adapter and use case. service names the process in
// metrics and Kafka client ids.
func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	app := &App{Config: cfg, Metrics: metrics.NewWorkerMetrics(service)}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	st, err := app.openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Documents = st.documents

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	registry, err := schemas.Load(cfg.SchemaPath)
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	app.Schemas = registry

	executor := resilience.NewExecutor(resilience.ModelCallConfig().Tune(tuning(cfg))).
		WithRetryObserver(app.Metrics.ObserveRetry)

	if cfg.QueueEnabled {
		queue, err := nats.NewWithOptions(cfg.NATSURL, nats.Subjects{
			Documents: cfg.NATSDocumentSubject,
			Sessions:  cfg.NATSSessionSubject,
		}, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(resilience.QueueConfig().Tune(tuning(cfg))).
				WithRetryObserver(app.Metrics.ObserveRetry),
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.Queue = queue
		app.closers = append(app.closers, queue.Close)
	}

	notifier, err := app.newNotifier(cfg, service)
	if err != nil {
		return nil, err
	}

	usage := usecase.NewUsageLedger(app.Metrics)
	ollamaClient := ollama.New(cfg.OllamaURL,
		ollama.WithExecutor(executor),
		ollama.WithRateLimit(cfg.ModelRateLimitRPS, cfg.ModelRateLimitBurst),
		ollama.WithUsageRecorder(usage),
		ollama.WithCallTimeout(cfg.ModelCallTimeout),
	)
	openaiClient := openai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey,
		openai.WithExecutor(executor),
		openai.WithRateLimit(cfg.ModelRateLimitRPS, cfg.ModelRateLimitBurst),
		openai.WithUsageRecorder(usage),
		openai.WithCallTimeout(cfg.ModelCallTimeout),
		openai.WithPricing(openai.Pricing{
			PromptPer1K:     cfg.OpenAIPromptPricePer1K,
			CompletionPer1K: cfg.OpenAICompletionPrice1K,
		}),
	)

	var checker ports.ConsistencyChecker
	switch strings.ToLower(strings.TrimSpace(cfg.CheckerProvider)) {
	case "ollama":
		checker = ollama.NewChecker(ollamaClient, cfg.OllamaCheckModel)
	default:
		checker = openai.NewChecker(openaiClient, cfg.OpenAICheckModel)
	}

	app.SLAUC = usecase.NewSLAUseCase(st.reviews, st.slaRules, usecase.SLAConfig{
		DefaultWarningMinutes: cfg.SLAWarningMinutes,
		DefaultBreachMinutes:  cfg.SLABreachMinutes,
	})
	app.ReviewUC = usecase.NewReviewUseCase(st.reviews, st.documents, app.SLAUC,
		usecase.WithReviewNotifier(notifier),
		usecase.WithReviewExporter(xlsx.NewReviewExporter()),
		usecase.WithDefaultAssignee(cfg.ReviewDefaultAssignee),
	)
	app.SettingsUC = usecase.NewSettingsUseCase(st.settings, cfg.AutoApproveThreshold)
	app.SLAMonitor = usecase.NewSLAMonitor(app.SLAUC, st.reviews, notifier, app.Metrics)

	app.ProcessUC = usecase.NewProcessDocumentUseCase(usecase.ProcessDeps{
		Documents: st.documents,
		Loader:    source.NewLoader(storage, chunking.NewSplitter(cfg.TableMinCells), int64(cfg.MaxUploadBytes)),
		Schemas:   registry,
		Assessor:  usecase.NewQualityAssessor(cfg.OCRQualityThreshold),
		Extraction: usecase.NewExtractionRunner(cfg.ExtractionBatchSize,
			ollama.NewOCREngine(ollamaClient, cfg.OllamaOCRModel),
			openai.NewGeneralEngine(openaiClient, cfg.OpenAIGeneralModel),
		),
		Reconciler: usecase.NewReconciler(openai.NewReExtractor(openaiClient, cfg.OpenAIReconcileModel), cfg.FieldConfidenceFloor),
		Verifier:   usecase.NewVerifier(checker, cfg.VerifyBatchSize),
		Settings:   app.SettingsUC,
		Usage:      usage,
		Notifier:   notifier,
		Reviews:    app.ReviewUC,
		Metrics:    app.Metrics,
	}, usecase.ProcessConfig{
		ReconcileThreshold: cfg.ReconcileThreshold,
		QualityTimeout:     cfg.QualityTimeout,
	})

	app.IngestUC = usecase.NewIngestDocumentUseCase(st.documents, storage, registry, app.Queue)

	sessionOpts := []usecase.SessionOption{
		usecase.WithSessionNotifier(notifier),
		usecase.WithSessionMetrics(app.Metrics),
	}
	if app.Queue != nil {
		sessionOpts = append(sessionOpts, usecase.WithSessionQueue(app.Queue))
	}
	app.SessionUC = usecase.NewSessionUseCase(st.sessions, st.documents, app.ProcessUC, cfg.SessionConcurrency, sessionOpts...)

	slog.Info("bootstrap_ready",
		"service", service,
		"store_driver", cfg.StoreDriver,
		"queue_enabled", cfg.QueueEnabled,
		"checker_provider", cfg.CheckerProvider,
		"schemas", len(registry.List()),
	)
	ok = true
	return app, nil
}

func (a *App) openStores(ctx context.Context, cfg config.Config) (stores, error) {
	var st stores
	switch strings.ToLower(strings.TrimSpace(cfg.StoreDriver)) {
	case "memory":
		db := memory.NewDB()
		st = stores{
			documents: db.Documents(),
			sessions:  db.Sessions(),
			reviews:   db.Reviews(),
			slaRules:  db.SlaRules(),
			settings:  db.Settings(),
		}
	case "postgres", "":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return stores{}, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return stores{}, fmt.Errorf("ensure schema: %w", err)
		}
		st = stores{
			documents: postgres.NewDocumentRepository(db),
			sessions:  postgres.NewSessionRepository(db),
			reviews:   postgres.NewReviewRepository(db),
			slaRules:  postgres.NewSlaRuleRepository(db),
			settings:  postgres.NewSettingsRepository(db),
		}
	default:
		return stores{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	client, err := rediscache.Open(ctx, cfg.RedisURL)
	if err != nil {
		return stores{}, fmt.Errorf("open redis: %w", err)
	}
	if client != nil {
		a.closers = append(a.closers, func() { _ = client.Close() })
		st.slaRules = rediscache.NewSlaRuleCache(client, st.slaRules, cfg.SLARuleTTL)
	}
	return st, nil
}

// newNotifier always logs events and also publishes them to Kafka when
// brokers are configured.
func (a *App) newNotifier(cfg config.Config, service string) (ports.Notifier, error) {
	notifiers := events.Multi{events.NewLogNotifier(slog.Default())}
	if strings.TrimSpace(cfg.KafkaBrokers) == "" {
		return notifiers, nil
	}
	client, err := events.NewKafkaClient(cfg.KafkaBrokers, service)
	if err != nil {
		return nil, fmt.Errorf("init kafka client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	return append(notifiers, events.NewKafkaNotifier(client, cfg.KafkaTopic)), nil
}

func tuning(cfg config.Config) resilience.Tuning {
	return resilience.Tuning{
		MaxAttempts:    cfg.RetryMaxAttempts,
		InitialBackoff: cfg.RetryInitialBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
		FailureRatio:   cfg.BreakerFailureRatio,
		OpenTimeout:    cfg.BreakerOpenTimeout,
		DisableBreaker: !cfg.BreakerEnabled,
	}
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
