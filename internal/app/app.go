package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"CompanyResearcher/internal/collector"
	"CompanyResearcher/internal/config"
	"CompanyResearcher/internal/curation"
	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/infrastructure/archive"
	"CompanyResearcher/internal/infrastructure/crawler"
	"CompanyResearcher/internal/infrastructure/events"
	"CompanyResearcher/internal/infrastructure/llm"
	"CompanyResearcher/internal/infrastructure/recordsync"
	"CompanyResearcher/internal/infrastructure/scheduler"
	"CompanyResearcher/internal/infrastructure/search"
	"CompanyResearcher/internal/infrastructure/storage"
	"CompanyResearcher/internal/infrastructure/telegram"
	"CompanyResearcher/internal/logging"
	"CompanyResearcher/internal/metrics"
	"CompanyResearcher/internal/pipeline"
	"CompanyResearcher/internal/ports"
	"CompanyResearcher/internal/stages"
	"CompanyResearcher/internal/transport/httpapi"
	"CompanyResearcher/internal/usecase"
)

const notifyTimeout = 10 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	registry  *usecase.Registry
	tracker   *pipeline.Tracker
	admission *usecase.Admission
	metrics   *metrics.Metrics
	server    *httpapi.Server
	retention *usecase.Retention
	pinger    *recordsync.StatusPinger

	closers []func() error
}

// Adapters overrides the external adapters; nil fields are built from config.
type Adapters struct {
	Searcher   ports.Searcher
	Crawler    ports.Crawler
	Extractor  ports.ContentExtractor
	Generator  ports.TextGenerator
	Archive    ports.ContextArchive
	RecordSync ports.RecordSync
	Repository ports.JobRepository
}

// New builds a runnable application from config.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	return NewWithAdapters(ctx, cfg, baseLogger, Adapters{})
}

// NewWithAdapters is New with injectable adapters.
func NewWithAdapters(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, ad Adapters) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger, metrics: metrics.New()}

	if err := a.buildAdapters(ctx, &ad); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.registry = usecase.NewRegistry(usecase.RegistryDeps{
		Repository: ad.Repository,
		Observers:  []usecase.JobObserver{a.metrics},
		Logger:     baseLogger.With("component", "registry"),
	})
	a.metrics.WatchJobs(a.registry)

	categories := make([]domain.Category, 0, len(cfg.Categories))
	for _, cat := range cfg.Categories {
		categories = append(categories, domain.Category(cat.Name))
	}
	a.tracker = pipeline.NewTracker(stages.ProgressOrder(categories), baseLogger.With("component", "progress"))
	a.tracker.SubscribeAll(a.registry)

	if ad.RecordSync != nil {
		a.pinger = recordsync.NewStatusPinger(ad.RecordSync, a.recordID, baseLogger.With("component", "recordsync.status"))
		a.tracker.SubscribeAll(a.pinger)
		a.registry.AddObserver(a.pinger)
	}
	if len(cfg.Events.KafkaBrokers) > 0 {
		log := baseLogger.With("component", "events.kafka")
		publisher := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Events.KafkaBrokers, cfg.Events.Topic, log), log)
		a.tracker.SubscribeAll(publisher)
		a.closers = append(a.closers, publisher.Close)
	}
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		a.registry.AddObserver(notifyObserver(telegram.NewNotifier(tg.BotToken, tg.ChatID), baseLogger.With("component", "telegram")))
	}

	collectors := collector.NewRegistry()
	for _, cat := range cfg.Categories {
		collectors.Register(collector.NewQueryCollector(collector.QuerySpec{
			Category:          domain.Category(cat.Name),
			Label:             cat.Label,
			Templates:         cat.Queries,
			IncludeSiteScrape: cat.IncludeSiteScrape,
			Topic:             cat.Topic,
			GeneratedQueries:  cfg.Pipeline.GeneratedQueries,
			MaxContentLength:  cfg.Pipeline.MaxContentLength,
		}, ad.Searcher, ad.Generator))
	}

	curator := curation.NewCurator(curation.Options{
		Threshold:            cfg.Curation.Threshold,
		MaxDocuments:         cfg.Curation.MaxDocuments,
		MinFirstPartyContent: cfg.Curation.MinFirstPartyContent,
		OfficialMarkers:      cfg.Curation.OfficialMarkers,
		TopicMarkers:         cfg.Curation.TopicMarkers,
	}, baseLogger.With("component", "curation")).WithObserver(a.metrics.DocumentKept)

	graph, err := stages.BuildGraph(stages.Deps{
		Categories:     cfg.Categories,
		Pipeline:       cfg.Pipeline,
		Classification: cfg.Classification,
		Collectors:     collectors,
		Curator:        curator,
		Crawler:        ad.Crawler,
		Extractor:      ad.Extractor,
		Generator:      ad.Generator,
		Archive:        ad.Archive,
		RecordSync:     ad.RecordSync,
		Logger:         baseLogger.With("component", "stages"),
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	executor := pipeline.NewExecutor(graph, pipeline.WithReporter(a.tracker), pipeline.WithObserver(a.metrics))
	researcher := usecase.NewResearcher(usecase.ResearcherDeps{
		Executor: executor,
		Logger:   baseLogger.With("component", "research"),
	})
	a.admission = usecase.NewAdmission(usecase.AdmissionDeps{
		Capacity: cfg.Admission.Capacity,
		Registry: a.registry,
		Runner:   researcher,
		Logger:   baseLogger.With("component", "admission"),
	})

	a.server = httpapi.New(httpapi.Deps{
		Jobs:     a.admission,
		Registry: a.registry,
		Progress: a.tracker,
		Metrics:  a.metrics.Handler(),
		Logger:   baseLogger.With("component", "http"),
	})
	a.registry.AddObserver(a.server)
	a.retention = usecase.NewRetention(usecase.RetentionDeps{
		Driver:   scheduler.NewTickerScheduler(cfg.Retention.Interval),
		Registry: a.registry,
		MaxAge:   cfg.Retention.MaxAge,
		Forget:   a.tracker.Forget,
		Logger:   baseLogger.With("component", "retention"),
	})

	return a, nil
}

func (a *Application) buildAdapters(ctx context.Context, ad *Adapters) error {
	cfg := a.cfg
	if ad.Searcher == nil && cfg.Search.APIKey != "" {
		ad.Searcher = search.NewClient(cfg.Search)
	}
	if ad.Searcher == nil {
		return errors.New("no search backend configured (set SEARCH_API_KEY)")
	}
	if ad.Crawler == nil || ad.Extractor == nil {
		site := crawler.NewSiteCrawler(nil, cfg.Crawler, a.logger.With("component", "crawler"))
		if ad.Crawler == nil {
			ad.Crawler = site
		}
		if ad.Extractor == nil {
			ad.Extractor = site
		}
	}
	if ad.Generator == nil && cfg.ChatGPT.APIKey != "" {
		ad.Generator = llm.NewChatGPTClient(cfg.ChatGPT)
	}
	if ad.Generator == nil {
		a.logger.Warn("no text generator configured, briefings will be empty and jobs will fail")
	}
	if ad.Archive == nil && cfg.Archive.ElasticsearchAddr != "" {
		es, err := archive.NewElasticArchive(cfg.Archive.ElasticsearchAddr, cfg.Archive.Index, a.logger.With("component", "archive"))
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
		ad.Archive = es
	}
	if ad.RecordSync == nil && cfg.RecordSync.Endpoint != "" {
		ad.RecordSync = recordsync.NewClient(cfg.RecordSync)
	}
	if ad.Repository == nil && cfg.Database.DSN != "" {
		repo, err := storage.Open(ctx, cfg.Database.DSN, a.logger.With("component", "storage"))
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		ad.Repository = repo
		a.closers = append(a.closers, repo.Close)
	}
	return nil
}

// Handler exposes the HTTP API.
func (a *Application) Handler() http.Handler {
	return a.server.Routes()
}

// Serve runs the HTTP API and the retention ticker until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.retention.Start(ctx); err != nil {
		return fmt.Errorf("start retention: %w", err)
	}

	httpServer := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("api server starting", "addr", a.cfg.Server.Addr, "capacity", a.admission.Capacity())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		a.logger.Error("server stopped", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown", "error", err)
	}
	return errors.Join(serveErr, a.shutdown(shutdownCtx))
}

// RunOnce submits one job, waits for it to finish and returns the final snapshot.
func (a *Application) RunOnce(ctx context.Context, input domain.JobInput) (domain.Job, error) {
	finished := make(chan domain.Job, 16)
	a.registry.AddObserver(usecase.JobObserverFunc(func(_ context.Context, job domain.Job) {
		if !job.Status.Terminal() {
			return
		}
		select {
		case finished <- job:
		default:
		}
	}))

	job, err := a.admission.Submit(ctx, input)
	if err != nil {
		return domain.Job{}, err
	}

	var final domain.Job
wait:
	for {
		select {
		case j := <-finished:
			if j.ID == job.ID {
				final = j
				break wait
			}
		case <-ctx.Done():
			break wait
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		a.logger.Warn("shutdown", "error", err)
	}
	if final.ID == "" {
		// Interrupted: report whatever state shutdown left the job in.
		if stored, err := a.registry.Get(context.Background(), job.ID); err == nil {
			final = stored
		}
		return final, ctx.Err()
	}
	return final, nil
}

func (a *Application) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.admission.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("admission: %w", err))
	}
	if err := a.retention.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}
	if a.pinger != nil {
		a.pinger.Wait()
	}
	errs = append(errs, a.Close())
	return errors.Join(errs...)
}

// Close releases adapters.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *Application) recordID(jobID string) string {
	job, err := a.registry.Get(context.Background(), jobID)
	if err != nil {
		return ""
	}
	return job.Input.RecordID
}

func notifyObserver(n ports.Notifier, logger *slog.Logger) usecase.JobObserver {
	return usecase.JobObserverFunc(func(ctx context.Context, job domain.Job) {
		if !job.Status.Terminal() {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
			defer cancel()
			if err := n.NotifyJob(ctx, job); err != nil {
				logger.Warn("notify job", "job_id", job.ID, "error", err)
			}
		}()
	})
}
