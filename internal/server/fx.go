// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/api"
	"github.com/JakeFAU/listing-crawler/internal/blocklist"
	"github.com/JakeFAU/listing-crawler/internal/clock/system"
	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/convert"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/dispatcher"
	"github.com/JakeFAU/listing-crawler/internal/engine"
	collyfetcher "github.com/JakeFAU/listing-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/listing-crawler/internal/filter"
	"github.com/JakeFAU/listing-crawler/internal/hash/sha256"
	"github.com/JakeFAU/listing-crawler/internal/id/uuid"
	"github.com/JakeFAU/listing-crawler/internal/logging"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
	"github.com/JakeFAU/listing-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/listing-crawler/internal/policy/ratestate"
	"github.com/JakeFAU/listing-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/listing-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/listing-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/listing-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/listing-crawler/internal/queue/memory"
	"github.com/JakeFAU/listing-crawler/internal/source"
	"github.com/JakeFAU/listing-crawler/internal/source/jsonapi"
	gcsstorage "github.com/JakeFAU/listing-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/listing-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/listing-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/listing-crawler/internal/storage/postgres"
	"github.com/JakeFAU/listing-crawler/internal/worker"
	"github.com/JakeFAU/listing-crawler/internal/workqueue"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	state        *ratestate.State
	filters      *filter.Holder
	blockList    crawler.BlockList
	redisBlock   *blocklist.Redis
	sources      *source.Registry
	sessions     *memoryStorage.SessionStore
	engine       *engine.Engine
	progressHub  *progress.Hub
	convertQueue *workqueue.Queue
	queue        *queueMemory.Queue
	dispatch     *dispatcher.Dispatcher
	worker       *worker.Worker
	apiServer    *api.Server
	idGen        crawler.IDGenerator
	clock        crawler.Clock

	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	pgPool          *pgxpool.Pool
	registerer      prometheus.Registerer
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Only non-sensitive fields are logged.
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.Int("workers", cfg.Crawler.Workers),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("blocklist_backend", cfg.BlockList.Backend),
	)
	return &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		idGen:  uuid.New(),
	}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Sources returns the source registry so callers can add sources that are not
// declared in configuration.
func (a *App) Sources() *source.Registry {
	return a.sources
}

// Handler returns the HTTP handler of the API server.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not drain before the shutdown deadline")
	}

	return a.Close(shutdownCtx)
}

// Crawl runs one session in-process, including hand-off, and returns its
// final record and result view.
func (a *App) Crawl(ctx context.Context, req crawler.SessionRequest) (crawler.SessionRecord, crawler.ResultView, error) {
	if _, err := a.sources.Lookup(req.Source); err != nil {
		return crawler.SessionRecord{}, crawler.ResultView{}, fmt.Errorf("lookup source: %w", err)
	}
	if req.StartPage == 0 {
		req.StartPage = 1
	}
	id, err := a.idGen.NewID()
	if err != nil {
		return crawler.SessionRecord{}, crawler.ResultView{}, fmt.Errorf("generate session id: %w", err)
	}
	now := a.clock.Now()
	if err := a.sessions.Create(ctx, crawler.SessionRecord{
		ID:        id,
		Request:   req,
		Status:    crawler.StatusQueued,
		Submitted: now,
	}); err != nil {
		return crawler.SessionRecord{}, crawler.ResultView{}, fmt.Errorf("create session: %w", err)
	}
	a.state.ClearStop()
	// A one-shot crawl is its own download side: conversions run right away.
	a.state.SetActivelyWorking(true)
	a.worker.Process(ctx, crawler.QueueItem{SessionID: id, Request: req, Submitted: now.Unix()})
	if err := a.convertQueue.Wait(ctx); err != nil {
		a.logger.Warn("conversions still running", zap.Error(err))
	}

	record, err := a.sessions.Get(ctx, id)
	if err != nil {
		return crawler.SessionRecord{}, crawler.ResultView{}, fmt.Errorf("load session: %w", err)
	}
	view, err := a.sessions.Result(ctx, id)
	if err != nil && !errors.Is(err, memoryStorage.ErrNotFinished) {
		return record, crawler.ResultView{}, fmt.Errorf("load result: %w", err)
	}
	return record, view, nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.convertQueue != nil {
		if err := a.convertQueue.Close(ctx); err != nil {
			a.logger.Warn("conversions did not settle before close", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if a.redisBlock != nil {
		if err := a.redisBlock.Close(); err != nil {
			a.logger.Warn("redis block list close failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithOptions(ctx, cfg, Options{Logger: logger})
}

// Options overrides process-wide collaborators used by Build.
type Options struct {
	Logger *zap.Logger
	// Registerer receives the progress collectors; nil means the default registry.
	Registerer prometheus.Registerer
}

// BuildWithOptions is Build with caller-supplied logger and registry.
func BuildWithOptions(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	app, err := NewApp(cfg, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	app.registerer = opts.Registerer
	if app.registerer == nil {
		app.registerer = prometheus.DefaultRegisterer
	}
	metrics.Init()

	app.logger.Info("building application dependencies")
	app.state = ratestate.New()
	app.state.SetElevated(cfg.Account.Elevated)
	app.sessions = memoryStorage.NewSessionStore()

	if err := setupBlockList(ctx, app); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	pipeline, err := filter.New(cfg.Filter, app.blockList, app.logger.Named("filter"))
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, fmt.Errorf("filter init failed: %w", err)
	}
	app.filters = filter.NewHolder(pipeline)
	app.logger.Info("filter pipeline compiled", zap.Strings("stages", pipeline.Stages()))

	if err := setupSources(app); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	if err := setupDatabase(ctx, app); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	if err := setupProgress(app); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	app.engine = engine.New(engine.Options{
		Config: engine.Config{
			StandardPageCap:   cfg.Crawler.StandardPageCap,
			ElevatedPageCap:   cfg.Crawler.ElevatedPageCap,
			SampleEvery:       cfg.Crawler.SampleEvery,
			RateLimitCooldown: cfg.Crawler.RateLimitCooldown,
			SlowModeDelay:     cfg.Crawler.SlowModeDelay,
			SlowModeAutoPages: cfg.Crawler.SlowModeAutoPages,
		},
		State:    app.state,
		Filters:  app.filters,
		Retry:    crawler.NewExponentialRetryPolicy(cfg.RetryPolicy()),
		Clock:    app.clock,
		Progress: app.progressHub,
		Logger:   app.logger.Named("engine"),
	})

	if err := setupDispatcher(app, blobStore, publisher); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	app.apiServer = api.NewServer(api.Deps{
		Sessions:     app.sessions,
		Dispatcher:   app.dispatch,
		Sources:      app.sources,
		State:        app.state,
		Filters:      app.filters,
		BlockList:    app.blockList,
		Refilterer:   app.engine,
		ConvertQueue: app.convertQueue,
		IDGen:        app.idGen,
		Clock:        app.clock,
		Ready:        app.ready,
	}, *cfg, app.logger.Named("api"))

	return app, nil
}

func (a *App) ready(ctx context.Context) error {
	if a.redisBlock != nil {
		if err := a.redisBlock.Ping(ctx); err != nil {
			return fmt.Errorf("block list unavailable: %w", err)
		}
	}
	return nil
}

func setupBlockList(ctx context.Context, app *App) error {
	switch app.cfg.BlockList.Backend {
	case "redis":
		redisList, err := blocklist.NewRedis(ctx,
			app.cfg.BlockList.Redis.URL,
			app.cfg.BlockList.Redis.Key,
			app.logger.Named("blocklist"),
		)
		if err != nil {
			return fmt.Errorf("redis block list init failed: %w", err)
		}
		app.redisBlock = redisList
		app.blockList = redisList
	default:
		static := blocklist.NewStatic(app.cfg.BlockList.Users)
		app.blockList = static
		app.logger.Info("using static block list", zap.Int("users", static.Len()))
	}
	return nil
}

func setupSources(app *App) error {
	app.sources = source.NewRegistry()
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   app.cfg.Source.RateLimitRPS,
		DefaultBurst: app.cfg.Source.Burst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: app.cfg.Source.UserAgent,
		Timeout:   app.cfg.Source.Timeout,
		Limiter:   limiter,
	})
	for _, sc := range app.cfg.Sources {
		sortOrder, err := sc.SortOrder()
		if err != nil {
			return fmt.Errorf("source %s: %w", sc.Name, err)
		}
		unit, err := sc.Unit()
		if err != nil {
			return fmt.Errorf("source %s: %w", sc.Name, err)
		}
		src, err := jsonapi.New(jsonapi.Config{
			Name:         sc.Name,
			ListURL:      sc.ListURL,
			ItemURL:      sc.ItemURL,
			ItemsPerPage: sc.ItemsPerPage,
			ReportsTotal: sc.ReportsTotal,
			SortOrder:    sortOrder,
			BudgetUnit:   unit,
		}, fetcher, app.logger.Named("source").With(zap.String("source", sc.Name)))
		if err != nil {
			return fmt.Errorf("source %s init failed: %w", sc.Name, err)
		}
		if err := app.sources.Register(src); err != nil {
			return fmt.Errorf("register source: %w", err)
		}
	}
	app.logger.Info("sources registered",
		zap.Strings("sources", app.sources.Names()),
		zap.Float64("rate_limit_rps", app.cfg.Source.RateLimitRPS),
	)
	return nil
}

func setupStorage(ctx context.Context, app *App) (crawler.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend")
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: app.cfg.Storage.Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		return blobStore, nil
	case "local":
		app.logger.Info("using local storage backend")
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	pg := app.cfg.Export.Postgres
	if pg.DSN == "" {
		app.logger.Warn("no DSN specified for export, skipping result export and run history")
		return nil
	}
	pool, err := pgstore.Open(ctx, pgstore.Config{
		DSN:      pg.DSN,
		Table:    pg.Table,
		MaxConns: pg.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	app.pgPool = pool
	app.logger.Info("postgres pool initialized", zap.String("table", pg.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = gcppublisher.New(client.Publisher(app.cfg.PubSub.TopicName))
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}

func setupProgress(app *App) error {
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(app.sessions, app.logger.Named("progress_sessions")),
	}
	promSink, err := progresssinks.NewPrometheusSink(app.registerer)
	if err != nil {
		return fmt.Errorf("prometheus progress sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if app.pgPool != nil {
		runs, err := pgstore.NewRunRecorder(app.pgPool, "")
		if err != nil {
			return fmt.Errorf("run recorder init failed: %w", err)
		}
		sinkList = append(sinkList, progresssinks.NewStoreSink(runs, app.logger.Named("progress_runs")))
		app.logger.Debug("added postgres run history sink")
	}
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("added progress log sink")
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.Batch.MaxEvents,
		FlushInterval:  app.cfg.Progress.Batch.MaxWait,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("flush_interval", hubCfg.FlushInterval),
	)
	return nil
}

func setupDispatcher(app *App, blobStore crawler.BlobStore, publisher crawler.Publisher) error {
	var err error
	app.convertQueue, err = workqueue.New(app.cfg.Convert.Concurrency, app.state, app.logger.Named("convert_queue"))
	if err != nil {
		return fmt.Errorf("convert queue init failed: %w", err)
	}
	converter, err := convert.NewBlobConverter(blobStore, app.cfg.Convert.Prefix, app.clock, app.logger.Named("convert"))
	if err != nil {
		return fmt.Errorf("converter init failed: %w", err)
	}

	var exporter crawler.ResultExporter
	if app.pgPool != nil {
		pgExporter, err := pgstore.NewResultExporter(app.pgPool, app.cfg.Export.Postgres.Table)
		if err != nil {
			return fmt.Errorf("result exporter init failed: %w", err)
		}
		exporter = pgExporter
	}

	app.queue = queueMemory.NewQueue(app.cfg.Crawler.QueueDepth)
	deps := worker.Deps{
		Queue:        app.queue,
		Sessions:     app.sessions,
		Sources:      app.sources,
		Engine:       app.engine,
		BlobStore:    blobStore,
		Publisher:    publisher,
		Exporter:     exporter,
		Converter:    converter,
		Digester:     sha256.New(),
		ConvertQueue: app.convertQueue,
		Clock:        app.clock,
	}
	workerCfg := worker.Config{
		BlobPrefix: app.cfg.Storage.Prefix,
		Topic:      app.cfg.PubSub.TopicName,
		Budget:     app.cfg.Budget,
	}
	app.logger.Info("worker config",
		zap.Int("workers", app.cfg.Crawler.Workers),
		zap.Int("queue_depth", app.cfg.Crawler.QueueDepth),
		zap.String("blob_prefix", workerCfg.BlobPrefix),
		zap.String("topic", workerCfg.Topic),
		zap.Int("convert_concurrency", app.cfg.Convert.Concurrency),
	)
	app.dispatch = dispatcher.NewPool(app.cfg.Crawler.Workers, deps, workerCfg, app.logger.Named("worker"))
	app.worker = worker.New(deps, workerCfg, app.logger.Named("worker").With(zap.String("mode", "inline")))
	return nil
}
