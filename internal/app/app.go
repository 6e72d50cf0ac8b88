// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/nudge/internal/config"
	"github.com/bissquit/nudge/internal/consumer"
	historymongo "github.com/bissquit/nudge/internal/history/mongo"
	"github.com/bissquit/nudge/internal/identity"
	"github.com/bissquit/nudge/internal/notifications"
	"github.com/bissquit/nudge/internal/notifications/push"
	"github.com/bissquit/nudge/internal/pkg/ctxlog"
	"github.com/bissquit/nudge/internal/pkg/httputil"
	"github.com/bissquit/nudge/internal/pkg/metrics"
	"github.com/bissquit/nudge/internal/pkg/mongodb"
	"github.com/bissquit/nudge/internal/pkg/postgres"
	"github.com/bissquit/nudge/internal/scheduler"
	"github.com/bissquit/nudge/internal/session"
	"github.com/bissquit/nudge/internal/settings"
	"github.com/bissquit/nudge/internal/store"
	storepostgres "github.com/bissquit/nudge/internal/store/postgres"
	"github.com/bissquit/nudge/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config *config.Config
	logger *slog.Logger

	db    *pgxpool.Pool
	mongo *mongodb.Client

	manager   *session.Manager
	limiter   *httputil.UserRateLimiter
	worker    *notifications.Worker
	scheduler *scheduler.Scheduler
	consumer  *consumer.Consumer

	server        *http.Server
	metricsServer *http.Server

	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// New creates a new application instance. PostgreSQL, MongoDB and RabbitMQ
// are optional: without a database URL engine state lives in memory,
// without a Mongo URI insights run on empty history and settings come from
// the configured defaults, and without an AMQP URL no events are consumed.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	a := &App{
		config:   cfg,
		logger:   logger,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}

	if err := a.init(); err != nil {
		a.closeStores(context.Background())
		bgCancel()
		return nil, err
	}
	return a, nil
}

func (a *App) init() error {
	cfg := a.config

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	kv, err := a.openStore(connectCtx)
	if err != nil {
		return err
	}

	deps := notifications.Deps{
		Settings: settings.NewStatic(cfg.Engine.Defaults),
		Store:    kv,
	}

	if cfg.Mongo.URI != "" {
		a.mongo, err = mongodb.Connect(connectCtx, cfg.Mongo)
		if err != nil {
			return fmt.Errorf("connect to mongodb: %w", err)
		}
		repo := historymongo.NewRepository(a.mongo.Database(), cfg.Engine.Defaults)
		if err := repo.EnsureIndexes(connectCtx); err != nil {
			return fmt.Errorf("ensure mongodb indexes: %w", err)
		}
		deps.History = repo
		deps.Settings = settings.Fallback{Primary: repo, Secondary: deps.Settings}
	} else {
		slog.Warn("mongodb is not configured: insights use empty history and settings use defaults")
	}

	sender, err := push.NewSender(connectCtx, cfg.Push)
	if err != nil {
		return fmt.Errorf("create push sender: %w", err)
	}
	if !cfg.Push.Enabled {
		slog.Warn("push sender is disabled: notifications will be logged, not delivered")
	}
	deps.Dispatcher = sender

	a.manager = session.NewManager(cfg.Engine.Notifications(), deps)
	n, err := a.manager.Preload(connectCtx)
	if err != nil {
		slog.Error("failed to preload sessions", "error", err)
	} else if n > 0 {
		slog.Info("preloaded sessions with queued notifications", "sessions", n)
	}

	a.worker = notifications.NewWorker(notifications.WorkerConfig{PollInterval: cfg.Engine.DrainInterval}, a.manager)
	a.limiter = httputil.NewUserRateLimiter(cfg.Server.UserRateLimit, cfg.Server.UserRateBurst)

	a.scheduler = scheduler.New(time.UTC)
	err = scheduler.RegisterEngineJobs(a.scheduler, a.manager, scheduler.EngineSchedules{
		Maintain:    cfg.Engine.MaintainSchedule,
		Burnout:     cfg.Engine.BurnoutSchedule,
		PeakTime:    cfg.Engine.PeakTimeSchedule,
		Evict:       cfg.Engine.EvictSchedule,
		IdleTimeout: cfg.Engine.IdleTimeout,
	}, a.limiter)
	if err != nil {
		return fmt.Errorf("register scheduled jobs: %w", err)
	}

	if cfg.AMQP.URL != "" {
		a.consumer, err = consumer.New(consumer.Config{
			URL:             cfg.AMQP.URL,
			Exchange:        cfg.AMQP.Exchange,
			Queue:           cfg.AMQP.Queue,
			RoutingKeys:     cfg.AMQP.RoutingKeys,
			Prefetch:        cfg.AMQP.Prefetch,
			ConnectAttempts: cfg.AMQP.ConnectAttempts,
			ReconnectDelay:  cfg.AMQP.ReconnectDelay,
		}, a.manager)
		if err != nil {
			return fmt.Errorf("create event consumer: %w", err)
		}
	}

	verifier, err := identity.NewVerifier(cfg.JWT)
	if err != nil {
		return fmt.Errorf("create token verifier: %w", err)
	}

	a.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           a.setupRouter(verifier),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	a.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return nil
}

func (a *App) openStore(ctx context.Context) (store.Store, error) {
	cfg := a.config.Database
	if cfg.URL == "" {
		slog.Warn("database is not configured: engine state is kept in memory and lost on restart")
		return store.NewMemory(), nil
	}

	db, err := postgres.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.db = db

	if cfg.Migrate {
		if err := postgres.Migrate(cfg.URL, storepostgres.Migrations, storepostgres.MigrationsDir); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	go metrics.CollectDBPoolMetrics(a.bgCtx, db, 15*time.Second)

	return storepostgres.NewStore(db), nil
}

// Start launches the background drain worker, the scheduler and the event
// consumer.
func (a *App) Start() {
	a.worker.Start(a.bgCtx)
	a.scheduler.Start(a.bgCtx)
	if a.consumer != nil {
		a.consumer.Start(a.bgCtx)
	}
}

// Run starts background processing and the HTTP servers.
func (a *App) Run() error {
	a.Start()

	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application. Background work stops
// before engine state is flushed, and the stores close last.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if a.consumer != nil {
		a.consumer.Stop()
	}
	a.worker.Stop()
	a.scheduler.Stop()
	a.bgCancel()

	a.manager.FlushAll(ctx)
	slog.Info("engine state flushed", "sessions", a.manager.Len())

	a.closeStores(ctx)

	return errors.Join(errs...)
}

func (a *App) closeStores(ctx context.Context) {
	if a.mongo != nil {
		if err := a.mongo.Disconnect(ctx); err != nil {
			slog.Error("failed to disconnect mongodb", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Manager returns the session manager.
func (a *App) Manager() *session.Manager {
	return a.manager
}

// Worker returns the drain worker.
func (a *App) Worker() *notifications.Worker {
	return a.worker
}

// Scheduler returns the job scheduler.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

func (a *App) setupRouter(verifier *identity.Verifier) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.config.Server.RequestTimeout))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Nudge API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
	})

	sessionHandler := session.NewHandler(a.manager)

	r.Route("/api/v1/me", func(r chi.Router) {
		r.Use(httputil.AuthMiddleware(verifier))
		r.Use(a.limiter.Middleware)
		sessionHandler.RegisterRoutes(r)
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if a.db != nil {
		if err := a.db.Ping(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
			return
		}
	}

	if a.mongo != nil {
		if err := a.mongo.Ping(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "MongoDB unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
