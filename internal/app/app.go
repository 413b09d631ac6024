package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	_ "brokercrm/docs"
	"brokercrm/internal/auth"
	"brokercrm/internal/config"
	"brokercrm/internal/database"
	"brokercrm/internal/export"
	"brokercrm/internal/handlers"
	"brokercrm/internal/middleware"
	"brokercrm/internal/repositories"
	"brokercrm/internal/repositories/memstore"
	"brokercrm/internal/routes"
	"brokercrm/internal/services"
	"brokercrm/internal/telemetry"
)

// App is the wired service: storage, services and the HTTP handler.
type App struct {
	cfg      *config.Config
	log      *slog.Logger
	db       *sqlx.DB
	Store    repositories.Store
	Users    *services.UserService
	States   *services.StateService
	Workflow *services.WorkflowService
	leads    *services.LeadStateService
	Handler  http.Handler
}

// OpenStore returns the configured store. For SQL drivers it runs the
// migrations first when auto_migrate is set.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (repositories.Store, *sqlx.DB, error) {
	if cfg.Driver == "memory" {
		logger.Warn("using in-memory store, data is lost on restart")
		return memstore.New(), nil, nil
	}
	if cfg.AutoMigrate {
		if err := database.MigrateUp(ctx, cfg); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied", "driver", cfg.Driver)
	}
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return repositories.NewSQLStore(db), db, nil
}

func buildNotifier(cfg config.NotificationsConfig, logger *slog.Logger, metrics *services.Metrics) services.Notifier {
	var channels []services.Notifier
	if cfg.Telegram.BotToken != "" {
		tg, err := services.NewTelegramNotifier(cfg.Telegram)
		if err != nil {
			logger.Warn("telegram notifications disabled", "err", err)
		} else {
			channels = append(channels, tg)
		}
	}
	if cfg.Email.SMTPHost != "" {
		em, err := services.NewEmailNotifier(cfg.Email)
		if err != nil {
			logger.Warn("email notifications disabled", "err", err)
		} else {
			channels = append(channels, em)
		}
	}
	if len(channels) == 0 {
		return nil
	}
	multi := services.NewMultiNotifier(logger, metrics, channels...)
	logger.Info("transition notifications enabled", "channels", multi.Len(), "notify_all", cfg.NotifyAll)
	return multi
}

// New wires every component. reg receives the service metrics and is
// exposed on /metrics.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) (*App, error) {
	store, db, err := OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	verifier, err := auth.NewTokenVerifier(cfg.Auth)
	if err != nil {
		return nil, err
	}

	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(reg)

	leadOpts := []services.LeadStateOption{services.WithLeadMetrics(metrics)}
	if n := buildNotifier(cfg.Notifications, logger, metrics); n != nil {
		leadOpts = append(leadOpts, services.WithNotifier(n, cfg.Notifications.NotifyAll))
	}

	states := services.NewStateService(store, logger, metrics)
	transitions := services.NewTransitionService(store, logger, metrics)
	leads := services.NewLeadStateService(store, logger, leadOpts...)
	history := services.NewHistoryService(store, export.NewPDFRenderer(cfg.Export.FontPath), logger)
	users := services.NewUserService(store, verifier, logger)
	workflow := services.NewWorkflowService(store, states, transitions, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(corsMiddleware())

	router.GET("/healthz", healthz(db))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	routes.SetupRoutes(router, routes.Handlers{
		Auth:        handlers.NewAuthHandler(users, logger),
		States:      handlers.NewStateHandler(states, logger),
		Transitions: handlers.NewTransitionHandler(transitions, logger),
		LeadState:   handlers.NewLeadStateHandler(leads, history, logger),
		Workflow:    handlers.NewWorkflowHandler(workflow, logger),
	}, verifier)

	return &App{
		cfg:      cfg,
		log:      logger,
		db:       db,
		Store:    store,
		Users:    users,
		States:   states,
		Workflow: workflow,
		leads:    leads,
		Handler:  otelhttp.NewHandler(router, cfg.Tracing.ServiceName),
	}, nil
}

// Close waits for pending notifications and closes the database.
func (a *App) Close() error {
	a.leads.Wait()
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.Warn("tracing disabled", "err", err)
	}

	a, err := New(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close app", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", srv.Addr, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	if err := shutdownTracing(sctx); err != nil {
		logger.Warn("tracing shutdown", "err", err)
	}
	return nil
}

func healthz(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			if err := db.PingContext(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "database unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
