package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bluesky-social/stratos/moderation"
	"github.com/bluesky-social/stratos/moderation/ownerstore"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

type Server struct {
	db     *gorm.DB
	ledger *moderation.Ledger
	engine *moderation.Engine
	owners ownerstore.OwnerStore

	echo          *echo.Echo
	httpd         *http.Server
	logger        *slog.Logger
	adminPassword string
	// nil when report creation is not rate limited
	reportLimiter *rate.Limiter
}

type Config struct {
	Logger        *slog.Logger
	Bind          string
	AdminPassword string
	// bound on each directive resolution
	ResolveTimeout time.Duration
	// reports per second accepted across all reporters; zero disables the limit
	ReportRateLimit float64
	// HTTP metrics are registered here; defaults to the global prometheus registry
	MetricsRegisterer prometheus.Registerer
}

func NewServer(db *gorm.DB, owners ownerstore.OwnerStore, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.AdminPassword == "" {
		return nil, errors.New("admin password is required")
	}

	ledger := moderation.NewLedger(db, logger)
	hier := &moderation.SubjectHierarchy{Owners: owners, Logger: logger}
	engine := moderation.NewEngine(ledger, hier, logger, config.ResolveTimeout)

	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		db:            db,
		ledger:        ledger,
		engine:        engine,
		owners:        owners,
		echo:          e,
		logger:        logger,
		adminPassword: config.AdminPassword,
	}
	if config.ReportRateLimit > 0 {
		srv.reportLimiter = rate.NewLimiter(rate.Limit(config.ReportRateLimit), int(config.ReportRateLimit)+1)
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("stratos"))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "stratos",
		Registerer: config.MetricsRegisterer,
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))
	e.Use(srv.adminAuthMiddleware())

	e.GET("/_health", srv.HandleHealthCheck)

	e.POST("/xrpc/com.atproto.admin.takeModerationAction", srv.HandleTakeModerationAction)
	e.POST("/xrpc/com.atproto.admin.reverseModerationAction", srv.HandleReverseModerationAction)
	e.GET("/xrpc/com.atproto.admin.getModerationAction", srv.HandleGetModerationAction)
	e.GET("/xrpc/com.atproto.admin.getModerationActions", srv.HandleGetModerationActions)
	e.POST("/xrpc/com.atproto.admin.resolveModerationReports", srv.HandleResolveModerationReports)
	e.GET("/xrpc/com.atproto.admin.getModerationReport", srv.HandleGetModerationReport)
	e.GET("/xrpc/com.atproto.admin.getModerationReports", srv.HandleGetModerationReports)
	e.POST("/xrpc/com.atproto.moderation.createReport", srv.HandleCreateReport)
	e.GET("/xrpc/app.stratos.getDirectives", srv.HandleGetDirectives)
	e.POST("/xrpc/app.stratos.putBlobOwner", srv.HandlePutBlobOwner)

	return srv, nil
}

// HTTP Basic auth with username "admin" and a static password, on every XRPC route. Does not implement the usual atproto JWT-based auth; the acting identity is passed separately in a header.
func (srv *Server) adminAuthMiddleware() echo.MiddlewareFunc {
	config := middleware.BasicAuthConfig{
		Skipper: func(c echo.Context) bool {
			return !strings.HasPrefix(c.Request().URL.Path, "/xrpc/")
		},
		Validator: func(username, password string, c echo.Context) (bool, error) {
			if subtle.ConstantTimeCompare([]byte(username), []byte("admin")) == 1 &&
				subtle.ConstantTimeCompare([]byte(password), []byte(srv.adminPassword)) == 1 {
				return true, nil
			}
			adminAuthFailures.Inc()
			srv.logger.Warn("admin auth failed", "username", username, "path", c.Request().URL.Path)
			return false, nil
		},
		Realm: "Stratos",
	}
	return middleware.BasicAuthWithConfig(config)
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// Runs the API and metrics listeners until the context is cancelled or either fails.
func (srv *Server) Run(ctx context.Context, metricsListen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsd := &http.Server{
		Addr:    metricsListen,
		Handler: mux,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.logger.Info("starting server", "bind", srv.httpd.Addr)
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		srv.logger.Info("starting metrics endpoint", "bind", metricsd.Addr)
		if err := metricsd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		srv.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(srv.httpd.Shutdown(shutdownCtx), metricsd.Shutdown(shutdownCtx))
	})
	return g.Wait()
}
