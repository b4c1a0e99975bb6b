package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/trackon/budgetd/config"
	"github.com/trackon/budgetd/internal/analysis"
	"github.com/trackon/budgetd/internal/ledger"
	"github.com/trackon/budgetd/internal/locks"
	"github.com/trackon/budgetd/internal/runtime"
	"github.com/trackon/budgetd/internal/store"
	"github.com/trackon/budgetd/internal/tracker"
	"github.com/trackon/budgetd/provider"
)

const timeLayout = time.RFC3339

// Backend is the full persistence surface the handlers share. Both the
// Postgres store and the file store satisfy it.
type Backend interface {
	tracker.Store
	Ping(ctx context.Context) error
	UpdateProjectMeta(ctx context.Context, id string, name *string, budgetLimit *float64, description *string, status *ledger.Status) (ledger.Project, error)
	DeleteProject(ctx context.Context, id string) error
}

func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := errorStatus(err)
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	st, driver, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	var locker locks.Locker = locks.NewKeyedMutex()
	if cfg.Storage.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
		locker = locks.NewRedisLocker(rdb)
	}

	trackerLogger := log.New(log.Writer(), "[TRACKER] ", log.LstdFlags)
	tr := tracker.New(st, locker, trackerLogger)

	// The LLM provider is optional: without it /api/query still answers
	// using the local fallback extraction and template summaries.
	var llm provider.Provider
	if cfg.LLM.APIKey != "" {
		llm, err = provider.NewProvider(provider.Config{
			Type:        cfg.LLM.Type,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			return err
		}
	} else {
		trackerLogger.Printf("no LLM api key configured, /api/query runs in fallback mode")
	}

	api := e.Group("/api")
	api.GET("/health", healthHandler(st, driver))

	// Accounts need the relational store; with the file driver or no
	// secret the API stays open for single-user deployments.
	protected := api.Group("")
	if pg, ok := st.(*store.Store); ok && cfg.Server.JWTSecret != "" {
		secret, err := runtime.LoadJWTSecret(cfg)
		if err != nil {
			return err
		}
		auth := &AuthHandler{Store: pg, Secret: secret}
		auth.Register(api.Group("/auth"))
		protected.Use(runtime.EchoAuthMiddleware(secret))
	}

	bh := &BudgetHandler{Tracker: tr, Store: st}
	bh.Register(protected)

	qh := &QueryHandler{
		Tracker: tr,
		LLM:     llm,
		Timeout: cfg.LLM.Timeout,
		Logger:  log.New(log.Writer(), "[QUERY] ", log.LstdFlags),
	}
	qh.Register(protected)

	ph := &ProjectsHandler{Store: st}
	ph.Register(protected.Group("/projects"))

	if addr == "" {
		addr = cfg.Server.Address
		if addr == "" {
			addr = ":10001"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

func openStore(ctx context.Context, cfg *config.Config) (Backend, string, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		dsn := cfg.Storage.Postgres.DSN()
		if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
			log.Printf("[MIGRATE] %v", err)
		}
		st, err := store.NewWithDSN(ctx, dsn, cfg.General.AgentID)
		if err != nil {
			return nil, "", err
		}
		return st, "postgres", nil
	case "file":
		st, err := store.NewFileStore(cfg.Storage.File.Path)
		if err != nil {
			return nil, "", err
		}
		return st, "file", nil
	default:
		return nil, "", fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func healthHandler(st Backend, driver string) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := HealthResponse{Status: "healthy", StorageConnected: true, Driver: driver}
		if err := st.Ping(c.Request().Context()); err != nil {
			resp.Status = "degraded"
			resp.StorageConnected = false
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrCurrentProject):
		return http.StatusConflict
	case analysis.IsInvalidInput(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// httpError wraps a domain error with its mapped status so handlers can
// simply return it.
func httpError(err error) error {
	if err == nil {
		return nil
	}
	code := errorStatus(err)
	if code == http.StatusInternalServerError {
		// Unreachable persistence surfaces as 503, not a generic 500.
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(code, err.Error())
}
