package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/carebrief/config"
	core "github.com/mohammad-safakhou/carebrief/internal/agent/core"
	"github.com/mohammad-safakhou/carebrief/internal/agent/telemetry"
	"github.com/mohammad-safakhou/carebrief/internal/retrieval"
	"github.com/mohammad-safakhou/carebrief/internal/store"
)

// Run wires the pipeline behind an HTTP API and blocks serving it.
func Run(cfg *config.Config, addr string) error {
	if addr == "" {
		addr = cfg.Server.Address
	}
	if addr == "" {
		addr = ":8080"
	}
	secret := cfg.Server.JWTSecret
	if secret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		baseLogger.Printf("migrations skipped: %v", err)
	}

	st, err := store.New(cfg.Storage.Postgres)
	if err != nil {
		return fmt.Errorf("connecting store: %w", err)
	}

	tele, err := telemetry.New(cfg.Telemetry, store.NewTraceSink(st))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer tele.Shutdown()

	retriever, err := buildRetriever(cfg, st)
	if err != nil {
		return err
	}

	var cache core.GradeCache
	if cfg.Storage.Redis.Enabled() {
		gc, err := store.NewGradeCache(cfg.Storage.Redis)
		if err != nil {
			return fmt.Errorf("connecting grade cache: %w", err)
		}
		defer gc.Close()
		cache = gc
	}

	orchLogger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	orch, err := core.NewOrchestrator(cfg, orchLogger, tele, retriever, cache, st)
	if err != nil {
		return err
	}

	api := e.Group("/api")
	runs := NewRunsHandler(st, orch, cfg.General.DefaultTimeout)
	runs.Register(api.Group("/runs"), []byte(secret))

	return e.Start(addr)
}

// buildRetriever selects the passage index for the research stage.
func buildRetriever(cfg *config.Config, st *store.Store) (core.Retriever, error) {
	switch cfg.Retrieval.Backend {
	case "", "pgvector":
		embedder, err := core.NewLLMProvider(cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("building embedder: %w", err)
		}
		return retrieval.NewPgvectorRetriever(st, embedder, cfg.LLM.EmbeddingModel()), nil
	case "bleve":
		r, err := retrieval.NewBleveRetriever(cfg.Retrieval.IndexPath)
		if err != nil {
			return nil, fmt.Errorf("opening bleve index: %w", err)
		}
		if cfg.Retrieval.CorpusFile != "" {
			if err := r.LoadCorpus(cfg.Retrieval.CorpusFile); err != nil {
				return nil, fmt.Errorf("loading corpus: %w", err)
			}
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported retrieval backend: %s", cfg.Retrieval.Backend)
	}
}
