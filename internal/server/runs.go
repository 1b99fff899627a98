package server

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	core "github.com/mohammad-safakhou/carebrief/internal/agent/core"
	"github.com/mohammad-safakhou/carebrief/internal/agent/telemetry"
	"github.com/mohammad-safakhou/carebrief/internal/store"
)

var runsTracer = otel.Tracer("carebrief/internal/server/runs")

// Pipeline runs one question through the full four stage flow.
type Pipeline interface {
	Process(ctx context.Context, question string) (core.RunResult, error)
}

// RunsHandler exposes pipeline runs over HTTP.
type RunsHandler struct {
	Store    *store.Store
	Pipeline Pipeline
	Timeout  time.Duration
	Logger   *log.Logger
}

func NewRunsHandler(st *store.Store, pipeline Pipeline, timeout time.Duration) *RunsHandler {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &RunsHandler{
		Store:    st,
		Pipeline: pipeline,
		Timeout:  timeout,
		Logger:   log.New(log.Writer(), "[RUNS] ", log.LstdFlags),
	}
}

func (h *RunsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(AuthMiddleware(secret))
	g.POST("", h.createRun)
	g.GET("", h.listRuns)
	g.GET("/:id", h.getRun)
	g.GET("/:id/trace", h.getTrace)
}

type CreateRunRequest struct {
	Question string `json:"question"`
}

func (h *RunsHandler) createRun(c echo.Context) error {
	var req CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}

	ctx, span := runsTracer.Start(c.Request().Context(), "runs.create")
	defer span.End()
	span.SetAttributes(attribute.Int("question_length", len(question)))

	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	result, err := h.Pipeline.Process(ctx, question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		h.Logger.Printf("pipeline failed: %v", err)
		return echo.NewHTTPError(http.StatusBadGateway, "pipeline failed")
	}
	span.SetStatus(codes.Ok, "")
	return c.JSON(http.StatusCreated, result)
}

func (h *RunsHandler) listRuns(c echo.Context) error {
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	runs, err := h.Store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *RunsHandler) getRun(c echo.Context) error {
	id := c.Param("id")
	result, err := h.Store.GetRun(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *RunsHandler) getTrace(c echo.Context) error {
	id := c.Param("id")
	events, err := h.Store.GetTraceEvents(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if events == nil {
		events = []telemetry.Event{}
	}
	return c.JSON(http.StatusOK, events)
}
