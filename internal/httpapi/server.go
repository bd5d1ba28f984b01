// Package httpapi exposes the record engine over HTTP. Handlers stay thin:
// they bind requests, call the store, the audit sink or the AI client, and
// translate the engine's errors into status codes.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/wardflow/wardflow/internal/domain/audit"
	"github.com/wardflow/wardflow/internal/platform/ai"
	"github.com/wardflow/wardflow/internal/platform/db"
	"github.com/wardflow/wardflow/internal/platform/websocket"
	"github.com/wardflow/wardflow/internal/record"
)

type Server struct {
	store  *record.Store
	sink   *audit.Sink
	ai     *ai.Client
	hub    *websocket.Hub
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewServer(store *record.Store, sink *audit.Sink, aiClient *ai.Client, hub *websocket.Hub, pool *pgxpool.Pool, logger zerolog.Logger) *Server {
	return &Server{store: store, sink: sink, ai: aiClient, hub: hub, pool: pool, logger: logger}
}

// RegisterRoutes mounts all routes. Everything under /api requires the
// supplied auth middleware; health and the websocket feed do not.
func (s *Server) RegisterRoutes(e *echo.Echo, authMW echo.MiddlewareFunc) {
	e.GET("/health", s.Health)
	e.GET("/ws", s.hub.Handler())

	api := e.Group("/api", authMW)
	api.POST("/patients", s.CreatePatient)
	api.GET("/patients", s.ListPatients)
	api.GET("/patients/:id", s.GetPatient)
	api.PATCH("/patients/:id/status", s.SetStatus)
	api.POST("/patients/:id/vitals", s.SubmitVitals)
	api.GET("/patients/:id/vitals", s.ListVitals)
	api.GET("/patients/:id/file", s.GetFile)
	api.PATCH("/patients/:id/file/:section", s.PatchSection)
	api.POST("/patients/:id/orders", s.AddOrder)
	api.POST("/patients/:id/orders/:orderID/results", s.AddResult)
	api.POST("/patients/:id/rounds", s.AddRound)
	api.POST("/patients/:id/ai/discharge-summary", s.DischargeSummary)
	api.POST("/patients/:id/ai/consistency-check", s.ConsistencyCheck)
	api.POST("/patients/:id/ai/order-suggestions", s.SuggestOrders)
	api.POST("/patients/:id/ai/soap-draft", s.DraftSOAP)
	api.POST("/ai/classify-complaint", s.ClassifyComplaint)
	api.GET("/audit-events", s.ListAuditEvents)
}

// Health reports process health: store mode and, when connected, pool
// statistics.
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"mode":   s.store.Mode(),
		"db":     db.Stats(c.Request().Context(), s.pool),
	})
}

// storeError maps the record store's sentinel errors onto status codes.
func storeError(err error) error {
	switch {
	case errors.Is(err, record.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, record.ErrStatusRegression):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, record.ErrUnknownSection), errors.Is(err, record.ErrDuplicateID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

// generationError maps hard AI failures onto a 502 with the prompt kind,
// so the caller can show which generation failed instead of silently
// presenting nothing.
func generationError(err error) error {
	var genErr *ai.GenerationError
	if errors.As(err, &genErr) {
		return echo.NewHTTPError(http.StatusBadGateway, map[string]any{
			"error":       genErr.Err.Error(),
			"prompt_kind": genErr.Kind,
		})
	}
	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}
