package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"swap-assistant/internal/config"
	"swap-assistant/internal/memory"
	"swap-assistant/internal/models"
)

// Asker answers questions, implemented by rag.RAG.
type Asker interface {
	Ask(ctx context.Context, query string, conv *memory.Conversation) (*models.Answer, error)
	PromptVersion() string
	IndexSize() int
}

type Handler struct {
	asker    Asker
	sessions *memory.Store
	timeout  time.Duration
}

// NewHandler wires the responder to HTTP. sessions may be nil, every question
// is then answered without history.
func NewHandler(asker Asker, sessions *memory.Store, timeout time.Duration) *Handler {
	return &Handler{asker: asker, sessions: sessions, timeout: timeout}
}

// New builds the echo instance with middleware and routes.
func New(cfg *config.ServerConfig, handler *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			evt := log.Info()
			if v.Error != nil {
				evt = log.Error().Err(v.Error)
			}
			evt.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
			return nil
		},
	}))
	if len(cfg.AllowOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.AllowOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	InitRoutes(e, handler)
	return e
}

func InitRoutes(e *echo.Echo, handler *Handler) {
	api := e.Group("/api")
	api.POST("/ask", handler.PostAskHandler)
	api.DELETE("/sessions/:id", handler.DeleteSessionHandler)
	api.GET("/health", handler.GetHealthHandler)
}

// Shutdown stops e, waiting up to timeout for in-flight requests.
func Shutdown(e *echo.Echo, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
