package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Lemirq/deerhacks/internal/coach"
	"github.com/Lemirq/deerhacks/internal/config"
	"github.com/Lemirq/deerhacks/internal/storage"
)

// Server bundles the HTTP router and its dependencies.
type Server struct {
	cfg      config.Config
	engine   *coach.Engine
	registry *coach.Registry
	store    storage.Store
	archive  *storage.SupabaseArchive
	hub      *Hub
	echo     *echo.Echo
}

// New constructs the configured Echo server with all routes registered.
func New(cfg config.Config, engine *coach.Engine, store storage.Store, archive *storage.SupabaseArchive) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		cfg:      cfg,
		engine:   engine,
		registry: engine.Registry(),
		store:    store,
		archive:  archive,
		hub:      NewHub(),
		echo:     e,
	}

	e.POST("/analyze", s.analyze)
	e.GET("/session/:id/summary", s.sessionSummary)
	e.GET("/session/:id/report", s.sessionReport)
	e.DELETE("/session/:id", s.resetSession)
	e.GET("/session/:id/live", s.live)
	e.GET("/reports/:device_id", s.listReports)
	e.GET("/reports/:device_id/:session_id", s.savedReport)
	e.GET("/health", s.health)

	return s
}

// Handler exposes the router for an http.Server.
func (s *Server) Handler() http.Handler { return s.echo }
