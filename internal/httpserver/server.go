// Package httpserver exposes the agent's observation and control surface:
// health, metrics, the live transcript, and simple session controls.
package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mdwoicke/jefferson-dental-sub001/internal/transcript"
)

// Controls are the session hooks the HTTP surface drives. Any nil field
// disables its route behavior gracefully.
type Controls struct {
	SendText  func(text string) error
	SetMuted  func(muted bool)
	Muted     func() bool
	Interrupt func()
	Status    func() map[string]any
}

// Server bundles the router and its dependencies.
type Server struct {
	echo  *echo.Echo
	store *transcript.Store
	ctl   Controls
	log   zerolog.Logger
}

// New constructs the HTTP server with routes registered.
func New(store *transcript.Store, ctl Controls, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, store: store, ctl: ctl, log: log}

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/transcript", s.handleTranscript)
	e.GET("/status", s.handleStatus)
	e.POST("/say", s.handleSay)
	e.POST("/mute", s.handleMute)
	e.POST("/interrupt", s.handleInterrupt)

	return s
}

// Start blocks serving on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("http server listening")
	return s.echo.Start(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// handleTranscript returns the transcript in first-observation order.
func (s *Server) handleTranscript(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"entries": s.store.Snapshot(),
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	status := map[string]any{}
	if s.ctl.Status != nil {
		status = s.ctl.Status()
	}
	if s.ctl.Muted != nil {
		status["muted"] = s.ctl.Muted()
	}
	return c.JSON(http.StatusOK, status)
}

// handleSay injects a typed message into the conversation.
func (s *Server) handleSay(c echo.Context) error {
	if s.ctl.SendText == nil {
		return c.String(http.StatusServiceUnavailable, "no active session")
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&body); err != nil || body.Text == "" {
		return c.String(http.StatusBadRequest, "text is required")
	}
	if err := s.ctl.SendText(body.Text); err != nil {
		s.log.Warn().Err(err).Msg("say failed")
		return c.String(http.StatusBadGateway, "delivery failed")
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleMute(c echo.Context) error {
	if s.ctl.SetMuted == nil {
		return c.String(http.StatusServiceUnavailable, "no active session")
	}
	var body struct {
		Muted bool `json:"muted"`
	}
	if err := c.Bind(&body); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	s.ctl.SetMuted(body.Muted)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleInterrupt(c echo.Context) error {
	if s.ctl.Interrupt == nil {
		return c.String(http.StatusServiceUnavailable, "no active session")
	}
	s.ctl.Interrupt()
	return c.NoContent(http.StatusNoContent)
}
