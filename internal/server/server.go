package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/memohai/tgdownloader/internal/handlers"
)

type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

func NewServer(log *slog.Logger, addr string, pingHandler *handlers.PingHandler, statusHandler *handlers.StatusHandler, swaggerHandler *handlers.SwaggerHandler) *Server {
	if log == nil {
		log = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLogger())

	if pingHandler != nil {
		pingHandler.Register(e)
	}
	if statusHandler != nil {
		statusHandler.Register(e)
	}
	if swaggerHandler != nil {
		swaggerHandler.Register(e)
	}

	return &Server{
		echo:   e,
		addr:   addr,
		logger: log.With(slog.String("service", "server")),
	}
}

// Handler exposes the router for in-process use.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.echo.Listener = ln
	s.logger.Info("status server listening", slog.String("addr", ln.Addr().String()))
	go func() {
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server stopped", slog.Any("error", err))
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.echo.Listener == nil {
		return s.addr
	}
	return s.echo.Listener.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
