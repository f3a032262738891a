package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

type PingHandler struct {
	logger  *slog.Logger
	version string
}

func NewPingHandler(log *slog.Logger, version string) *PingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PingHandler{logger: log.With(slog.String("handler", "ping")), version: version}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

// Ping godoc
// @Summary Ping the gateway
// @Description Report that the gateway is up and which version is running
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Router /ping [get]
func (h *PingHandler) Ping(c echo.Context) error {
	resp := map[string]string{
		"status": "ok",
	}
	if h.version != "" {
		resp["version"] = h.version
	}
	return c.JSON(http.StatusOK, resp)
}

// PingHead godoc
// @Summary Health check
// @Description Liveness check without a body
// @Tags system
// @Success 200
// @Router /health [head]
func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
