package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/tgdownloader/internal/channel"
	"github.com/memohai/tgdownloader/internal/media"
)

// FetchStats reports download counters.
type FetchStats interface {
	Stats() media.Stats
}

// ChannelMonitor reports the state of chat connections and conversation workers.
type ChannelMonitor interface {
	ActiveConversations() int
	ConnectionStatuses() []channel.ConnectionStatus
}

// SessionCounter reports how many conversations have dialogue state.
type SessionCounter interface {
	Len() int
}

// SweepClock reports when the staging sweep runs next.
type SweepClock interface {
	NextRun() time.Time
}

type StatusResponse struct {
	StartedAt           time.Time                  `json:"started_at"`
	UptimeSeconds       int64                      `json:"uptime_seconds"`
	Downloads           media.Stats                `json:"downloads"`
	ActiveConversations int                        `json:"active_conversations"`
	Sessions            int                        `json:"sessions"`
	Connections         []channel.ConnectionStatus `json:"connections"`
	NextSweep           *time.Time                 `json:"next_sweep,omitempty"`
}

// StatusHandler exposes a read-only runtime snapshot. Every dependency is optional.
type StatusHandler struct {
	logger    *slog.Logger
	fetcher   FetchStats
	channels  ChannelMonitor
	sessions  SessionCounter
	sweep     SweepClock
	startedAt time.Time
	now       func() time.Time
}

func NewStatusHandler(log *slog.Logger, fetcher FetchStats, channels ChannelMonitor, sessions SessionCounter, sweep SweepClock) *StatusHandler {
	if log == nil {
		log = slog.Default()
	}
	return &StatusHandler{
		logger:    log.With(slog.String("handler", "status")),
		fetcher:   fetcher,
		channels:  channels,
		sessions:  sessions,
		sweep:     sweep,
		startedAt: time.Now().UTC(),
		now:       time.Now,
	}
}

func (h *StatusHandler) Register(e *echo.Echo) {
	e.GET("/status", h.Status)
}

// Status godoc
// @Summary Runtime status snapshot
// @Description Download counters, chat connections, live conversations and the next staging sweep
// @Tags system
// @Produce json
// @Success 200 {object} StatusResponse
// @Router /status [get]
func (h *StatusHandler) Status(c echo.Context) error {
	resp := StatusResponse{
		StartedAt:     h.startedAt,
		UptimeSeconds: int64(h.now().Sub(h.startedAt) / time.Second),
		Connections:   []channel.ConnectionStatus{},
	}
	if h.fetcher != nil {
		resp.Downloads = h.fetcher.Stats()
	}
	if h.channels != nil {
		resp.ActiveConversations = h.channels.ActiveConversations()
		if statuses := h.channels.ConnectionStatuses(); statuses != nil {
			resp.Connections = statuses
		}
	}
	if h.sessions != nil {
		resp.Sessions = h.sessions.Len()
	}
	if h.sweep != nil {
		if next := h.sweep.NextRun(); !next.IsZero() {
			next = next.UTC()
			resp.NextSweep = &next
		}
	}
	return c.JSON(http.StatusOK, resp)
}
