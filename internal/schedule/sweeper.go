// Package schedule runs periodic maintenance jobs.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper removes abandoned staging files older than maxAge.
type Sweeper interface {
	SweepStaged(maxAge time.Duration) (int, error)
}

// Service sweeps the download directory on a cron schedule.
type Service struct {
	logger     *slog.Logger
	target     Sweeper
	pattern    string
	staleAfter time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewService creates a sweep Service. An empty pattern disables the schedule.
func NewService(log *slog.Logger, target Sweeper, pattern string, staleAfter time.Duration) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger:     log.With(slog.String("service", "schedule")),
		target:     target,
		pattern:    strings.TrimSpace(pattern),
		staleAfter: staleAfter,
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Service) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	if s.pattern == "" || s.target == nil {
		s.logger.Info("sweep disabled")
		return nil
	}
	if s.staleAfter <= 0 {
		return fmt.Errorf("stale_after must be positive")
	}
	c := cron.New()
	id, err := c.AddFunc(s.pattern, func() {
		_, _ = s.RunOnce()
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.pattern, err)
	}
	s.cron = c
	s.entryID = id
	c.Start()
	s.logger.Info("sweep scheduled", slog.String("pattern", s.pattern), slog.Duration("stale_after", s.staleAfter))
	return nil
}

// RunOnce performs one sweep.
func (s *Service) RunOnce() (int, error) {
	if s.target == nil {
		return 0, errors.New("sweep target is not configured")
	}
	removed, err := s.target.SweepStaged(s.staleAfter)
	if err != nil {
		s.logger.Error("sweep failed", slog.Int("removed", removed), slog.Any("error", err))
		return removed, err
	}
	if removed > 0 {
		s.logger.Info("sweep removed staging files", slog.Int("removed", removed))
	}
	return removed, nil
}

// NextRun reports when the sweep fires next. It is zero when the schedule is not running.
func (s *Service) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Stop stops the scheduler and waits for a running sweep until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
