// Package retention prunes conversion history older than a configured age.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sydlexius/iconforge/internal/event"
)

// Pruner is the subset of the conversion service retention needs.
type Pruner interface {
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// Service deletes expired conversions on a schedule.
type Service struct {
	pruner   Pruner
	eventBus *event.Bus
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	maxAge time.Duration
}

// NewService creates a retention service. A zero maxAge disables pruning.
func NewService(pruner Pruner, eventBus *event.Bus, maxAge time.Duration, logger *slog.Logger) *Service {
	return &Service{
		pruner:   pruner,
		eventBus: eventBus,
		maxAge:   maxAge,
		logger:   logger.With(slog.String("component", "retention")),
		now:      time.Now,
	}
}

// SetMaxAge updates the retention window.
func (s *Service) SetMaxAge(d time.Duration) {
	s.mu.Lock()
	s.maxAge = d
	s.mu.Unlock()
	s.logger.Info("retention max age updated", slog.String("max_age", d.String()))
}

// MaxAge returns the current retention window.
func (s *Service) MaxAge() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxAge
}

// Prune deletes every conversion created before now minus the max age and
// returns how many were removed. Individual delete failures are logged and
// skipped.
func (s *Service) Prune(ctx context.Context) (int, error) {
	maxAge := s.MaxAge()
	if maxAge <= 0 {
		return 0, nil
	}

	cutoff := s.now().UTC().Add(-maxAge)
	ids, err := s.pruner.ListOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return pruned, err
		}
		if err := s.pruner.Delete(ctx, id); err != nil {
			s.logger.Warn("failed to prune conversion",
				slog.String("id", id),
				slog.Any("error", err))
			continue
		}
		pruned++
	}

	if pruned > 0 {
		s.logger.Info("pruned expired conversions",
			slog.Int("count", pruned),
			slog.String("max_age", maxAge.String()))
		if s.eventBus != nil {
			s.eventBus.Publish(event.Event{
				Type: event.RetentionPruned,
				Data: map[string]any{"count": pruned, "cutoff": cutoff.Format(time.RFC3339)},
			})
		}
	}
	return pruned, nil
}

// StartScheduler runs Prune on a fixed interval until the context is canceled.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("retention scheduler started",
		slog.String("interval", interval.String()),
		slog.String("max_age", s.MaxAge().String()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Prune(ctx); err != nil {
				s.logger.Error("scheduled prune failed", slog.Any("error", err))
			}
		}
	}
}
