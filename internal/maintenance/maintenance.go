package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sydlexius/iconforge/internal/store"
)

// DefaultOrphanGrace protects objects written moments before their
// conversion row is committed.
const DefaultOrphanGrace = time.Hour

// Referencer reports whether a stored object is still in use.
type Referencer interface {
	Referenced(ctx context.Context, cid string) (bool, error)
}

// Status holds database and artifact store statistics.
type Status struct {
	DBFileSize      int64     `json:"db_file_size"`
	WALFileSize     int64     `json:"wal_file_size"`
	PageCount       int64     `json:"page_count"`
	PageSize        int64     `json:"page_size"`
	StoreObjects    int       `json:"store_objects"`
	StoreBytes      int64     `json:"store_bytes"`
	StoreSize       string    `json:"store_size"`
	LastOptimizeAt  time.Time `json:"last_optimize_at,omitzero"`
	LastSweepAt     time.Time `json:"last_sweep_at,omitzero"`
	LastSweepPruned int       `json:"last_sweep_pruned"`
}

// Service provides database and artifact store maintenance.
type Service struct {
	db     *sql.DB
	dbPath string
	store  *store.Store
	refs   Referencer
	grace  time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	lastOptimize time.Time
	lastSweep    time.Time
	lastPruned   int
}

// NewService creates a maintenance service.
func NewService(db *sql.DB, dbPath string, st *store.Store, refs Referencer, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		dbPath: dbPath,
		store:  st,
		refs:   refs,
		grace:  DefaultOrphanGrace,
		logger: logger.With(slog.String("component", "maintenance")),
		now:    time.Now,
	}
}

// SetOrphanGrace changes the minimum age of objects the sweep may remove.
func (s *Service) SetOrphanGrace(d time.Duration) {
	if d <= 0 {
		d = DefaultOrphanGrace
	}
	s.mu.Lock()
	s.grace = d
	s.mu.Unlock()
}

// Status returns current maintenance statistics.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBFileSize = info.Size()
	}
	if info, err := os.Stat(s.dbPath + "-wal"); err == nil {
		st.WALFileSize = info.Size()
	}

	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&st.PageCount); err != nil {
		s.logger.Warn("reading page_count", "error", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&st.PageSize); err != nil {
		s.logger.Warn("reading page_size", "error", err)
	}

	if s.store != nil {
		err := s.store.Walk(func(o store.Object) error {
			st.StoreObjects++
			st.StoreBytes += o.Size
			return ctx.Err()
		})
		if err != nil {
			return nil, fmt.Errorf("scanning artifact store: %w", err)
		}
	}
	st.StoreSize = humanize.Bytes(uint64(max(st.StoreBytes, 0)))

	s.mu.Lock()
	st.LastOptimizeAt = s.lastOptimize
	st.LastSweepAt = s.lastSweep
	st.LastSweepPruned = s.lastPruned
	s.mu.Unlock()
	return st, nil
}

// Optimize runs PRAGMA optimize followed by a WAL checkpoint.
func (s *Service) Optimize(ctx context.Context) error {
	s.logger.Info("running PRAGMA optimize")
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("PRAGMA optimize: %w", err)
	}

	s.logger.Info("running WAL checkpoint")
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}

	s.mu.Lock()
	s.lastOptimize = s.now().UTC()
	s.mu.Unlock()

	s.logger.Info("optimize complete")
	return nil
}

// Vacuum runs VACUUM to rebuild the database file.
func (s *Service) Vacuum(ctx context.Context) error {
	s.logger.Info("running VACUUM")
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("VACUUM: %w", err)
	}
	s.logger.Info("vacuum complete")
	return nil
}

// IntegrityCheck runs PRAGMA quick_check and reports any problem found.
func (s *Service) IntegrityCheck(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("PRAGMA quick_check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database integrity check failed: %s", result)
	}
	return nil
}

// SweepOrphans deletes stored objects that no conversion references and
// that are older than the grace period. Such objects are left behind when a
// conversion fails to commit after its artifacts were written.
func (s *Service) SweepOrphans(ctx context.Context) (int, error) {
	if s.store == nil || s.refs == nil {
		return 0, nil
	}
	s.mu.Lock()
	cutoff := s.now().Add(-s.grace)
	s.mu.Unlock()

	var orphans []store.Object
	err := s.store.Walk(func(o store.Object) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.ModTime.After(cutoff) {
			return nil
		}
		used, err := s.refs.Referenced(ctx, o.ID.String())
		if err != nil {
			return err
		}
		if !used {
			orphans = append(orphans, o)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning artifact store: %w", err)
	}

	var freed int64
	removed := 0
	for _, o := range orphans {
		if err := s.store.Delete(o.ID); err != nil {
			s.logger.Warn("removing orphaned object", slog.String("cid", o.ID.String()), slog.Any("error", err))
			continue
		}
		removed++
		freed += o.Size
	}

	s.mu.Lock()
	s.lastSweep = s.now().UTC()
	s.lastPruned = removed
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Info("orphaned objects removed",
			slog.Int("count", removed),
			slog.String("freed", humanize.Bytes(uint64(freed))), //nolint:gosec // G115: sizes are non-negative
		)
	}
	return removed, nil
}

// StartScheduler runs optimize and the orphan sweep on a fixed interval
// until the context is canceled.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("maintenance scheduler started",
		slog.String("interval", interval.String()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Optimize(ctx); err != nil {
				s.logger.Error("scheduled optimize failed", slog.Any("error", err))
			}
			if _, err := s.SweepOrphans(ctx); err != nil {
				s.logger.Error("scheduled orphan sweep failed", slog.Any("error", err))
			}
		}
	}
}
