// Package backup snapshots the history database with VACUUM INTO and keeps
// the snapshots zstd-compressed on disk.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
)

const (
	filePrefix = "iconforge-"
	fileSuffix = ".db.zst"
	stampFmt   = "20060102-150405"
)

// backupPattern matches backup filenames: iconforge-YYYYMMDD-HHMMSS.db.zst
var backupPattern = regexp.MustCompile(`^iconforge-\d{8}-\d{6}\.db\.zst$`)

// ErrInvalidName is returned for names that are not backup files.
var ErrInvalidName = errors.New("invalid backup filename")

// Info describes a backup file.
type Info struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	SizeHuman string    `json:"size_human"`
	CreatedAt time.Time `json:"created_at"`
}

// Service manages database backups.
type Service struct {
	db         *sql.DB
	dir        string
	retention  int
	maxAgeDays int
	mu         sync.RWMutex
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a backup service keeping at most retention snapshots.
func NewService(db *sql.DB, dir string, retention int, logger *slog.Logger) *Service {
	return &Service{
		db:        db,
		dir:       dir,
		retention: retention,
		logger:    logger.With(slog.String("component", "backup")),
		now:       time.Now,
	}
}

// Dir returns the backup directory.
func (s *Service) Dir() string {
	return s.dir
}

// Backup writes a compressed snapshot of the database.
func (s *Service) Backup(ctx context.Context) (*Info, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	created := s.now().UTC().Truncate(time.Second)
	filename := filePrefix + created.Format(stampFmt) + fileSuffix
	dest := filepath.Join(s.dir, filename)
	snapshot := filepath.Join(s.dir, "."+filename+".snapshot")
	_ = os.Remove(snapshot)
	defer os.Remove(snapshot) //nolint:errcheck

	s.logger.Info("starting backup", slog.String("dest", dest))
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", snapshot); err != nil {
		return nil, fmt.Errorf("VACUUM INTO: %w", err)
	}

	raw, size, err := compressFile(snapshot, dest)
	if err != nil {
		return nil, err
	}

	s.logger.Info("backup complete",
		slog.String("filename", filename),
		slog.String("database", humanize.Bytes(uint64(raw))),   //nolint:gosec // G115: file sizes are non-negative
		slog.String("compressed", humanize.Bytes(uint64(size))), //nolint:gosec // G115: file sizes are non-negative
	)
	return newInfo(filename, size, created), nil
}

// compressFile zstd-compresses src into dest through a temporary file so a
// partial backup is never visible under its final name.
func compressFile(src, dest string) (rawSize, size int64, err error) {
	in, err := os.Open(src) //nolint:gosec // G304: path built from the backup directory
	if err != nil {
		return 0, 0, fmt.Errorf("opening snapshot: %w", err)
	}
	defer in.Close() //nolint:errcheck

	tmp := dest + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640) //nolint:gosec // G304: path built from the backup directory
	if err != nil {
		return 0, 0, fmt.Errorf("creating backup file: %w", err)
	}
	defer os.Remove(tmp) //nolint:errcheck

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		out.Close() //nolint:errcheck,gosec
		return 0, 0, err
	}
	rawSize, err = io.Copy(enc, in)
	if err == nil {
		err = enc.Close()
	}
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, 0, fmt.Errorf("compressing backup: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return 0, 0, fmt.Errorf("finalizing backup: %w", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return 0, 0, fmt.Errorf("stat backup file: %w", err)
	}
	return rawSize, info.Size(), nil
}

// Extract decompresses a backup to dest, which must not exist yet. The
// result is a plain SQLite database file.
func (s *Service) Extract(filename, dest string) error {
	if !IsValidFilename(filename) {
		return ErrInvalidName
	}
	in, err := os.Open(filepath.Join(s.dir, filename)) //nolint:gosec // G304: filename validated above
	if err != nil {
		return fmt.Errorf("opening backup: %w", err)
	}
	defer in.Close() //nolint:errcheck

	dec, err := zstd.NewReader(in)
	if err != nil {
		return err
	}
	defer dec.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640) //nolint:gosec // G304: operator-supplied restore path
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(out, dec); err != nil {
		out.Close()     //nolint:errcheck,gosec
		os.Remove(dest) //nolint:errcheck,gosec
		return fmt.Errorf("decompressing backup: %w", err)
	}
	return out.Close()
}

// List returns all backup files sorted by date descending.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var backups []Info
	for _, entry := range entries {
		if entry.IsDir() || !backupPattern.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(entry.Name(), filePrefix), fileSuffix)
		ts, err := time.Parse(stampFmt, stamp)
		if err != nil {
			ts = info.ModTime()
		}
		backups = append(backups, *newInfo(entry.Name(), info.Size(), ts))
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

func newInfo(name string, size int64, created time.Time) *Info {
	return &Info{
		Filename:  name,
		Size:      size,
		SizeHuman: humanize.Bytes(uint64(max(size, 0))),
		CreatedAt: created,
	}
}

// Delete removes a single backup file by filename.
func (s *Service) Delete(filename string) error {
	if !IsValidFilename(filename) {
		return ErrInvalidName
	}
	if err := os.Remove(filepath.Join(s.dir, filename)); err != nil {
		return fmt.Errorf("removing backup: %w", err)
	}
	s.logger.Info("backup deleted", slog.String("filename", filename))
	return nil
}

// SetRetention updates how many backups Prune keeps.
func (s *Service) SetRetention(count int) {
	s.mu.Lock()
	s.retention = count
	s.mu.Unlock()
}

// SetMaxAgeDays updates the age limit Prune applies; 0 disables it.
func (s *Service) SetMaxAgeDays(days int) {
	s.mu.Lock()
	s.maxAgeDays = days
	s.mu.Unlock()
}

// Prune deletes backups beyond the retention count and older than the max
// age. It returns how many files were removed.
func (s *Service) Prune() (int, error) {
	s.mu.RLock()
	retention, maxAge := s.retention, s.maxAgeDays
	s.mu.RUnlock()

	backups, err := s.List()
	if err != nil {
		return 0, err
	}

	var cutoff time.Time
	if maxAge > 0 {
		cutoff = s.now().UTC().AddDate(0, 0, -maxAge)
	}

	removed := 0
	for i, b := range backups {
		overCount := retention > 0 && i >= retention
		tooOld := !cutoff.IsZero() && b.CreatedAt.Before(cutoff)
		if !overCount && !tooOld {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, b.Filename)); err != nil {
			s.logger.Warn("failed to remove old backup",
				slog.String("filename", b.Filename),
				slog.Any("error", err))
			continue
		}
		removed++
		s.logger.Info("pruned backup", slog.String("filename", b.Filename))
	}
	return removed, nil
}

// StartScheduler runs backups on a fixed interval until the context is canceled.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	s.mu.RLock()
	retention := s.retention
	s.mu.RUnlock()
	s.logger.Info("backup scheduler started",
		slog.String("interval", interval.String()),
		slog.Int("retention", retention))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Backup(ctx); err != nil {
				s.logger.Error("scheduled backup failed", slog.Any("error", err))
				continue
			}
			if _, err := s.Prune(); err != nil {
				s.logger.Error("backup prune failed", slog.Any("error", err))
			}
		}
	}
}

// IsValidFilename checks that filename is a bare backup file name.
func IsValidFilename(filename string) bool {
	if strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return false
	}
	return backupPattern.MatchString(filename)
}
