package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sydlexius/iconforge/internal/bundle"
	"github.com/sydlexius/iconforge/internal/conversion"
	"github.com/sydlexius/iconforge/internal/convert"
	"github.com/sydlexius/iconforge/internal/event"
	"github.com/sydlexius/iconforge/internal/filesystem"
)

// Recorder persists a finished conversion.
type Recorder interface {
	Record(ctx context.Context, res *convert.Result, source []byte, filter, origin string) (*conversion.Conversion, error)
}

// ProcessorConfig fixes the conversion applied to every inbox file.
type ProcessorConfig struct {
	Outbox       string
	ProcessedDir string // empty: remove sources after success
	BundleFormat string
	Preset       string
	Sizes        []convert.Size
	Silhouette   *convert.SilhouetteParams
	Filter       string
	MaxBytes     int64
}

// Processor converts one inbox file into an archive in the outbox.
type Processor struct {
	cfg      ProcessorConfig
	conv     *convert.Converter
	history  Recorder
	eventBus *event.Bus
	logger   *slog.Logger
}

// NewProcessor creates a Processor. history and eventBus may be nil.
func NewProcessor(cfg ProcessorConfig, conv *convert.Converter, history Recorder, eventBus *event.Bus, logger *slog.Logger) *Processor {
	if cfg.BundleFormat == "" {
		cfg.BundleFormat = bundle.FormatZip
	}
	return &Processor{
		cfg:      cfg,
		conv:     conv,
		history:  history,
		eventBus: eventBus,
		logger:   logger.With("component", "inbox-processor"),
	}
}

// Process implements FileHandler.
func (p *Processor) Process(ctx context.Context, path string) error {
	name := filepath.Base(path)
	err := p.process(ctx, path, name)
	if err != nil && p.eventBus != nil {
		p.eventBus.Publish(event.Event{
			Type: event.ConversionFailed,
			Data: map[string]any{"source": name, "origin": conversion.OriginWatch, "error": err.Error()},
		})
	}
	return err
}

func (p *Processor) process(ctx context.Context, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if p.cfg.MaxBytes > 0 && info.Size() > p.cfg.MaxBytes {
		return fmt.Errorf("%s is %d bytes, limit is %d", name, info.Size(), p.cfg.MaxBytes)
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the configured inbox
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}

	res, err := p.conv.Convert(ctx, convert.Request{
		SourceName: name,
		Source:     data,
		Preset:     p.cfg.Preset,
		Sizes:      p.cfg.Sizes,
		Silhouette: p.cfg.Silhouette,
		Filter:     p.cfg.Filter,
	})
	if err != nil {
		return err
	}

	var id string
	if p.history != nil {
		rec, err := p.history.Record(ctx, res, data, res.Filter, conversion.OriginWatch)
		if err != nil {
			return fmt.Errorf("recording conversion: %w", err)
		}
		id = rec.ID
	}

	files := make([]bundle.File, 0, len(res.Artifacts))
	for _, a := range res.Artifacts {
		files = append(files, bundle.File{Name: a.Name, Data: a.Data})
	}
	archive, err := bundle.Bytes(p.cfg.BundleFormat, files, time.Now())
	if err != nil {
		return err
	}
	dest, err := outboxPath(p.cfg.Outbox, res.BundleBase(), bundle.Extension(p.cfg.BundleFormat))
	if err != nil {
		return err
	}
	if err := filesystem.WriteFileAtomic(dest, archive, 0o644); err != nil {
		return fmt.Errorf("writing bundle: %w", err)
	}

	if err := p.retire(path, name); err != nil {
		p.logger.Warn("retiring inbox file", "path", path, "error", err)
	}

	p.logger.Info("inbox file converted",
		slog.String("source", name),
		slog.String("bundle", dest),
		slog.Int("artifacts", len(res.Artifacts)),
	)
	if p.eventBus != nil {
		p.eventBus.Publish(event.Event{
			Type: event.ConversionCompleted,
			Data: map[string]any{
				"id":        id,
				"source":    name,
				"origin":    conversion.OriginWatch,
				"bundle":    dest,
				"artifacts": len(res.Artifacts),
			},
		})
	}
	return nil
}

// outboxPath returns a bundle path in dir that does not exist yet.
// Sources sharing a stem (logo.png, logo.jpg) would otherwise overwrite each
// other's bundle, so later ones get a "-2", "-3"... suffix. Inbox files are
// processed one at a time, which keeps the check and the write consistent.
func outboxPath(dir, base, ext string) (string, error) {
	dest := filepath.Join(dir, base+ext)
	for n := 2; ; n++ {
		_, err := os.Stat(dest)
		if errors.Is(err, fs.ErrNotExist) {
			return dest, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking outbox: %w", err)
		}
		if n > maxOutboxSuffix {
			return "", fmt.Errorf("outbox already holds %d bundles named %s%s", maxOutboxSuffix, base, ext)
		}
		dest = filepath.Join(dir, fmt.Sprintf("%s-%d%s", base, n, ext))
	}
}

const maxOutboxSuffix = 1000

// retire moves the source into ProcessedDir, or removes it when none is set.
func (p *Processor) retire(path, name string) error {
	if p.cfg.ProcessedDir == "" {
		return os.Remove(path)
	}
	if err := os.MkdirAll(p.cfg.ProcessedDir, 0o750); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(p.cfg.ProcessedDir, name))
}
