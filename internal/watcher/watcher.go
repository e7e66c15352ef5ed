// Package watcher converts images dropped into an inbox directory.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sydlexius/iconforge/internal/event"
)

// FileHandler processes one settled inbox file. On success it is expected
// to move or remove the file.
type FileHandler func(ctx context.Context, path string) error

// imageExts are the inbox file extensions picked up for conversion.
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// fileStamp identifies a version of a file so failed inputs are retried only
// after they change.
type fileStamp struct {
	size    int64
	modTime time.Time
}

// Service watches the inbox directory and hands each file to a FileHandler
// once it has stopped changing for the settle period.
type Service struct {
	inbox        string
	handle       FileHandler
	eventBus     *event.Bus
	logger       *slog.Logger
	settle       time.Duration
	pollInterval time.Duration
	forcePoll    bool

	mu      sync.Mutex
	pending map[string]time.Time // path -> last observed activity
	failed  map[string]fileStamp // path -> stamp at last failure
	known   map[string]fileStamp // poll snapshot
}

// NewService creates an inbox watcher.
func NewService(inbox string, handle FileHandler, eventBus *event.Bus, logger *slog.Logger) *Service {
	return &Service{
		inbox:        inbox,
		handle:       handle,
		eventBus:     eventBus,
		logger:       logger.With("component", "inbox-watcher"),
		settle:       2 * time.Second,
		pollInterval: 30 * time.Second,
		pending:      make(map[string]time.Time),
		failed:       make(map[string]fileStamp),
		known:        make(map[string]fileStamp),
	}
}

// SetSettle overrides how long a file must stay unchanged before processing.
func (s *Service) SetSettle(d time.Duration) {
	s.settle = d
}

// SetPollInterval overrides the directory poll period used when fsnotify is
// unavailable.
func (s *Service) SetPollInterval(d time.Duration) {
	s.pollInterval = d
}

// ForcePoll disables fsnotify even where it works.
func (s *Service) ForcePoll(v bool) {
	s.forcePoll = v
}

// Start blocks until ctx is canceled. Files already in the inbox are queued
// first. fsnotify is used when a probe shows it delivers events for the
// inbox; otherwise the directory is polled.
func (s *Service) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.inbox, 0o750); err != nil {
		return err
	}

	var eventCh <-chan fsnotify.Event
	var errCh <-chan error
	var pollCh <-chan time.Time

	useNotify := !s.forcePoll && ProbeFSNotify(s.inbox, 2*time.Second)
	if useNotify {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(s.inbox)
		}
		if err != nil {
			s.logger.Warn("fsnotify unavailable, polling inbox", "error", err)
			useNotify = false
			if w != nil {
				_ = w.Close()
			}
		} else {
			defer w.Close() //nolint:errcheck
			eventCh = w.Events
			errCh = w.Errors
		}
	}
	if !useNotify {
		pollTicker := time.NewTicker(s.pollInterval)
		defer pollTicker.Stop()
		pollCh = pollTicker.C
	}

	s.logger.Info("inbox watcher starting",
		"inbox", s.inbox,
		"mode", map[bool]string{true: "notify", false: "poll"}[useNotify],
	)
	s.poll()

	// Settle checks run at a fraction of the settle period.
	settleTicker := time.NewTicker(max(s.settle/4, 10*time.Millisecond))
	defer settleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("inbox watcher stopping")
			return nil

		case ev, ok := <-eventCh:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				s.touch(ev.Name)
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				s.forget(ev.Name)
			}

		case err, ok := <-errCh:
			if !ok {
				return nil
			}
			s.logger.Error("fsnotify error", "error", err)

		case <-pollCh:
			s.poll()

		case <-settleTicker.C:
			s.processSettled(ctx)
		}
	}
}

// eligible reports whether path is a direct, visible, image file of the inbox.
func (s *Service) eligible(path string) bool {
	if filepath.Dir(path) != filepath.Clean(s.inbox) {
		return false
	}
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// touch marks path as recently active.
func (s *Service) touch(path string) {
	if !s.eligible(path) {
		return
	}
	s.mu.Lock()
	_, already := s.pending[path]
	s.pending[path] = time.Now()
	s.mu.Unlock()

	if !already {
		s.logger.Info("file detected in inbox", "path", path)
		if s.eventBus != nil {
			s.eventBus.Publish(event.Event{
				Type: event.WatchFileDetected,
				Data: map[string]any{"path": path, "name": filepath.Base(path)},
			})
		}
	}
}

func (s *Service) forget(path string) {
	s.mu.Lock()
	delete(s.pending, path)
	delete(s.failed, path)
	delete(s.known, path)
	s.mu.Unlock()
}

// poll rescans the inbox and marks new or changed files as active.
func (s *Service) poll() {
	entries, err := os.ReadDir(s.inbox)
	if err != nil {
		s.logger.Error("reading inbox", "error", err)
		return
	}

	current := make(map[string]fileStamp, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(s.inbox, e.Name())
		if !s.eligible(path) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		current[path] = fileStamp{size: info.Size(), modTime: info.ModTime()}
	}

	s.mu.Lock()
	var changed []string
	for path, st := range current {
		if old, ok := s.known[path]; !ok || old != st {
			changed = append(changed, path)
		}
	}
	s.known = current
	s.mu.Unlock()

	sort.Strings(changed)
	for _, path := range changed {
		s.touch(path)
	}
}

// processSettled hands every file quiet for the settle period to the handler.
func (s *Service) processSettled(ctx context.Context) {
	now := time.Now()
	s.mu.Lock()
	var ready []string
	for path, last := range s.pending {
		if now.Sub(last) >= s.settle {
			ready = append(ready, path)
		}
	}
	for _, path := range ready {
		delete(s.pending, path)
	}
	s.mu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		if ctx.Err() != nil {
			return
		}
		s.process(ctx, path)
	}
}

func (s *Service) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("stat inbox file", "path", path, "error", err)
		}
		return
	}
	stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}

	s.mu.Lock()
	prev, failedBefore := s.failed[path]
	s.mu.Unlock()
	if failedBefore && prev == stamp {
		return
	}

	if err := s.handle(ctx, path); err != nil {
		s.logger.Error("processing inbox file failed", "path", path, "error", err)
		s.mu.Lock()
		s.failed[path] = stamp
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	delete(s.failed, path)
	s.mu.Unlock()
}
