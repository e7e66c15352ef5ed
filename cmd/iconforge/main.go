package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quic-go/quic-go/http3"
	"golang.org/x/net/netutil"

	"github.com/sydlexius/iconforge/internal/api"
	"github.com/sydlexius/iconforge/internal/backup"
	"github.com/sydlexius/iconforge/internal/config"
	"github.com/sydlexius/iconforge/internal/conversion"
	"github.com/sydlexius/iconforge/internal/convert"
	"github.com/sydlexius/iconforge/internal/database"
	"github.com/sydlexius/iconforge/internal/event"
	"github.com/sydlexius/iconforge/internal/logging"
	"github.com/sydlexius/iconforge/internal/maintenance"
	"github.com/sydlexius/iconforge/internal/retention"
	"github.com/sydlexius/iconforge/internal/store"
	"github.com/sydlexius/iconforge/internal/version"
	"github.com/sydlexius/iconforge/internal/watcher"
	"github.com/sydlexius/iconforge/internal/webhook"
)

func main() {
	// Handle subcommands before starting the server
	if len(os.Args) > 1 {
		var err error
		switch os.Args[1] {
		case "serve":
			err = run()
		case "convert":
			err = runConvert(os.Args[2:])
		case "hash-token":
			err = hashToken(os.Args[2:])
		case "restore":
			err = runRestore(os.Args[2:])
		case "version", "-version", "--version":
			fmt.Println("iconforge", version.String())
		default:
			err = fmt.Errorf("unknown command %q (want serve, convert, restore, hash-token or version)", os.Args[1])
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func configPath() string {
	if p := os.Getenv("IF_CONFIG_PATH"); p != "" {
		return p
	}
	return "/data/config.yaml"
}

func logConfig(cfg *config.Config) logging.Config {
	return logging.Config{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		FilePath:       cfg.Logging.FilePath,
		FileMaxSizeMB:  cfg.Logging.FileMaxSizeMB,
		FileMaxFiles:   cfg.Logging.FileMaxFiles,
		FileMaxAgeDays: cfg.Logging.FileMaxAgeDays,
	}
}

func converterOptions(cfg *config.Config) convert.Options {
	return convert.Options{
		MinDimension: cfg.Limits.MinDimension,
		MaxDimension: cfg.Limits.MaxDimension,
		Filter:       cfg.Convert.Filter,
		Concurrency:  cfg.Convert.Concurrency,
	}
}

func run() error {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(logConfig(cfg))
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database ready", slog.String("path", cfg.Database.Path))

	st, err := store.New(cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("opening artifact store: %w", err)
	}

	history := conversion.NewService(db, st, logger)
	converter := convert.New(converterOptions(cfg), logger)

	eventBus := event.NewBus(logger, 256)
	eventBus.SubscribeAll(func(e event.Event) {
		logger.Debug("event", slog.String("type", string(e.Type)), slog.Any("data", e.Data))
	})
	dispatcher := webhook.NewDispatcher(cfg.Webhooks, logger)
	eventBus.SubscribeAll(dispatcher.HandleEvent)
	go eventBus.Start()
	defer eventBus.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retentionService := retention.NewService(history, eventBus, time.Duration(cfg.Retention.Hours)*time.Hour, logger)
	go retentionService.StartScheduler(ctx, time.Duration(cfg.Retention.IntervalMinutes)*time.Minute)

	maintenanceService := maintenance.NewService(db, cfg.Database.Path, st, history, logger)
	maintenanceService.SetOrphanGrace(time.Duration(cfg.Maintenance.OrphanGraceMinutes) * time.Minute)
	go maintenanceService.StartScheduler(ctx, time.Duration(cfg.Maintenance.IntervalHours)*time.Hour)

	backupService := backup.NewService(db, cfg.Backup.Dir, cfg.Backup.RetentionCount, logger)
	backupService.SetMaxAgeDays(cfg.Backup.MaxAgeDays)
	if cfg.Backup.Enabled {
		go backupService.StartScheduler(ctx, time.Duration(cfg.Backup.IntervalHours)*time.Hour)
	}

	if cfg.Watch.Enabled {
		if err := startWatcher(ctx, cfg, converter, history, eventBus, logger); err != nil {
			return err
		}
	}

	go func() {
		err := config.Watch(ctx, path, func(next *config.Config) {
			logManager.Reconfigure(logConfig(next))
			retentionService.SetMaxAge(time.Duration(next.Retention.Hours) * time.Hour)
			backupService.SetRetention(next.Backup.RetentionCount)
			backupService.SetMaxAgeDays(next.Backup.MaxAgeDays)
			dispatcher.SetWebhooks(next.Webhooks)
			maintenanceService.SetOrphanGrace(time.Duration(next.Maintenance.OrphanGraceMinutes) * time.Minute)
		}, logger)
		if err != nil {
			logger.Warn("config hot reload disabled", "path", path, "error", err)
		}
	}()

	router := api.NewRouter(api.RouterDeps{
		Converter:      converter,
		Conversions:    history,
		EventBus:       eventBus,
		Backups:        backupService,
		Maintenance:    maintenanceService,
		DB:             db,
		Logger:         logger,
		BasePath:       cfg.Server.BasePath,
		MaxUploadBytes: cfg.Limits.MaxUploadBytes(),
		APITokenHash:   cfg.Server.APITokenHash,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
	})
	handler := router.Handler(ctx)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	var h3 *http3.Server
	if cfg.Server.HTTP3 {
		h3 = &http3.Server{Addr: addr, Handler: handler}
		handler = advertiseHTTP3(h3, handler)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("server starting",
			slog.String("version", version.String()),
			slog.String("addr", addr),
			slog.String("base_path", cfg.Server.BasePath),
			slog.Bool("tls", cfg.Server.TLSEnabled()),
			slog.Int("max_connections", cfg.Server.MaxConnections),
		)
		var err error
		if cfg.Server.TLSEnabled() {
			err = srv.ServeTLS(ln, cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if h3 != nil {
		go func() {
			logger.Info("http/3 listener starting", slog.String("addr", addr))
			if err := h3.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http/3 server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", "error", err)
		stop()
		shutdown(srv, h3, logger)
		return err
	}

	logger.Info("shutting down")
	return shutdown(srv, h3, logger)
}

func shutdown(srv *http.Server, h3 *http3.Server, logger *slog.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if h3 != nil {
		if err := h3.Close(); err != nil {
			logger.Warn("closing http/3 listener", "error", err)
		}
	}
	return srv.Shutdown(shutdownCtx)
}

// advertiseHTTP3 adds the Alt-Svc header so clients can upgrade to QUIC.
func advertiseHTTP3(h3 *http3.Server, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h3.SetQUICHeaders(w.Header())
		next.ServeHTTP(w, r)
	})
}

func startWatcher(ctx context.Context, cfg *config.Config, converter *convert.Converter, history *conversion.Service, eventBus *event.Bus, logger *slog.Logger) error {
	pcfg := watcher.ProcessorConfig{
		Outbox:       cfg.Watch.Outbox,
		ProcessedDir: cfg.Watch.ProcessedDir,
		BundleFormat: cfg.Watch.BundleFormat,
		Preset:       cfg.Watch.Preset,
		Silhouette:   cfg.WatchSilhouette(),
		Filter:       cfg.Convert.Filter,
		MaxBytes:     cfg.Limits.MaxUploadBytes(),
	}
	if cfg.Watch.Preset == convert.PresetSingle {
		size, err := convert.ParseSize(cfg.Watch.Size)
		if err != nil {
			return fmt.Errorf("watch size: %w", err)
		}
		pcfg.Sizes = []convert.Size{size}
	}
	for _, dir := range []string{cfg.Watch.Inbox, cfg.Watch.Outbox, cfg.Watch.ProcessedDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating watch directory: %w", err)
		}
	}

	processor := watcher.NewProcessor(pcfg, converter, history, eventBus, logger)
	svc := watcher.NewService(cfg.Watch.Inbox, processor.Process, eventBus, logger)
	svc.ForcePoll(cfg.Watch.Poll)
	go func() {
		if err := svc.Start(ctx); err != nil {
			logger.Error("inbox watcher stopped", "inbox", cfg.Watch.Inbox, "error", err)
		}
	}()
	return nil
}
