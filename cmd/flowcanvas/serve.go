package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/flowcanvas/internal/logging"
	"github.com/rendis/flowcanvas/internal/panel"
	"github.com/rendis/flowcanvas/internal/scheduler"
	"github.com/rendis/flowcanvas/internal/store"
	"github.com/rendis/flowcanvas/internal/streaming"
	"github.com/rendis/flowcanvas/internal/workspace"
	"github.com/rendis/flowcanvas/pkg/mcp"
)

func serveCmd() *cobra.Command {
	var stdio bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve canvases over MCP and the HTTP panel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), loadConfig(), stdio)
		},
	}
	cmd.Flags().BoolVar(&stdio, "stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	return cmd
}

// services is everything serve wires together.
type services struct {
	store    *store.LibSQLStore
	hub      *streaming.MemoryHub
	registry *workspace.Registry
	auditor  *scheduler.Auditor
	mcp      *mcp.CanvasServer
	mcpHTTP  http.Handler
}

func (s *services) close(logger *slog.Logger) {
	if err := s.auditor.Stop(); err != nil {
		logger.Debug("auditor stop", "error", err)
	}
	s.mcp.Close()
	s.registry.Close()
	if err := s.store.Close(); err != nil {
		logger.Warn("close store", "error", err)
	}
}

func buildServices(ctx context.Context, cfg Config, logger *slog.Logger) (*services, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	hub := streaming.NewMemoryHub()
	reg, err := workspace.NewRegistry(workspace.Options{
		Logger:  logger,
		Layout:  cfg.layoutConfig(),
		Session: cfg.sessionConfig(),
		Hub:     hub,
		Sinks:   []streaming.Sink{store.NewEventLog(db).Sink(logger)},
	}, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	auditor, err := scheduler.NewAuditor(cfg.AuditSchedule, scheduler.RegistryTargets(reg), logger)
	if err != nil {
		reg.Close()
		db.Close()
		return nil, err
	}

	srv := mcp.NewCanvasServer(mcp.CanvasServerDeps{
		Registry: reg,
		Store:    db,
		Hub:      hub,
		BinDir:   binDir(),
		Logger:   logger,
	})
	return &services{store: db, hub: hub, registry: reg, auditor: auditor, mcp: srv, mcpHTTP: srv.HTTPHandler()}, nil
}

func runServe(ctx context.Context, cfg Config, stdio bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := slog.New(logging.NewCorrelationHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.close(logger)

	if err := svc.auditor.Start(ctx); err != nil {
		return err
	}

	if stdio {
		logger.Info("serving MCP over stdio")
		return svc.mcp.Serve(ctx)
	}

	swapper := newHandlerSwapper(buildMux(cfg, svc, logger))
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           swapper,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		logger.Warn("write pidfile", "path", pidPath(), "error", err)
	}
	defer os.Remove(pidPath())

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		current := cfg
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				next := loadConfig()
				d := diffConfigs(current, next)
				if d.LogLevelChanged {
					level.Set(logging.ParseLevel(next.LogLevel))
					logger.Info("log level changed", "level", next.LogLevel)
				}
				if d.PanelChanged {
					swapper.Swap(buildMux(next, svc, logger))
					logger.Info("panel toggled", "enabled", next.Panel)
				}
				if len(d.RestartNeeded) > 0 {
					logger.Warn("settings changed that need a restart", "fields", d.RestartNeeded)
				}
				current.LogLevel, current.Panel = next.LogLevel, next.Panel
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("flowcanvas listening", "addr", cfg.ListenAddr, "panel", cfg.Panel)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return httpSrv.Shutdown(shutdownCtx)
}

// buildMux mounts MCP at /mcp and, when enabled, the panel at the root.
func buildMux(cfg Config, svc *services, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/mcp", svc.mcpHTTP)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"canvases":    len(svc.registry.List()),
			"subscribers": svc.hub.Subscribers(),
			"dropped":     svc.hub.Dropped(),
		})
	})
	if cfg.Panel {
		p := panel.NewPanelServer(panel.PanelDeps{
			Registry: svc.registry,
			Hub:      svc.hub,
			Store:    svc.store,
			Auditor:  svc.auditor,
			BinDir:   binDir(),
			Logger:   logger,
		})
		mux.Handle("/", p.Handler())
	}
	return mux
}
