package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cod31nvictus/eterny/internal/config"
	"github.com/cod31nvictus/eterny/server"
	authmemory "github.com/cod31nvictus/eterny/server/auth/memory"
	"github.com/cod31nvictus/eterny/server/recurrence"
	"github.com/cod31nvictus/eterny/server/schedule"
	"github.com/cod31nvictus/eterny/server/storage"
	"github.com/cod31nvictus/eterny/server/storage/memory"
	"github.com/cod31nvictus/eterny/server/storage/sqlite"
	"github.com/spf13/cobra"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string
	Listen     string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the schedule API server",
		Long: `Run the HTTP schedule API.

The configuration file is created with defaults on first run. Environment
variables prefixed with ETERNY_ override file values.

Example:
  eterny serve --config ./eterny.yaml
  ETERNY_STORAGE_DRIVER=sqlite ETERNY_STORAGE_PATH=./eterny.db eterny serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "eterny.yaml", "path to the YAML config")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address, overrides the config")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg)
	app, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer app.Close()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Server.ListenAndServe(ctx); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}

// app is a wired server and the resources it holds.
type app struct {
	Server  *server.Server
	Service *schedule.Service
	closers []io.Closer
}

func (a *app) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// templateStore is the part of both stores used to seed templates.
type templateStore interface {
	storage.Storage
	PutTemplate(ctx context.Context, t *storage.Template) error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	a := &app{}

	var store templateStore
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db)
		store = db
		logger.Info("database ready", "path", cfg.Storage.Path)
	default:
		store = memory.New()
	}

	for _, t := range cfg.Templates {
		if err := store.PutTemplate(ctx, &storage.Template{ID: t.ID, OwnerID: t.Owner, Name: t.Name}); err != nil {
			a.Close()
			return nil, fmt.Errorf("seed template %s/%s: %w", t.Owner, t.ID, err)
		}
	}

	users := authmemory.New(authmemory.WithLogger(logger))
	for _, u := range cfg.Users {
		if err := users.AddUser(authmemory.User{
			Username:     u.Username,
			Password:     u.Password,
			PasswordHash: u.PasswordHash,
			ReadOnly:     u.ReadOnly,
		}); err != nil {
			a.Close()
			return nil, err
		}
	}
	if len(cfg.Users) == 0 {
		logger.Warn("no users configured, every request will be rejected")
	}

	a.Service = schedule.NewService(store,
		schedule.WithLogger(logger),
		schedule.WithEngine(recurrence.NewEngineWithConfig(cfg.EngineConfig())),
		schedule.WithMaxRangeDays(cfg.MaxRangeDays),
	)

	srv, err := server.New(a.Service, users, server.Options{
		Addr:   cfg.Listen,
		Realm:  cfg.Realm,
		Logger: logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Server = srv

	logger.Info("app configured",
		"storage", cfg.Storage.Driver,
		"week_start", cfg.WeekStart,
		"templates", len(cfg.Templates),
		"users", len(cfg.Users))
	return a, nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := cfg.SlogLevel()
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}
