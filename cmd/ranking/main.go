// Package main is the entry point of the Kombinu ranking service.
//
// Commands:
//   - serve: REST API, NATS quiz consumer and background jobs
//   - migrate up|down|status: PostgreSQL schema management
//   - refresh: one-off reload from the remote source
//   - hash-key: bcrypt hash of an admin API key
//   - wipe: clear every standing in the cache
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kombinu/kombinu-ranking/config"
	"github.com/kombinu/kombinu-ranking/internal/infrastructure/persistence/postgres"
	"github.com/kombinu/kombinu-ranking/internal/interface/http/handlers"
	"github.com/kombinu/kombinu-ranking/pkg/logger"
	"github.com/kombinu/kombinu-ranking/pkg/timeutil"
)

func main() {
	app := &cli.App{
		Name:  "ranking",
		Usage: "Kombinu leaderboard engine",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "env-file",
				Usage:   "load environment variables from `FILE` (repeatable)",
				EnvVars: []string{"RANKING_ENV_FILE"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API, the NATS consumer and the scheduler",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "manage the PostgreSQL schema",
				Subcommands: []*cli.Command{
					{Name: "up", Usage: "apply pending migrations", Action: migrateUp},
					{Name: "down", Usage: "roll back the last migration", Action: migrateDown},
					{Name: "status", Usage: "print migration status", Action: migrateStatus},
				},
			},
			{
				Name:   "refresh",
				Usage:  "reload standings from the remote source once",
				Action: refresh,
			},
			{
				Name:      "hash-key",
				Usage:     "print the bcrypt hash of an admin API key for HTTP_API_KEYS",
				ArgsUsage: "KEY",
				Action:    hashKey,
			},
			{
				Name:  "wipe",
				Usage: "remove every standing from the cache",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Usage: "confirm the wipe"},
				},
				Action: wipe,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and builds the process logger.
func loadConfig(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.StringSlice("env-file")...)
	if err != nil {
		return nil, nil, err
	}

	format := logger.FormatText
	if cfg.Observability.LogFormat == string(logger.FormatJSON) {
		format = logger.FormatJSON
	}
	level := logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		level = slog.LevelDebug
	}

	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     level,
		Format:    format,
		AddSource: cfg.IsDevelopment(),
	}).With(
		slog.String("service", cfg.App.Name),
		slog.String("version", cfg.App.Version),
	)
	slog.SetDefault(log)
	return cfg, log, nil
}

func serve(c *cli.Context) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting ranking service",
		slog.String("env", string(cfg.App.Environment)),
		slog.String("remote", cfg.Remote.Kind),
		slog.String("cache", cfg.Cache.Backend),
		slog.Bool("nats", cfg.NATS.Enabled),
	)

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	log.Info("engine started", logger.EntryCount(app.engine.Snapshot().Len()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.server.Run(gctx)
	})
	if app.consumer != nil {
		g.Go(func() error {
			return app.consumer.Run(gctx)
		})
	}
	if app.scheduler != nil {
		g.Go(func() error {
			return app.scheduler.Run(gctx)
		})
	}

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("service stopped with error", logger.Err(runErr))
	}

	// The run context is already cancelled here.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := app.engine.Shutdown(shutdownCtx); err != nil {
		log.Error("engine shutdown failed", logger.Err(err))
	}

	log.Info("ranking service stopped")
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func refresh(c *cli.Context) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}
	app, err := build(c.Context, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.engine.Start(c.Context); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	if err := app.engine.Refresh(c.Context); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	stats := app.engine.Stats()
	log.Info("standings refreshed",
		slog.Int("total_users", stats.TotalUsers),
		slog.Int("active_last_week", stats.ActiveLastWeek),
		slog.Int("categories", len(stats.Categories)),
	)
	return app.engine.Shutdown(c.Context)
}

func wipe(c *cli.Context) error {
	if !c.Bool("yes") {
		return errors.New("refusing to wipe without --yes")
	}
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}
	app, err := build(c.Context, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.engine.Start(c.Context); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	if err := app.engine.Wipe(c.Context); err != nil {
		return fmt.Errorf("wipe: %w", err)
	}
	log.Warn("ranking wiped")
	return app.engine.Shutdown(c.Context)
}

func hashKey(c *cli.Context) error {
	key := c.Args().First()
	if key == "" {
		return errors.New("usage: ranking hash-key KEY")
	}
	hash, err := handlers.HashAPIKey(key)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, hash)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

func withMigrator(c *cli.Context, fn func(*postgres.Migrator, *slog.Logger) error) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required for migrations")
	}

	conn, err := postgres.NewConnectionFromURL(c.Context, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer conn.Close()

	return fn(postgres.NewMigrator(conn), log)
}

func migrateUp(c *cli.Context) error {
	return withMigrator(c, func(m *postgres.Migrator, log *slog.Logger) error {
		applied, err := m.Migrate(c.Context)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		if len(applied) == 0 {
			log.Info("database schema is up to date")
			return nil
		}
		log.Info("migrations applied", slog.Any("versions", applied))
		return nil
	})
}

func migrateDown(c *cli.Context) error {
	return withMigrator(c, func(m *postgres.Migrator, log *slog.Logger) error {
		if err := m.Rollback(c.Context); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		log.Info("last migration rolled back")
		return nil
	})
}

func migrateStatus(c *cli.Context) error {
	return withMigrator(c, func(m *postgres.Migrator, _ *slog.Logger) error {
		migrations, err := m.Status(c.Context)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}

		tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED AT")
		for _, mig := range migrations {
			applied := "pending"
			if mig.IsApplied {
				applied = mig.AppliedAt.Format(timeutil.FormatDateTime)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\n", mig.Version, mig.Name, applied)
		}
		return tw.Flush()
	})
}
