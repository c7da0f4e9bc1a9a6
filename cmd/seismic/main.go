// Command seismic ingests the USGS earthquake feed into a local SQLite store
// and serves it over HTTP.
//
// Settings come from environment variables (see internal/config). A few are
// also exposed as global flags, which take precedence:
//
//	seismic --database quakes.db serve
//	seismic refresh
//	seismic list --min-magnitude 5 --sort strongest --limit 10
//	seismic prune --older-than 720h
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/couchcryptid/seismic-feed-service/internal/config"
	"github.com/couchcryptid/seismic-feed-service/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newApp().RunContext(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "seismic",
		Usage: "Collect and query recent earthquakes from the USGS feed",
		Description: `Polls the USGS Atom feed, stores every new quake in SQLite and
		notifies subscribers about quakes at or above the configured minimum
		magnitude. The serve command runs the scheduler and HTTP API; the
		remaining commands operate on the database directly.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "database",
				Usage: "SQLite database path (overrides DATABASE_PATH)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (overrides LOG_LEVEL)",
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			refreshCmd(),
			migrateCmd(),
			rollbackCmd(),
			listCmd(),
			pruneCmd(),
		},
		Action: func(c *cli.Context) error {
			return cli.ShowAppHelp(c)
		},
	}
}

// loadConfig reads the environment and applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if v := c.String("database"); v != "" {
		cfg.DatabasePath = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}

// commandLogger is the logger for one-shot commands, which keep stdout for results.
func commandLogger(cfg *config.Config) *slog.Logger {
	return observability.NewLoggerTo(os.Stderr, cfg.LogLevel, cfg.LogFormat)
}
