package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/couchcryptid/seismic-feed-service/internal/store"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Applies pending migrations to the configured database. Creates the database if it does not exist.`,
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			version, err := store.Migrate(cfg.DatabasePath)
			if err != nil {
				return err
			}
			fmt.Printf("%s: schema version %d\n", cfg.DatabasePath, version)
			return nil
		},
	}
}

func rollbackCmd() *cli.Command {
	return &cli.Command{
		Name:        "rollback",
		Usage:       "Roll back the last database migration",
		Description: `Reverts the most recent migration. Rolling back the first migration drops all stored quakes.`,
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			version, err := store.Rollback(cfg.DatabasePath)
			if err != nil {
				return err
			}
			fmt.Printf("%s: schema version %d\n", cfg.DatabasePath, version)
			return nil
		},
	}
}
