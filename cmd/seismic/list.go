package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/couchcryptid/seismic-feed-service/internal/domain"
	"github.com/couchcryptid/seismic-feed-service/internal/store"
)

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{Name: "min-magnitude", Usage: "magnitude at or above"},
		&cli.Float64Flag{Name: "max-magnitude", Usage: "magnitude below"},
		&cli.StringFlag{Name: "since", Usage: "occurred at or after (RFC 3339)"},
		&cli.StringFlag{Name: "until", Usage: "occurred before (RFC 3339)"},
		&cli.StringFlag{Name: "q", Usage: "details contain this text"},
	}
}

func listCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "Print stored quakes",
		Flags: append(filterFlags(),
			&cli.StringFlag{Name: "sort", Usage: "oldest, newest or strongest", Value: "oldest"},
			&cli.IntFlag{Name: "limit", Usage: "maximum rows (0 for all)"},
			&cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table"},
		),
		Action: func(c *cli.Context) error {
			f, err := filterFromFlags(c)
			if err != nil {
				return err
			}
			f.Limit = c.Int("limit")

			s, closeStore, err := openCommandStore(c)
			if err != nil {
				return err
			}
			defer closeStore()

			quakes, err := s.Query(c.Context, f, domain.ParseSort(c.String("sort")))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return json.NewEncoder(os.Stdout).Encode(quakes)
			}
			return printQuakes(os.Stdout, quakes)
		},
	}
}

func pruneCmd() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete stored quakes matching a filter",
		Description: `Deletes every quake matching the filter flags. At least one
		condition is required; prune never empties the database by default.`,
		Flags: append(filterFlags(),
			&cli.DurationFlag{Name: "older-than", Usage: "occurred more than this long ago, e.g. 720h"},
		),
		Action: func(c *cli.Context) error {
			f, err := filterFromFlags(c)
			if err != nil {
				return err
			}
			if d := c.Duration("older-than"); d > 0 {
				cutoff := domain.Now().Add(-d)
				if f.Until.IsZero() || cutoff.Before(f.Until) {
					f.Until = cutoff
				}
			}

			s, closeStore, err := openCommandStore(c)
			if err != nil {
				return err
			}
			defer closeStore()

			n, err := s.Delete(c.Context, f)
			if errors.Is(err, domain.ErrEmptyFilter) {
				return errors.New("refusing to delete everything: give at least one filter flag")
			}
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d quakes\n", n)
			return nil
		},
	}
}

func openCommandStore(c *cli.Context) (*store.Store, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	s, err := store.Open(cfg.DatabasePath, commandLogger(cfg))
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func filterFromFlags(c *cli.Context) (domain.Filter, error) {
	f := domain.Filter{
		MinMagnitude:    c.Float64("min-magnitude"),
		MaxMagnitude:    c.Float64("max-magnitude"),
		DetailsContains: c.String("q"),
	}
	var err error
	if f.Since, err = parseFlagTime(c, "since"); err != nil {
		return f, err
	}
	if f.Until, err = parseFlagTime(c, "until"); err != nil {
		return f, err
	}
	return f, nil
}

func parseFlagTime(c *cli.Context, name string) (time.Time, error) {
	v := c.String(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return t.UTC(), nil
}

func printQuakes(w io.Writer, quakes []domain.StoredQuake) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOCCURRED AT\tMAG\tLAT\tLON\tDETAILS")
	for _, q := range quakes {
		fmt.Fprintf(tw, "%d\t%s\t%.1f\t%.2f\t%.2f\t%s\n",
			q.ID, q.OccurredAt.Format(time.RFC3339), q.Magnitude, q.Latitude, q.Longitude, q.Details)
	}
	return tw.Flush()
}
