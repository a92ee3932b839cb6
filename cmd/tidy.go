package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"foodstr/cache"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the cache",
		Description: `Tidy up the cache by removing entries that are old.

		Removes snapshots and tallies older than the given age from the cache.
		This is to keep the cache size down and the feeds fresh on next start.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Value:   "foodstr.db",
				Usage:   "SQLite cache file location",
				EnvVars: []string{"FOODSTR_DATABASE"},
			},
			&cli.IntFlag{
				Name:    "max-age-days",
				Value:   7,
				Usage:   "Remove cache entries older than this many days",
				EnvVars: []string{"FOODSTR_MAX_AGE_DAYS"},
			},
		},
		Action: func(ctx *cli.Context) error {
			database := ctx.String("database")
			fmt.Println("Database configured: ", database)

			store, err := cache.NewStore(database, false)
			if err != nil {
				return err
			}
			defer store.Close()

			maxAge := time.Duration(ctx.Int("max-age-days")) * 24 * time.Hour
			return store.InvalidateStale(maxAge)
		},
	}
}
