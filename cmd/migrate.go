package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"foodstr/cache"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run cache migrations",
		Description: `Runs migrations on the configured cache database. Will create the database if it does not exist.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Value:   "foodstr.db",
				Usage:   "SQLite cache file location",
				EnvVars: []string{"FOODSTR_DATABASE"},
			},
		},
		Action: func(ctx *cli.Context) error {
			database := ctx.String("database")
			fmt.Println("Database configured: ", database)
			return cache.Migrate(database)
		},
	}
}
