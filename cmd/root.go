package cmd

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"foodstr/classifier"
	"foodstr/config"
	"foodstr/feed"
)

const userAgent = "foodstr/1.0"

func RootApp() *cli.App {
	return &cli.App{
		Name:  "foodstr",
		Usage: "A Nostr feed for food posts",
		Description: `A Nostr client backend that reconciles food-related notes from
		multiple relays into deduplicated, time-ordered feeds.

		Foodstr queries a relay pool and a curated relay, classifies each note
		with a keyword vocabulary, and serves the result over an HTTP API with
		live server-sent event streams.

		Flags can generally be set via environment variables, e.g.:

		--database => FOODSTR_DATABASE=foodstr.db
		--port => FOODSTR_PORT=3000
		`,
		Commands: []*cli.Command{
			serveCmd(),
			subscribeCmd(),
			classifyCmd(),
			followsCmd(),
			migrateCmd(),
			tidyCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to TOML configuration file",
		EnvVars: []string{"FOODSTR_CONFIG"},
	}
}

func classifierFromConfig(cfg *config.Config) (*classifier.Classifier, error) {
	return classifier.New(classifier.Config{
		StrongHashtags: cfg.List(cfg.Classifier.StrongHashtags),
		HardWords:      cfg.List(cfg.Classifier.Hard),
		SoftWords:      cfg.List(cfg.Classifier.Soft),
		HardThreshold:  cfg.Classifier.HardThreshold,
		SoftThreshold:  cfg.Classifier.SoftThreshold,
		SpamHashtagCap: cfg.Classifier.SpamHashtagCap,
	})
}

func feedConfig(cfg *config.Config, mode feed.Mode, identity string) feed.Config {
	f := cfg.Feed
	return feed.Config{
		Mode:            mode,
		Identity:        identity,
		Topic:           f.Topic,
		PageSize:        f.PageSize,
		Debounce:        time.Duration(f.DebounceMs) * time.Millisecond,
		QueryTimeout:    time.Duration(f.QueryTimeoutMs) * time.Millisecond,
		RetryAttempts:   f.RetryAttempts,
		RetryDelay:      time.Duration(f.RetryDelayMs) * time.Millisecond,
		InitialWindow:   time.Duration(f.InitialWindowHours) * time.Hour,
		MaxWindow:       time.Duration(f.MaxWindowDays) * 24 * time.Hour,
		RefreshInterval: time.Duration(f.RefreshMinutes) * time.Minute,
		CacheTTL:        time.Duration(cfg.Cache.TTLMinutes[string(mode)]) * time.Minute,
		FoodFilter:      f.FoodFilterDefault,
	}
}
