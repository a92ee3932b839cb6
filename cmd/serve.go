package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"foodstr/cache"
	"foodstr/config"
	"foodstr/engagement"
	"foodstr/feed"
	"foodstr/relay"
	"foodstr/server"
	"foodstr/social"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the foodstr feeds",
		Description: `Starts the foodstr HTTP server and relay subscriptions.

Launches the HTTP server on the specified or default port, loads every feed
mode from cache and relays, and keeps them fresh with live subscriptions.
Feed pages, live SSE streams and engagement tallies are served over the
HTTP API.`,
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Usage:   "SQLite cache file location",
				EnvVars: []string{"FOODSTR_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "hostname",
				Aliases: []string{"n"},
				Usage:   "The hostname where the server is running",
				EnvVars: []string{"FOODSTR_HOSTNAME"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "The port to listen on",
				EnvVars: []string{"FOODSTR_PORT"},
			},
			&cli.StringFlag{
				Name:    "identity",
				Aliases: []string{"i"},
				Usage:   "Hex pubkey of the session identity for the following feeds",
				EnvVars: []string{"FOODSTR_IDENTITY"},
			},
		},
		Action: func(ctx *cli.Context) error {
			fmt.Println("Starting foodstr...")

			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if db := ctx.String("database"); db != "" {
				cfg.Cache.Path = db
			}
			if host := ctx.String("hostname"); host != "" {
				cfg.Server.Hostname = host
			}
			if port := ctx.Int("port"); port != 0 {
				cfg.Server.Port = port
			}
			identity := ctx.String("identity")
			if identity == "" {
				identity = cfg.Identity
			}

			if err := cache.Migrate(cfg.Cache.Path); err != nil {
				return fmt.Errorf("failed to migrate cache: %w", err)
			}
			store, err := cache.NewStore(cfg.Cache.Path, cfg.Cache.Compress)
			if err != nil {
				return fmt.Errorf("failed to open cache: %w", err)
			}
			defer store.Close()

			class, err := classifierFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("failed to build classifier: %w", err)
			}

			queryTimeout := time.Duration(cfg.Feed.QueryTimeoutMs) * time.Millisecond
			pool := relay.NewPool(cfg.Relays.Pool, userAgent, queryTimeout)
			curated := pool
			if cfg.Relays.Curated != "" {
				curated = relay.NewPool([]string{cfg.Relays.Curated}, userAgent, queryTimeout)
			}

			graph := social.NewGraph(social.NewAggregator(cfg.Aggregator.BaseURL), pool)
			bc := server.NewBroadcaster()

			serveCtx, cancel := context.WithCancel(ctx.Context)
			defer cancel()

			feeds := make(map[string]server.FeedProvider)
			var reconcilers []*feed.Reconciler

			addFeed := func(mode feed.Mode, deps feed.Deps) {
				r := feed.New(feedConfig(cfg, mode, identity), deps, class)
				r.OnChange(bc.Broadcast)
				feeds[string(mode)] = r
				reconcilers = append(reconcilers, r)

				go func() {
					if err := r.Load(serveCtx, true); err != nil {
						log.WithFields(log.Fields{
							"mode":  mode,
							"error": err,
						}).Error("Initial feed load failed")
					}
				}()
			}

			addFeed(feed.ModeGlobal, feed.Deps{Source: pool, Live: pool, Graph: graph, Store: store})
			addFeed(feed.ModeCurated, feed.Deps{Source: curated, Live: curated, Graph: graph})
			if identity != "" {
				addFeed(feed.ModeFollowing, feed.Deps{Source: pool, Live: pool, Graph: graph, Store: store})
				addFeed(feed.ModeFollowingReplies, feed.Deps{Source: pool, Live: pool, Graph: graph, Store: store})
			} else {
				log.Info("No identity configured, skipping the following feeds")
			}

			go store.Tidy(serveCtx, time.Hour, 7*24*time.Hour)

			app := server.Server(&server.ServerConfig{
				Hostname:    cfg.Server.Hostname,
				Feeds:       feeds,
				Engagement:  engagement.New(pool, store, time.Minute),
				Broadcaster: bc,
			})

			// Graceful shutdown
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			done := make(chan struct{})

			go func() {
				<-c
				fmt.Println("Gracefully shutting down...")
				cancel()
				for _, r := range reconcilers {
					r.Close()
				}
				bc.Shutdown()
				app.ShutdownWithTimeout(60 * time.Second)
				close(done)
			}()

			fmt.Println("Starting server...")
			if err := app.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
				return err
			}

			<-done
			fmt.Println("Done!")
			return nil
		},
	}
}
