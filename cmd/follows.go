package cmd

import (
	"fmt"
	"time"

	"github.com/cqroot/prompt"
	"github.com/urfave/cli/v2"

	"foodstr/config"
	"foodstr/relay"
	"foodstr/social"
)

func followsCmd() *cli.Command {
	return &cli.Command{
		Name:  "follows",
		Usage: "Print the follow set of a pubkey",
		Description: `Resolves the follow set of a pubkey the same way the following
feeds do: the aggregator API first, falling back to the newest contact list
on the configured relays.

Prints one hex pubkey per line.`,
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:    "pubkey",
				Aliases: []string{"k"},
				Usage:   "Hex pubkey to resolve",
				EnvVars: []string{"FOODSTR_IDENTITY"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			pubkey := ctx.String("pubkey")
			if pubkey == "" {
				pubkey, err = prompt.New().Ask("Pubkey:").Input("hex pubkey")
				if err != nil {
					return err
				}
			}

			timeout := time.Duration(cfg.Feed.QueryTimeoutMs) * time.Millisecond
			pool := relay.NewPool(cfg.Relays.Pool, userAgent, timeout)
			graph := social.NewGraph(social.NewAggregator(cfg.Aggregator.BaseURL), pool)

			follows, err := graph.Follows(ctx.Context, pubkey)
			if err != nil {
				return fmt.Errorf("failed to resolve follows: %w", err)
			}

			for _, pk := range follows {
				fmt.Println(pk)
			}
			return nil
		},
	}
}
