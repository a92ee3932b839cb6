package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"foodstr/config"
	"foodstr/models"
	"foodstr/relay"
)

func subscribeCmd() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Log all food posts to the command line",
		Description: `Subscribe to the configured relays and log every qualifying
food note to the command line.

Can be used if you want to collect food posts by passing the output to a
file or another application.

Returns each note as a JSON object on a single line. Use a tool like jq to
process the output.

Prints all other log messages to stderr.`,
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Log every note on the topic, including ones the classifier rejects",
			},
		},
		Action: func(ctx *cli.Context) error {
			// Keep stdout clean for the JSON stream
			log.SetOutput(os.Stderr)

			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			class, err := classifierFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("failed to build classifier: %w", err)
			}

			timeout := time.Duration(cfg.Feed.QueryTimeoutMs) * time.Millisecond
			pool := relay.NewPool(cfg.Relays.Pool, userAgent, timeout)

			notes, err := pool.Subscribe(ctx.Context, models.Filter{
				Kinds:  []int{models.KindNote},
				Topics: []string{cfg.Feed.Topic},
				Since:  time.Now().Unix(),
			})
			if err != nil {
				return fmt.Errorf("failed to subscribe: %w", err)
			}

			fmt.Fprintln(os.Stderr, "Subscribed, streaming notes...")
			for note := range notes {
				if !ctx.Bool("all") && !class.ClassifyNote(note) {
					continue
				}
				printStdout(&note)
			}
			return nil
		},
	}
}

func printStdout(note *models.Note) {
	// Print as single JSON string on a single line
	noteJson, err := json.Marshal(note)
	if err == nil {
		fmt.Println(string(noteJson))
	}
}
