package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"foodstr/config"
	"foodstr/models"
)

type verdict struct {
	Food     bool `json:"food"`
	Hashtags int  `json:"hashtags"`
	Spam     bool `json:"spam"`
}

func classifyCmd() *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Classify a piece of text",
		ArgsUsage: "[text]",
		Description: `Runs the food classifier on the given text and prints the
verdict as JSON.

Reads from stdin when no text argument is given, classifying each line
separately. Useful for tuning the keyword lists against a corpus of notes.`,
		Flags: []cli.Flag{
			configFlag(),
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			class, err := classifierFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("failed to build classifier: %w", err)
			}

			text := strings.Join(ctx.Args().Slice(), " ")
			if text == "" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				text = string(data)
			}

			note := models.Note{Text: text}
			v := verdict{
				Food:     class.Classify(text),
				Hashtags: class.HashtagCount(text, nil),
				Spam:     class.IsSpam(note),
			}
			out, err := json.Marshal(v)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
