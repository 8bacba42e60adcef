package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/feedcaster/internal/engine"
)

var (
	previewSections []string
	previewSince    string
	previewFormat   string
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show what a run would post, without credentials",
	Long: "preview fetches each section's feeds and renders the messages a run would publish. " +
		"It never contacts the posting endpoint, so the watermark is now minus the section's " +
		"lookback unless --since is given.",
	RunE: previewAction,
}

func init() {
	previewCmd.Flags().StringSliceVarP(&previewSections, "section", "s", nil, "only preview these sections (repeatable)")
	previewCmd.Flags().StringVar(&previewSince, "since", "", "time window (e.g. 48h, 7d); defaults to each section's lookback")
	previewCmd.Flags().StringVar(&previewFormat, "format", "terminal", "output format: terminal, json")
	previewCmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
	rootCmd.AddCommand(previewCmd)
}

func previewAction(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	sections, err := selectSections(cfg, previewSections)
	if err != nil {
		return err
	}

	var since time.Duration
	if previewSince != "" {
		since, err = parseDuration(previewSince)
		if err != nil {
			return fmt.Errorf("parse --since: %w", err)
		}
	}

	writer, err := outputWriter(previewFormat)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd.Context())
	eng := newEngine(cfg.Settings, nil, log, true)
	now := time.Now()

	outcomes := make([]engine.Outcome, 0, len(sections))
	for _, sec := range sections {
		window := since
		if window == 0 {
			window = sec.Lookback.Duration
		}
		outcomes = append(outcomes, eng.Preview(ctx, sec, now.Add(-window)))
	}

	return writer.Write(os.Stdout, reports(outcomes))
}
