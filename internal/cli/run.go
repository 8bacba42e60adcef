package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	runSections []string
	runDryRun   bool
	runInterval string
	runFormat   string
	noColor     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch feeds and publish new items to every section",
	Long: "run processes each configured section once: it reads the account's latest status, " +
		"collects feed entries published after it, and posts them individually or as one digest. " +
		"With --interval it repeats until interrupted.",
	RunE: runAction,
}

func init() {
	runCmd.Flags().StringSliceVarP(&runSections, "section", "s", nil, "only process these sections (repeatable)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "resolve watermarks and print the messages instead of posting")
	runCmd.Flags().StringVar(&runInterval, "interval", "", "repeat every interval until interrupted (e.g. 30m, 1d)")
	runCmd.Flags().StringVar(&runFormat, "format", "terminal", "dry-run output format: terminal, json")
	runCmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
	rootCmd.AddCommand(runCmd)
}

func runAction(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	sections, err := selectSections(cfg, runSections)
	if err != nil {
		return err
	}

	var interval time.Duration
	if runInterval != "" {
		interval, err = parseDuration(runInterval)
		if err != nil {
			return fmt.Errorf("parse --interval: %w", err)
		}
		if interval <= 0 {
			return fmt.Errorf("--interval must be positive, got %s", runInterval)
		}
	}

	writer, err := outputWriter(runFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd.Context()), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openJournal(ctx, cfg.Settings, log)
	if err != nil {
		log.Warn().Err(err).Msg("Continuing without a journal")
	}
	if st != nil {
		defer func() { _ = st.Close() }()
	}

	eng := newEngine(cfg.Settings, st, log, runDryRun)

	for {
		report := eng.Run(ctx, sections)
		if runDryRun {
			if err := writer.Write(os.Stdout, reports(report.Outcomes)); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
		}

		if interval == 0 {
			return nil
		}

		log.Info().
			Str("interval", interval.String()).
			Time("next_run", time.Now().Add(interval)).
			Msg("Waiting for next run")

		select {
		case <-ctx.Done():
			log.Info().Msg("Interrupted, shutting down")
			return nil
		case <-time.After(interval):
		}
	}
}
