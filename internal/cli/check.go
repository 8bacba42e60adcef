package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/feedcaster/internal/config"
	"github.com/ppiankov/feedcaster/internal/journal"
)

var checkAuth bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate config, credentials and the journal",
	RunE:  checkAction,
}

func init() {
	checkCmd.Flags().BoolVar(&checkAuth, "auth", false, "also verify each section's credentials against its endpoint")
	rootCmd.AddCommand(checkCmd)
}

func checkAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		printCheck(false, "%s: %v", configPath, err)
		return errors.New("some checks failed")
	}

	feeds := 0
	for _, s := range cfg.Sections {
		feeds += len(s.Feeds)
	}
	printCheck(true, "%s (%d sections, %d feeds)", configPath, len(cfg.Sections), feeds)

	log, err := newLogger(cmd.ErrOrStderr(), cfg.Settings)
	if err != nil {
		return err
	}

	ok := true
	ctx := commandContext(cmd.Context())
	posters := newPosterFactory(cfg.Settings, log)

	for _, s := range cfg.Sections {
		creds, err := config.ResolveCredentials(s.Name, nil)
		if err != nil {
			printCheck(false, "%s: %v", s.Name, err)
			ok = false
			continue
		}

		if !checkAuth {
			printCheck(true, "%s: credentials for %s", s.Name, creds.Endpoint)
			continue
		}

		acct, err := posters(s.Name, creds).Authenticate(ctx)
		if err != nil {
			printCheck(false, "%s: %v", s.Name, err)
			ok = false
			continue
		}
		printCheck(true, "%s: authenticated as @%s on %s", s.Name, acct.Username, creds.Endpoint)
	}

	if cfg.Settings.JournalEnabled() {
		st, err := journal.Open(cfg.Settings.JournalPath)
		if err != nil {
			printCheck(false, "journal: %v", err)
			ok = false
		} else {
			_ = st.Close()
			printCheck(true, "journal %s", cfg.Settings.JournalPath)
		}
	} else {
		printInfo("journal disabled")
	}

	if !ok {
		return errors.New("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
