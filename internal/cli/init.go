package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example sections file",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(_ *cobra.Command, _ []string) error {
	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	wrote, err := writeIfNotExists(configPath, []byte(exampleConfig))
	if err != nil {
		return err
	}
	if !wrote {
		fmt.Printf("Config %s already initialized.\n", configPath)
		return nil
	}

	fmt.Printf("Initialized %s.\n", configPath)
	fmt.Println("Set <SECTION>_ENDPOINT and <SECTION>_ACCESS_TOKEN for each section, then run 'feedcaster check --auth'.")
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# feedcaster sections
#
# Each top-level key is a section: one Mastodon account and the feeds it
# republishes. Credentials come from the environment:
#   <SECTION>_ENDPOINT       e.g. NEWS_ENDPOINT=https://mastodon.example
#   <SECTION>_ACCESS_TOKEN   e.g. NEWS_ACCESS_TOKEN=...
#
# The short form is a plain list of feed URLs.

news:
  - https://hnrss.org/frontpage
  - https://lobste.rs/rss

# The long form adds per-section overrides.
golang:
  feeds:
    - https://go.dev/blog/feed.atom
    - https://www.reddit.com/r/golang/.rss
  label: Go
  tags: "#golang #rss"
  digest_threshold: 5   # this many new items or more are posted as one digest
  lookback: 12h         # watermark when the account has no posts and welcome is false
  welcome: true         # post a welcome status the first time instead of backfilling
`
