package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/feedcaster/internal/config"
	"github.com/ppiankov/feedcaster/internal/engine"
	"github.com/ppiankov/feedcaster/internal/feed"
	"github.com/ppiankov/feedcaster/internal/format"
	"github.com/ppiankov/feedcaster/internal/journal"
	"github.com/ppiankov/feedcaster/internal/poster"
	"github.com/ppiankov/feedcaster/internal/retry"
)

// loadConfig reads the sections file and builds the logger from the
// resulting settings.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	log, err := newLogger(os.Stderr, cfg.Settings)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}

// selectSections returns the named sections in config order, or all of them
// when names is empty.
func selectSections(cfg *config.Config, names []string) ([]config.Section, error) {
	if len(names) == 0 {
		return cfg.Sections, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if _, ok := cfg.Section(n); !ok {
			return nil, fmt.Errorf("unknown section %q", n)
		}
		wanted[n] = true
	}

	var out []config.Section
	for _, s := range cfg.Sections {
		if wanted[s.Name] {
			out = append(out, s)
		}
	}
	return out, nil
}

func newFetcher(s config.Settings, log zerolog.Logger) *feed.Fetcher {
	return feed.NewFetcher(feed.Options{
		Timeout: s.RequestTimeout,
		Retry: retry.Policy{
			Attempts:    s.FetchRetries,
			Delay:       s.FetchRetryDelay,
			Exponential: s.FetchBackoff == config.BackoffExponential,
		},
		Logger: log,
	})
}

func newPosterFactory(s config.Settings, log zerolog.Logger) engine.PosterFactory {
	return func(section string, creds config.Credentials) poster.Poster {
		return poster.NewMastodon(creds, poster.Options{
			Timeout:   s.RequestTimeout,
			Retry:     retry.Policy{Attempts: s.PostRetries, Delay: s.PostBackoff, Exponential: true},
			MaxLength: s.MaxPostLength,
			Logger:    log.With().Str("section", section).Logger(),
		})
	}
}

// openJournal opens the run journal and prunes expired runs. It returns a
// nil store when the journal is disabled.
func openJournal(ctx context.Context, s config.Settings, log zerolog.Logger) (*journal.Store, error) {
	if !s.JournalEnabled() {
		return nil, nil
	}

	st, err := journal.Open(s.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	pruned, err := st.PruneOld(ctx, s.JournalRetainDays)
	if err != nil {
		log.Warn().Err(err).Msg("Could not prune journal")
	} else if pruned > 0 {
		log.Debug().Int64("runs", pruned).Msg("Pruned old journal runs")
	}
	return st, nil
}

func newEngine(s config.Settings, st *journal.Store, log zerolog.Logger, dryRun bool) *engine.Engine {
	opts := engine.Options{
		Settings: s,
		Fetcher:  newFetcher(s, log),
		Posters:  newPosterFactory(s, log),
		Logger:   log,
		DryRun:   dryRun,
	}
	if st != nil {
		opts.Journal = st
	}
	return engine.New(opts)
}

// reports converts engine outcomes for the output writers. Skipped
// destinations have nothing to show and are left out.
func reports(outcomes []engine.Outcome) []format.Report {
	out := make([]format.Report, 0, len(outcomes))
	for _, o := range outcomes {
		if o.State != engine.StateDone {
			continue
		}
		out = append(out, format.Report{
			Section:   o.Section,
			Watermark: o.Watermark,
			Messages:  o.Messages,
		})
	}
	return out
}

func outputWriter(name string) (format.Writer, error) {
	w, ok := format.NewWriter(name, !noColor)
	if !ok {
		return nil, fmt.Errorf("unknown format %q (want terminal or json)", name)
	}
	return w, nil
}

func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// parseDuration handles both Go durations and "Nd" day notation.
func parseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}
