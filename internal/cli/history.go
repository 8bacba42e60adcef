package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/feedcaster/internal/config"
	"github.com/ppiankov/feedcaster/internal/format"
	"github.com/ppiankov/feedcaster/internal/journal"
)

var (
	historySection string
	historyLimit   int
	historySince   string
	historyStatus  string
	historyFormat  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs and publish attempts from the journal",
	RunE:  historyAction,
}

func init() {
	historyCmd.Flags().StringVarP(&historySection, "section", "s", "", "only show this section")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of recent attempts to list")
	historyCmd.Flags().StringVar(&historySince, "since", "30d", "window for the per-section summary (e.g. 7d, 48h)")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "only list attempts with this status: posted, failed")
	historyCmd.Flags().StringVar(&historyFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(historyCmd)
}

type historyData struct {
	Since        time.Duration
	Sections     []journal.SectionStats
	Posts        []journal.Post
	Destinations []journal.Destination
}

func historyAction(cmd *cobra.Command, _ []string) error {
	switch historyStatus {
	case "", journal.StatusPosted, journal.StatusFailed:
	default:
		return fmt.Errorf("unknown status %q (want posted or failed)", historyStatus)
	}

	settings := config.SettingsFromEnv()
	if !settings.JournalEnabled() {
		return fmt.Errorf("journal is disabled (FEEDCASTER_JOURNAL_PATH=%s)", settings.JournalPath)
	}
	if _, err := os.Stat(settings.JournalPath); err != nil {
		return fmt.Errorf("no journal at %s: run 'feedcaster run' first", settings.JournalPath)
	}

	since, err := parseDuration(historySince)
	if err != nil {
		return fmt.Errorf("parse --since: %w", err)
	}

	st, err := journal.Open(settings.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = st.Close() }()

	ctx := commandContext(cmd.Context())
	data := historyData{Since: since}

	data.Sections, err = st.Stats(ctx, time.Now().Add(-since))
	if err != nil {
		return err
	}
	if historySection != "" {
		data.Sections = filterStats(data.Sections, historySection)
	}

	data.Posts, err = st.Recent(ctx, journal.Filter{Section: historySection, Status: historyStatus, Limit: historyLimit})
	if err != nil {
		return err
	}
	data.Destinations, err = st.RecentDestinations(ctx, journal.Filter{Section: historySection, Limit: historyLimit})
	if err != nil {
		return err
	}

	switch historyFormat {
	case "json":
		return printHistoryJSON(os.Stdout, data)
	case "terminal", "":
		printHistory(os.Stdout, data, time.Now())
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", historyFormat)
	}
}

func filterStats(stats []journal.SectionStats, section string) []journal.SectionStats {
	var out []journal.SectionStats
	for _, s := range stats {
		if s.Section == section {
			out = append(out, s)
		}
	}
	return out
}

func printHistory(w io.Writer, data historyData, now time.Time) {
	if len(data.Posts) == 0 && len(data.Destinations) == 0 {
		fmt.Fprintln(w, "No runs recorded yet. Run 'feedcaster run' first.")
		return
	}

	fmt.Fprintf(w, "feedcaster history — last %s\n\n", formatWindow(data.Since))

	if len(data.Sections) > 0 {
		fmt.Fprintln(w, "--- Sections ---")
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %-20s  %6s  %6s  %7s  %5s  %s\n", "Section", "Posted", "Failed", "Digests", "Items", "Last post")
		for _, s := range data.Sections {
			last := "never"
			if !s.LastPost.IsZero() {
				last = humanize.RelTime(s.LastPost, now, "ago", "from now")
			}
			fmt.Fprintf(w, "  %-20s  %6d  %6d  %7d  %5d  %s\n",
				clip(s.Section, 20), s.Posted, s.Failed, s.Digests, s.Items, last)
		}
		fmt.Fprintln(w)
	}

	if len(data.Destinations) > 0 {
		fmt.Fprintln(w, "--- Recent Runs ---")
		fmt.Fprintln(w)
		for _, d := range data.Destinations {
			state := d.State
			if d.Reason != "" {
				state += " (" + d.Reason + ")"
			}
			fmt.Fprintf(w, "  %-14s  %-20s  %s, %d feeds ok, %d failed, %d items\n",
				humanize.RelTime(d.RecordedAt, now, "ago", "from now"),
				clip(d.Section, 20), state, d.FeedsOK, d.FeedsFailed, d.Items)
		}
		fmt.Fprintln(w)
	}

	if len(data.Posts) > 0 {
		fmt.Fprintln(w, "--- Recent Posts ---")
		fmt.Fprintln(w)
		for _, p := range data.Posts {
			what := p.Title
			if p.Kind == string(format.KindDigest) {
				what = fmt.Sprintf("digest of %s items", humanize.Comma(int64(p.Items)))
			}
			fmt.Fprintf(w, "  %-14s  %-20s  %-7s  %-6s  %s\n",
				humanize.RelTime(p.CreatedAt, now, "ago", "from now"),
				clip(p.Section, 20), p.Kind, p.Status, what)
			if p.Error != "" {
				fmt.Fprintf(w, "  %14s  %s\n", "", p.Error)
			}
		}
	}
}

type jsonHistory struct {
	Sections     []jsonSectionStats `json:"sections"`
	Destinations []jsonDestination  `json:"destinations"`
	Posts        []jsonPost         `json:"posts"`
}

type jsonSectionStats struct {
	Section  string     `json:"section"`
	Posted   int        `json:"posted"`
	Failed   int        `json:"failed"`
	Digests  int        `json:"digests"`
	Items    int        `json:"items"`
	LastPost *time.Time `json:"last_post,omitempty"`
}

type jsonDestination struct {
	RunID       string     `json:"run_id"`
	Section     string     `json:"section"`
	State       string     `json:"state"`
	Reason      string     `json:"reason,omitempty"`
	Watermark   *time.Time `json:"watermark,omitempty"`
	FeedsOK     int        `json:"feeds_ok"`
	FeedsFailed int        `json:"feeds_failed"`
	Items       int        `json:"items"`
	RecordedAt  time.Time  `json:"recorded_at"`
}

type jsonPost struct {
	RunID       string    `json:"run_id"`
	Section     string    `json:"section"`
	Kind        string    `json:"kind"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Title       string    `json:"title,omitempty"`
	Link        string    `json:"link,omitempty"`
	Items       int       `json:"items"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	RemoteID    string    `json:"remote_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func printHistoryJSON(w io.Writer, data historyData) error {
	out := jsonHistory{
		Sections:     make([]jsonSectionStats, 0, len(data.Sections)),
		Destinations: make([]jsonDestination, 0, len(data.Destinations)),
		Posts:        make([]jsonPost, 0, len(data.Posts)),
	}
	for _, s := range data.Sections {
		out.Sections = append(out.Sections, jsonSectionStats{
			Section:  s.Section,
			Posted:   s.Posted,
			Failed:   s.Failed,
			Digests:  s.Digests,
			Items:    s.Items,
			LastPost: timePtr(s.LastPost),
		})
	}
	for _, d := range data.Destinations {
		out.Destinations = append(out.Destinations, jsonDestination{
			RunID:       d.RunID,
			Section:     d.Section,
			State:       d.State,
			Reason:      d.Reason,
			Watermark:   timePtr(d.Watermark),
			FeedsOK:     d.FeedsOK,
			FeedsFailed: d.FeedsFailed,
			Items:       d.Items,
			RecordedAt:  d.RecordedAt,
		})
	}
	for _, p := range data.Posts {
		out.Posts = append(out.Posts, jsonPost{
			RunID:       p.RunID,
			Section:     p.Section,
			Kind:        p.Kind,
			Fingerprint: p.Fingerprint,
			Title:       p.Title,
			Link:        p.Link,
			Items:       p.Items,
			Status:      p.Status,
			Error:       p.Error,
			RemoteID:    p.RemoteID,
			CreatedAt:   p.CreatedAt,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatWindow(d time.Duration) string {
	hours := int(d.Hours())
	if hours >= 24 && hours%24 == 0 {
		return fmt.Sprintf("%d days", hours/24)
	}
	return d.String()
}
