// Package format renders items into status text. Every function is pure.
package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/feedcaster/internal/feed"
)

const (
	// SummaryLimit bounds the summary inside an individual post.
	SummaryLimit = 800

	// DigestBullet prefixes each item line of a digest.
	DigestBullet = "•"

	ellipsis = "..."
)

// Truncate shortens s to at most limit characters. A shortened string ends
// in "..." and is cut at the last space before the limit when there is one.
// Length is counted in runes.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= len(ellipsis) {
		if limit < 0 {
			limit = 0
		}
		return string(runes[:limit])
	}

	prefix := string(runes[:limit-len(ellipsis)])
	if i := strings.LastIndex(prefix, " "); i >= 0 {
		prefix = prefix[:i]
	}
	return prefix + ellipsis
}

// Individual renders one item as "<feed> - <title>", the summary and the link,
// separated by blank lines.
func Individual(item feed.Item, maxLength int) string {
	msg := fmt.Sprintf("%s - %s\n\n%s\n\n%s",
		item.FeedTitle, item.Title, Truncate(item.Summary, SummaryLimit), item.Link)
	return Truncate(msg, maxLength)
}

// DigestOptions controls the digest header and footer.
type DigestOptions struct {
	Label     string
	Tags      string
	Date      time.Time
	MaxLength int
}

// Digest renders items as a single status: a header counting items and
// distinct feeds, one line per item, and the tag line.
func Digest(items []feed.Item, opts DigestOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s digest for %s: %d new items from %d feeds\n\n",
		opts.Label, opts.Date.UTC().Format("2006-01-02"), len(items), countFeeds(items))

	for _, it := range items {
		fmt.Fprintf(&b, "%s %s - %s %s\n", DigestBullet, it.FeedTitle, it.Title, it.Link)
	}

	if tags := strings.TrimSpace(opts.Tags); tags != "" {
		b.WriteString("\n")
		b.WriteString(tags)
	}

	return Truncate(strings.TrimRight(b.String(), "\n"), opts.MaxLength)
}

// countFeeds counts distinct source feeds. Feeds are told apart by URL since
// titles repeat; items without a URL fall back to their feed title.
func countFeeds(items []feed.Item) int {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		key := "url:" + it.FeedURL
		if it.FeedURL == "" {
			key = "title:" + it.FeedTitle
		}
		seen[key] = struct{}{}
	}
	return len(seen)
}
