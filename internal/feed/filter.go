package feed

import (
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
)

// Filter returns the entries of a fetched feed published strictly after
// watermark, normalized into Items. A failed result yields no items.
// Entries missing a date, summary or resolvable link are skipped and logged.
// Output follows feed order; callers sort.
func Filter(res Result, watermark time.Time, log zerolog.Logger) []Item {
	if !res.OK() {
		return nil
	}

	feed := res.Feed
	title := feedTitle(feed)
	base := feedBase(feed, res.URL)
	log = log.With().Str("feed", res.URL).Logger()

	var items []Item
	for i, entry := range feed.Items {
		if entry == nil {
			continue
		}

		publishedAt, ok := entryTime(entry)
		if !ok {
			log.Debug().Int("entry", i).Str("title", entry.Title).Msg("Skipping entry without a parseable publish date")
			continue
		}

		rawSummary := entry.Description
		if strings.TrimSpace(rawSummary) == "" {
			rawSummary = entry.Content
		}
		if strings.TrimSpace(rawSummary) == "" {
			log.Debug().Int("entry", i).Str("title", entry.Title).Msg("Skipping entry without a summary")
			continue
		}

		if !publishedAt.After(watermark) {
			continue
		}

		link := entryLink(entry, base)
		if link == "" {
			log.Debug().Int("entry", i).Str("title", entry.Title).Msg("Skipping entry without a resolvable link")
			continue
		}

		entryTitle := CleanText(entry.Title)
		items = append(items, Item{
			FeedURL:     res.URL,
			FeedTitle:   title,
			Title:       entryTitle,
			Summary:     CleanText(rawSummary),
			Link:        link,
			PublishedAt: publishedAt,
			Fingerprint: Fingerprint(link, entryTitle),
		})
	}

	return items
}

// entryTime prefers the published date and falls back to the updated date
// only when no published date is present at all. Zone-less strings are UTC.
func entryTime(entry *gofeed.Item) (time.Time, bool) {
	if entry.PublishedParsed != nil || strings.TrimSpace(entry.Published) != "" {
		return parseEntryTime(entry.PublishedParsed, entry.Published)
	}
	if entry.UpdatedParsed != nil || strings.TrimSpace(entry.Updated) != "" {
		return parseEntryTime(entry.UpdatedParsed, entry.Updated)
	}
	return time.Time{}, false
}

func parseEntryTime(parsed *time.Time, raw string) (time.Time, bool) {
	if parsed != nil && !parsed.IsZero() {
		return parsed.UTC(), true
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func feedTitle(feed *gofeed.Feed) string {
	if t := CleanText(feed.Title); t != "" {
		return t
	}
	return DefaultFeedTitle
}

// feedBase is the URL relative entry links resolve against: the feed's own
// site link when absolute, else the URL the feed was fetched from.
func feedBase(feed *gofeed.Feed, fetchedFrom string) *url.URL {
	if u, err := url.Parse(strings.TrimSpace(feed.Link)); err == nil && isHTTP(u) {
		return u
	}
	if u, err := url.Parse(fetchedFrom); err == nil && isHTTP(u) {
		return u
	}
	return nil
}

func entryLink(entry *gofeed.Item, base *url.URL) string {
	candidates := append([]string{entry.Link}, entry.Links...)
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		u, err := url.Parse(c)
		if err != nil {
			continue
		}
		if !u.IsAbs() {
			if base == nil {
				continue
			}
			u = base.ResolveReference(u)
		}
		if isHTTP(u) {
			return u.String()
		}
	}
	return ""
}

func isHTTP(u *url.URL) bool {
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
