// Package feed fetches RSS/Atom feeds and turns their entries into Items.
package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultFeedTitle labels items from feeds that do not declare a title.
const DefaultFeedTitle = "No title"

// Item is a normalized feed entry. Items are never mutated after Filter creates them.
type Item struct {
	FeedURL     string // the URL the feed was fetched from
	FeedTitle   string
	Title       string
	Summary     string    // plain text, tags stripped, whitespace collapsed
	Link        string    // absolute http(s) URL
	PublishedAt time.Time // UTC
	Fingerprint string
}

// Fingerprint derives the dedup key for an entry from its link and title only.
func Fingerprint(link, title string) string {
	sum := sha256.Sum256([]byte(link + "\n" + title))
	return hex.EncodeToString(sum[:])
}
