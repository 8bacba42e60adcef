// Package dedup tracks which items have already been admitted during one run.
package dedup

import (
	"github.com/patrickmn/go-cache"

	"github.com/ppiankov/feedcaster/internal/feed"
)

// SeenSet admits the first occurrence of each fingerprint. One SeenSet
// belongs to one destination for one run and is discarded afterwards.
type SeenSet struct {
	seen *cache.Cache
}

// New returns an empty SeenSet.
func New() *SeenSet {
	// No expiration and no janitor: entries live exactly as long as the set.
	return &SeenSet{seen: cache.New(cache.NoExpiration, 0)}
}

// Admit reports whether item is the first with its fingerprint.
func (s *SeenSet) Admit(item feed.Item) bool {
	key := item.Fingerprint
	if key == "" {
		key = feed.Fingerprint(item.Link, item.Title)
	}
	// Add fails when the key exists, which makes check-and-insert atomic.
	return s.seen.Add(key, struct{}{}, cache.NoExpiration) == nil
}

// Len returns the number of distinct fingerprints admitted so far.
func (s *SeenSet) Len() int {
	return s.seen.ItemCount()
}

// Unique filters items in order, keeping the first occurrence of each
// fingerprint.
func (s *SeenSet) Unique(items []feed.Item) []feed.Item {
	out := make([]feed.Item, 0, len(items))
	for _, it := range items {
		if s.Admit(it) {
			out = append(out, it)
		}
	}
	return out
}
