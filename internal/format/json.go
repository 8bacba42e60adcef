package format

import (
	"encoding/json"
	"io"
)

type jsonReport struct {
	Section   string        `json:"section"`
	Watermark string        `json:"watermark"`
	Messages  []jsonMessage `json:"messages"`
}

type jsonMessage struct {
	Kind    Kind       `json:"kind"`
	Content string     `json:"content"`
	Items   []jsonItem `json:"items,omitempty"`
}

type jsonItem struct {
	Feed        string `json:"feed"`
	FeedURL     string `json:"feed_url,omitempty"`
	Title       string `json:"title"`
	Link        string `json:"link"`
	PublishedAt string `json:"published_at"`
	Fingerprint string `json:"fingerprint"`
}

// JSONFormatter writes reports as JSON.
type JSONFormatter struct{}

// NewJSON creates a JSON formatter.
func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

// Write encodes reports as an indented JSON array.
func (f *JSONFormatter) Write(w io.Writer, reports []Report) error {
	out := make([]jsonReport, 0, len(reports))
	for _, r := range reports {
		jr := jsonReport{
			Section:   r.Section,
			Watermark: r.Watermark.UTC().Format("2006-01-02T15:04:05Z"),
			Messages:  make([]jsonMessage, 0, len(r.Messages)),
		}
		for _, m := range r.Messages {
			jm := jsonMessage{Kind: m.Kind, Content: m.Content}
			for _, it := range m.Items {
				jm.Items = append(jm.Items, jsonItem{
					Feed:        it.FeedTitle,
					FeedURL:     it.FeedURL,
					Title:       it.Title,
					Link:        it.Link,
					PublishedAt: it.PublishedAt.UTC().Format("2006-01-02T15:04:05Z"),
					Fingerprint: it.Fingerprint,
				})
			}
			jr.Messages = append(jr.Messages, jm)
		}
		out = append(out, jr)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
