package format

import (
	"io"
	"time"

	"github.com/ppiankov/feedcaster/internal/feed"
)

// Kind identifies what a message publishes.
type Kind string

const (
	KindWelcome Kind = "welcome"
	KindItem    Kind = "item"
	KindDigest  Kind = "digest"
)

// Message is one rendered status and the items it carries.
type Message struct {
	Kind    Kind
	Content string
	Items   []feed.Item
}

// Report is what a run would publish (or did publish) for one section.
type Report struct {
	Section   string
	Watermark time.Time
	Messages  []Message
}

// Writer writes reports for humans or machines.
type Writer interface {
	Write(w io.Writer, reports []Report) error
}

// NewWriter returns the Writer for a named output format.
func NewWriter(name string, color bool) (Writer, bool) {
	switch name {
	case "", "terminal":
		return NewTerminal(color), true
	case "json":
		return NewJSON(), true
	default:
		return nil, false
	}
}
