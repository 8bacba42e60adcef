package format

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/feedcaster/internal/feed"
)

func sampleReports() []Report {
	item := feed.Item{
		FeedTitle:   "Example",
		Title:       "Hello",
		Link:        "https://example.com/1",
		PublishedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Fingerprint: feed.Fingerprint("https://example.com/1", "Hello"),
	}
	return []Report{
		{
			Section:   "tech",
			Watermark: time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC),
			Messages: []Message{
				{Kind: KindItem, Content: "Example - Hello\n\nbody\n\nhttps://example.com/1", Items: []feed.Item{item}},
			},
		},
		{Section: "empty", Watermark: time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)},
	}
}

func TestTerminal_Write(t *testing.T) {
	var buf bytes.Buffer
	if err := NewTerminal(false).Write(&buf, sampleReports()); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"tech — 1 messages, since 2026-03-01 06:00:00",
		"--- item 1/1",
		"  Example - Hello",
		"  https://example.com/1",
		"empty — 0 messages",
		"Nothing new.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("color disabled but ANSI codes found")
	}
}

func TestTerminal_Color(t *testing.T) {
	var buf bytes.Buffer
	if err := NewTerminal(true).Write(&buf, sampleReports()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(buf.String(), "\033[1m") {
		t.Error("expected bold ANSI code")
	}
}

func TestTerminal_FirstRun(t *testing.T) {
	var buf bytes.Buffer
	reports := []Report{{
		Section:  "fresh",
		Messages: []Message{{Kind: KindWelcome, Content: "Welcome"}},
	}}
	if err := NewTerminal(false).Write(&buf, reports); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(buf.String(), "fresh — 1 messages, first run") {
		t.Errorf("unexpected header:\n%s", buf.String())
	}
}

func TestJSON_Write(t *testing.T) {
	var buf bytes.Buffer
	if err := NewJSON().Write(&buf, sampleReports()); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if len(out) != 2 {
		t.Fatalf("got %d reports, want 2", len(out))
	}
	if out[0]["section"] != "tech" || out[0]["watermark"] != "2026-03-01T06:00:00Z" {
		t.Errorf("report = %v", out[0])
	}
	msgs := out[0]["messages"].([]any)
	msg := msgs[0].(map[string]any)
	if msg["kind"] != "item" {
		t.Errorf("kind = %v", msg["kind"])
	}
	items := msg["items"].([]any)
	if items[0].(map[string]any)["link"] != "https://example.com/1" {
		t.Errorf("items = %v", items)
	}
	if empty := out[1]["messages"].([]any); len(empty) != 0 {
		t.Errorf("empty report messages = %v", empty)
	}
}

func TestNewWriter(t *testing.T) {
	for _, name := range []string{"", "terminal", "json"} {
		if _, ok := NewWriter(name, false); !ok {
			t.Errorf("NewWriter(%q) not found", name)
		}
	}
	if _, ok := NewWriter("xml", false); ok {
		t.Error("unknown format should not resolve")
	}
}
