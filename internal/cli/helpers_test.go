package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// testEnv is a configured workspace: a sections file pointing at a local
// feed server, a fake Mastodon endpoint and a journal in a temp dir.
type testEnv struct {
	dir      string
	journal  string
	feed     *httptest.Server
	mastodon *fakeMastodon
}

type testItem struct {
	title     string
	link      string
	published time.Time
}

func newTestEnv(t *testing.T, last *time.Time, items ...testItem) *testEnv {
	t.Helper()
	resetFlags(t)

	dir := t.TempDir()
	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssFeed("Example", items))
	}))
	t.Cleanup(feedSrv.Close)

	env := &testEnv{
		dir:      dir,
		journal:  filepath.Join(dir, "journal.db"),
		feed:     feedSrv,
		mastodon: newFakeMastodon(t, last),
	}

	configPath = filepath.Join(dir, "config.yaml")
	writeFile(t, configPath, "news:\n  - "+feedSrv.URL+"/feed.xml\n")

	t.Setenv("FEEDCASTER_FETCH_RETRIES", "1")
	t.Setenv("FEEDCASTER_POST_RETRIES", "1")
	t.Setenv("FEEDCASTER_POST_PAUSE", "0s")
	t.Setenv("FEEDCASTER_JOURNAL_PATH", env.journal)
	t.Setenv("FEEDCASTER_LOG_LEVEL", "disabled")
	t.Setenv("NEWS_ENDPOINT", env.mastodon.srv.URL)
	t.Setenv("NEWS_ACCESS_TOKEN", "token")

	return env
}

func rssFeed(title string, items []testItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<?xml version=\"1.0\"?>\n<rss version=\"2.0\"><channel><title>%s</title><link>https://example.com/</link>\n", title)
	for _, it := range items {
		fmt.Fprintf(&b, "<item><title>%s</title><link>%s</link><description>About %s</description><pubDate>%s</pubDate></item>\n",
			it.title, it.link, it.title, it.published.UTC().Format(time.RFC1123Z))
	}
	b.WriteString("</channel></rss>")
	return b.String()
}

type fakeMastodon struct {
	srv *httptest.Server

	mu       sync.Mutex
	last     *time.Time
	statuses []string
}

func newFakeMastodon(t *testing.T, last *time.Time) *fakeMastodon {
	t.Helper()

	m := &fakeMastodon{last: last}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/accounts/verify_credentials", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"The access token is invalid"}`)
			return
		}
		fmt.Fprint(w, `{"id":"1","username":"bot","display_name":"Bot"}`)
	})
	mux.HandleFunc("GET /api/v1/accounts/1/statuses", func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.last == nil {
			fmt.Fprint(w, "[]")
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "9", "created_at": m.last.UTC()}})
	})
	mux.HandleFunc("POST /api/v1/statuses", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.statuses = append(m.statuses, req.Status)
		id := strconv.Itoa(100 + len(m.statuses))
		m.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         id,
			"url":        "https://mastodon.example/@bot/" + id,
			"created_at": time.Now().UTC(),
		})
	})

	m.srv = httptest.NewServer(mux)
	t.Cleanup(m.srv.Close)
	return m
}

func (m *fakeMastodon) posted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statuses...)
}

// resetFlags restores every command flag variable after the test.
func resetFlags(t *testing.T) {
	t.Helper()

	oldConfigPath, oldLogLevel, oldLogFormat := configPath, logLevel, logFormat
	oldRunSections, oldRunDryRun, oldRunInterval, oldRunFormat := runSections, runDryRun, runInterval, runFormat
	oldNoColor := noColor
	oldPreviewSections, oldPreviewSince, oldPreviewFormat := previewSections, previewSince, previewFormat
	oldCheckAuth := checkAuth
	oldHistorySection, oldHistoryLimit, oldHistorySince := historySection, historyLimit, historySince
	oldHistoryStatus, oldHistoryFormat := historyStatus, historyFormat
	t.Cleanup(func() {
		configPath, logLevel, logFormat = oldConfigPath, oldLogLevel, oldLogFormat
		runSections, runDryRun, runInterval, runFormat = oldRunSections, oldRunDryRun, oldRunInterval, oldRunFormat
		noColor = oldNoColor
		previewSections, previewSince, previewFormat = oldPreviewSections, oldPreviewSince, oldPreviewFormat
		checkAuth = oldCheckAuth
		historySection, historyLimit, historySince = oldHistorySection, oldHistoryLimit, oldHistorySince
		historyStatus, historyFormat = oldHistoryStatus, oldHistoryFormat
	})

	logLevel, logFormat = "", ""
	runSections, runDryRun, runInterval, runFormat = nil, false, "", "terminal"
	noColor = true
	previewSections, previewSince, previewFormat = nil, "", "terminal"
	checkAuth = false
	historySection, historyLimit, historySince = "", 20, "30d"
	historyStatus, historyFormat = "", "terminal"
}

func testCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("open stdout pipe: %v", err)
	}

	os.Stdout = writer
	runErr := fn()
	_ = writer.Close()
	os.Stdout = oldStdout

	out, readErr := io.ReadAll(reader)
	_ = reader.Close()
	if readErr != nil {
		t.Fatalf("read stdout pipe: %v", readErr)
	}
	return string(out), runErr
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()

	if !strings.Contains(got, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, got)
	}
}
