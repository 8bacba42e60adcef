package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/ppiankov/feedcaster/internal/retry"
)

const (
	// BrowserUserAgent is sent with every feed request; some hosts reject
	// the default Go client identifier.
	BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	acceptHeader = "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.8"
	maxFeedBytes = 10 << 20
)

var (
	// ErrNotFeed is returned when a response body cannot be parsed as RSS/Atom/JSON Feed.
	ErrNotFeed = errors.New("not a syndication feed")

	// ErrFeedTooLarge is returned when a response body exceeds the size limit.
	ErrFeedTooLarge = errors.New("feed too large")
)

// StatusError reports a non-2xx response from a feed host.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Result is the outcome of fetching one feed. Exactly one of Feed and Err is set.
type Result struct {
	URL      string
	Feed     *gofeed.Feed
	Attempts int

	// Bozo is set when the document only parsed after sanitizing; Warning
	// holds the original parse error.
	Bozo    bool
	Warning error

	Err error
}

// OK reports whether the fetch produced a feed.
func (r Result) OK() bool {
	return r.Err == nil && r.Feed != nil
}

// Options configures a Fetcher.
type Options struct {
	Timeout   time.Duration // per attempt
	Retry     retry.Policy
	UserAgent string
	MaxBytes  int64           // body size limit; defaults to 10 MiB
	Client    *http.Client    // optional; Timeout is applied when nil
	Sleep     retry.SleepFunc // optional; defaults to retry.Sleep
	Logger    zerolog.Logger
}

// Fetcher downloads and parses feeds with bounded retries. It is safe for
// concurrent use.
type Fetcher struct {
	client    *http.Client
	retry     retry.Policy
	userAgent string
	maxBytes  int64
	sleep     retry.SleepFunc
	log       zerolog.Logger
}

// NewFetcher creates a Fetcher from opts.
func NewFetcher(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = BrowserUserAgent
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = maxFeedBytes
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = retry.Sleep
	}
	return &Fetcher{
		client:    client,
		retry:     opts.Retry,
		userAgent: ua,
		maxBytes:  maxBytes,
		sleep:     sleep,
		log:       opts.Logger,
	}
}

// Fetch downloads and parses feedURL. Failures are reported in the Result,
// never as a panic or a separate error; callers decide whether to continue.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) Result {
	log := f.log.With().Str("feed", feedURL).Logger()
	attempts := f.retry.MaxAttempts()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		parsed, warning, err := f.fetchOnce(ctx, feedURL)
		if err == nil {
			res := Result{URL: feedURL, Feed: parsed, Attempts: attempt + 1}
			if warning != nil {
				res.Bozo = true
				res.Warning = warning
				log.Warn().Err(warning).Msg("Feed is malformed but parseable")
			}
			log.Debug().
				Int("entries", len(parsed.Items)).
				Int("attempt", attempt+1).
				Msg("Feed fetched")
			return res
		}

		lastErr = err
		if !isRetryable(ctx, err) || attempt == attempts-1 {
			return Result{URL: feedURL, Attempts: attempt + 1, Err: fmt.Errorf("fetch %s: %w", feedURL, lastErr)}
		}

		delay := f.retry.Backoff(attempt)
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", attempts).
			Dur("retry_in", delay).
			Msg("Feed fetch failed, retrying")

		if err := f.sleep(ctx, delay); err != nil {
			return Result{URL: feedURL, Attempts: attempt + 1, Err: fmt.Errorf("fetch %s: %w", feedURL, err)}
		}
	}

	return Result{URL: feedURL, Attempts: attempts, Err: fmt.Errorf("fetch %s: %w", feedURL, lastErr)}
}

func (f *Fetcher) fetchOnce(ctx context.Context, feedURL string) (parsed *gofeed.Feed, warning, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: build request: %v", ErrNotFeed, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, nil, &StatusError{URL: feedURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, nil, fmt.Errorf("%w: body exceeds %s", ErrFeedTooLarge, humanize.IBytes(uint64(f.maxBytes)))
	}

	return parseWithRecovery(body, parseFeed)
}

func parseFeed(body []byte) (*gofeed.Feed, error) {
	// gofeed parsers keep per-document state, so each parse gets its own.
	return gofeed.NewParser().Parse(bytes.NewReader(body))
}

// parseWithRecovery parses body and, if that fails, retries once on a
// sanitized copy. A recovered parse returns the original error as a warning.
func parseWithRecovery(body []byte, parse func([]byte) (*gofeed.Feed, error)) (parsed *gofeed.Feed, warning, err error) {
	parsed, err = parse(body)
	if err == nil {
		return parsed, nil, nil
	}

	cleaned := sanitizeXML(body)
	if !bytes.Equal(cleaned, body) {
		if recovered, rerr := parse(cleaned); rerr == nil {
			return recovered, err, nil
		}
	}

	return nil, nil, fmt.Errorf("%w: %v", ErrNotFeed, err)
}

func isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrNotFeed) || errors.Is(err, ErrFeedTooLarge) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	// Transport failures: timeouts, refused connections, DNS, truncated bodies.
	return true
}
