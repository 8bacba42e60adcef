package poster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ppiankov/feedcaster/internal/config"
	"github.com/ppiankov/feedcaster/internal/format"
	"github.com/ppiankov/feedcaster/internal/retry"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 1 << 20
	maxErrorBody     = 200
	maxRetryAfter    = 30 * time.Second
)

// Options configures a Mastodon client.
type Options struct {
	Timeout   time.Duration // per request
	Retry     retry.Policy
	MaxLength int
	Client    *http.Client    // optional; Timeout is applied when nil
	Sleep     retry.SleepFunc // optional; defaults to retry.Sleep
	Logger    zerolog.Logger
}

// Mastodon talks to one account on a Mastodon-compatible server. It is not
// safe for concurrent use; each destination owns its client.
type Mastodon struct {
	endpoint  string
	token     string
	client    *http.Client
	retry     retry.Policy
	maxLength int
	sleep     retry.SleepFunc
	log       zerolog.Logger

	accountID string
}

// NewMastodon creates a client for the account identified by creds.
func NewMastodon(creds config.Credentials, opts Options) *Mastodon {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	maxLength := opts.MaxLength
	if maxLength <= 0 {
		maxLength = config.DefaultMaxPostLength
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = retry.Sleep
	}
	return &Mastodon{
		endpoint:  strings.TrimRight(creds.Endpoint, "/"),
		token:     creds.AccessToken,
		client:    client,
		retry:     opts.Retry,
		maxLength: maxLength,
		sleep:     sleep,
		log:       opts.Logger,
	}
}

// Authenticate calls verify_credentials and remembers the account id.
func (m *Mastodon) Authenticate(ctx context.Context) (Account, error) {
	var acct Account
	if err := m.do(ctx, "verify credentials", http.MethodGet, "/api/v1/accounts/verify_credentials", nil, "", &acct); err != nil {
		return Account{}, err
	}
	if acct.ID == "" {
		return Account{}, errors.New("verify credentials: response has no account id")
	}
	m.accountID = acct.ID
	return acct, nil
}

// LastPostTime reads the account's most recent status.
func (m *Mastodon) LastPostTime(ctx context.Context) (time.Time, bool, error) {
	if m.accountID == "" {
		if _, err := m.Authenticate(ctx); err != nil {
			return time.Time{}, false, err
		}
	}

	path := "/api/v1/accounts/" + url.PathEscape(m.accountID) + "/statuses?limit=1"
	var statuses []Status
	if err := m.do(ctx, "list statuses", http.MethodGet, path, nil, "", &statuses); err != nil {
		return time.Time{}, false, err
	}
	if len(statuses) == 0 {
		return time.Time{}, false, nil
	}
	if statuses[0].CreatedAt.IsZero() {
		return time.Time{}, false, errors.New("list statuses: latest status has no created_at")
	}
	return statuses[0].CreatedAt.UTC(), true, nil
}

// PostWelcome publishes WelcomeMessage.
func (m *Mastodon) PostWelcome(ctx context.Context) (Status, error) {
	return m.Post(ctx, WelcomeMessage)
}

type statusRequest struct {
	Status string `json:"status"`
}

// Post publishes content. Retries of one call share an Idempotency-Key so the
// server publishes it at most once.
func (m *Mastodon) Post(ctx context.Context, content string) (Status, error) {
	body, err := json.Marshal(statusRequest{Status: format.Truncate(content, m.maxLength)})
	if err != nil {
		return Status{}, fmt.Errorf("marshal status: %w", err)
	}

	var st Status
	if err := m.do(ctx, "post status", http.MethodPost, "/api/v1/statuses", body, uuid.NewString(), &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

// do sends one logical request with retries on transport errors, 429 and 5xx,
// and decodes a 2xx JSON body into out.
func (m *Mastodon) do(ctx context.Context, op, method, path string, body []byte, idempotencyKey string, out any) error {
	attempts := m.retry.MaxAttempts()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		respBody, retryAfter, err := m.send(ctx, op, method, path, body, idempotencyKey)
		if err == nil {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("%s: parse response: %w", op, err)
			}
			return nil
		}

		lastErr = err
		if !isRetryable(ctx, err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := m.retry.Backoff(attempt)
		if retryAfter > 0 {
			delay = retryAfter
		}
		m.log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt+1).
			Int("max_attempts", attempts).
			Dur("retry_in", delay).
			Msg("API request failed, retrying")

		if err := m.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	return fmt.Errorf("%s: giving up after %d attempts: %w", op, attempts, lastErr)
}

func (m *Mastodon) send(ctx context.Context, op, method, path string, body []byte, idempotencyKey string) ([]byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.endpoint+path, reader)
	if err != nil {
		return nil, 0, &permanentError{fmt.Errorf("%s: create request: %w", op, err)}
	}
	req.Header.Set("Authorization", "Bearer "+m.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Body: errorBody(respBody)}
		return nil, retryAfter(resp), apiErr
	}
	return respBody, 0, nil
}

// permanentError marks failures that happen before anything is sent.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

// retryAfter honors a Retry-After header given in seconds on 429 responses.
func retryAfter(resp *http.Response) time.Duration {
	if resp.StatusCode != http.StatusTooManyRequests {
		return 0
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After")))
	if err != nil || seconds <= 0 {
		return 0
	}
	d := time.Duration(seconds) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

// errorBody extracts the Mastodon {"error": "..."} message, or a short
// prefix of the raw body.
func errorBody(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return format.Truncate(strings.TrimSpace(string(body)), maxErrorBody)
}
