// Package poster publishes statuses to a Mastodon-compatible API.
package poster

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// WelcomeMessage is posted once to a destination that has no history.
const WelcomeMessage = "Welcome to the RSS Bot"

// ErrUnauthorized is returned when the endpoint rejects the access token.
var ErrUnauthorized = errors.New("unauthorized")

// Account is the authenticated identity of a destination.
type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// Status is a published post.
type Status struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Poster is the posting side of one destination.
type Poster interface {
	// Authenticate verifies the credentials and returns the account.
	Authenticate(ctx context.Context) (Account, error)
	// LastPostTime returns the creation time of the account's most recent
	// status. ok is false when the account has never posted.
	LastPostTime(ctx context.Context) (t time.Time, ok bool, err error)
	// PostWelcome publishes the bootstrap status.
	PostWelcome(ctx context.Context) (Status, error)
	// Post publishes content, truncated to the maximum status length.
	Post(ctx context.Context, content string) (Status, error)
}

// APIError is a non-2xx response from the posting API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Temporary reports whether the request is worth retrying.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Unwrap maps 401 and 403 to ErrUnauthorized.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}
