package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrMissingCredentials is returned when a section's endpoint or token is unset.
var ErrMissingCredentials = errors.New("missing credentials")

// Credentials identify a section's account on its posting endpoint.
type Credentials struct {
	Endpoint    string
	AccessToken string
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ResolveCredentials reads <NAME>_ENDPOINT and <NAME>_ACCESS_TOKEN for a section.
// The section name is tried verbatim first, then upper-cased with every
// character outside [A-Z0-9_] replaced by an underscore.
func ResolveCredentials(section string, lookup LookupFunc) (Credentials, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	endpoint, endpointKey := lookupPrefixed(section, "_ENDPOINT", lookup)
	if endpoint == "" {
		return Credentials{}, fmt.Errorf("%w: %s is not set", ErrMissingCredentials, endpointKey)
	}
	token, tokenKey := lookupPrefixed(section, "_ACCESS_TOKEN", lookup)
	if token == "" {
		return Credentials{}, fmt.Errorf("%w: %s is not set", ErrMissingCredentials, tokenKey)
	}

	return Credentials{
		Endpoint:    strings.TrimRight(endpoint, "/"),
		AccessToken: token,
	}, nil
}

// EnvName returns the normalized environment prefix for a section name.
func EnvName(section string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(section) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func lookupPrefixed(section, suffix string, lookup LookupFunc) (string, string) {
	exact := section + suffix
	if v, ok := lookup(exact); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), exact
	}
	normalized := EnvName(section) + suffix
	if v, ok := lookup(normalized); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), normalized
	}
	return "", normalized
}
