package core

import (
	"errors"
	"strings"
	"time"
)

// RateLimitKey addresses a single counter: one subject on one endpoint tag.
type RateLimitKey struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	Endpoint   string `json:"endpoint" yaml:"endpoint"`
}

// Normalize trims surrounding whitespace from both parts of the key and
// lowercases the endpoint tag. Identifiers keep their case.
func (k RateLimitKey) Normalize() RateLimitKey {
	return RateLimitKey{
		Identifier: strings.TrimSpace(k.Identifier),
		Endpoint:   strings.ToLower(strings.TrimSpace(k.Endpoint)),
	}
}

// Valid reports whether both parts of the key are non-empty.
func (k RateLimitKey) Valid() bool {
	n := k.Normalize()
	return n.Identifier != "" && n.Endpoint != ""
}

func (k RateLimitKey) String() string {
	return k.Identifier + ":" + k.Endpoint
}

// RateLimitRecord captures a stored fixed-window counter.
type RateLimitRecord struct {
	Count   int       `json:"count" yaml:"count"`
	ResetAt time.Time `json:"reset_at" yaml:"reset_at"`
}

// Expired reports whether the window has ended at the given instant.
func (r RateLimitRecord) Expired(now time.Time) bool {
	return r.ResetAt.Before(now)
}

// RateLimitEntry pairs a key with its stored record.
type RateLimitEntry struct {
	RateLimitKey
	RateLimitRecord
}

// RateLimitQuery selects stored counters for admin listing and bulk resets.
type RateLimitQuery struct {
	All        bool
	Endpoint   string
	Identifier string
	Prefix     string
}

// Validate requires the caller to either opt into all records or name a filter.
func (q RateLimitQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Endpoint) != "" || strings.TrimSpace(q.Identifier) != "" || strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --endpoint, --identifier, or --prefix")
}

// Matches applies the query filters to a normalized key. Prefix matches the identifier.
func (q RateLimitQuery) Matches(key RateLimitKey) bool {
	if q.All {
		return true
	}
	if endpoint := strings.ToLower(strings.TrimSpace(q.Endpoint)); endpoint != "" && key.Endpoint != endpoint {
		return false
	}
	if identifier := strings.TrimSpace(q.Identifier); identifier != "" && key.Identifier != identifier {
		return false
	}
	if prefix := strings.TrimSpace(q.Prefix); prefix != "" && !strings.HasPrefix(key.Identifier, prefix) {
		return false
	}
	return true
}
