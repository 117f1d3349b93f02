package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitKeyNormalize(t *testing.T) {
	key := RateLimitKey{Identifier: "  User:ABC ", Endpoint: " Vote\t"}.Normalize()
	assert.Equal(t, RateLimitKey{Identifier: "User:ABC", Endpoint: "vote"}, key)
	assert.Equal(t, "User:ABC:vote", key.String())

	assert.True(t, RateLimitKey{Identifier: "ip:1", Endpoint: "vote"}.Valid())
	assert.False(t, RateLimitKey{Identifier: " ", Endpoint: "vote"}.Valid())
	assert.False(t, RateLimitKey{Identifier: "ip:1", Endpoint: ""}.Valid())
}

func TestRateLimitRecordExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	record := RateLimitRecord{Count: 1, ResetAt: now}

	assert.False(t, record.Expired(now), "window ends at reset_at, not before")
	assert.False(t, record.Expired(now.Add(-time.Second)))
	assert.True(t, record.Expired(now.Add(time.Millisecond)))
}

func TestRateLimitQueryValidate(t *testing.T) {
	tests := []struct {
		name    string
		query   RateLimitQuery
		wantErr bool
	}{
		{name: "empty", query: RateLimitQuery{}, wantErr: true},
		{name: "whitespace filters", query: RateLimitQuery{Endpoint: " ", Identifier: "\t", Prefix: "  "}, wantErr: true},
		{name: "all", query: RateLimitQuery{All: true}},
		{name: "endpoint", query: RateLimitQuery{Endpoint: "vote"}},
		{name: "identifier", query: RateLimitQuery{Identifier: "ip:1"}},
		{name: "prefix", query: RateLimitQuery{Prefix: "user:"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRateLimitQueryMatches(t *testing.T) {
	vote := RateLimitKey{Identifier: "user:42", Endpoint: "vote"}
	comment := RateLimitKey{Identifier: "ip:10.0.0.1", Endpoint: "comment"}

	tests := []struct {
		name    string
		query   RateLimitQuery
		vote    bool
		comment bool
	}{
		{name: "all", query: RateLimitQuery{All: true}, vote: true, comment: true},
		{name: "all ignores filters", query: RateLimitQuery{All: true, Endpoint: "auth"}, vote: true, comment: true},
		{name: "endpoint", query: RateLimitQuery{Endpoint: "vote"}, vote: true},
		{name: "endpoint case folded", query: RateLimitQuery{Endpoint: " Comment "}, comment: true},
		{name: "identifier", query: RateLimitQuery{Identifier: "ip:10.0.0.1"}, comment: true},
		{name: "prefix", query: RateLimitQuery{Prefix: "user:"}, vote: true},
		{name: "prefix and endpoint", query: RateLimitQuery{Prefix: "user:", Endpoint: "comment"}},
		{name: "identifier and endpoint", query: RateLimitQuery{Identifier: "user:42", Endpoint: "vote"}, vote: true},
		{name: "no filters", query: RateLimitQuery{}, vote: true, comment: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.vote, tt.query.Matches(vote))
			assert.Equal(t, tt.comment, tt.query.Matches(comment))
		})
	}
}
