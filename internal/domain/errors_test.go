package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessagesRedactSignedURLs(t *testing.T) {
	url := "https://bucket.example.com/logs/a.json.gz?X-Amz-Signature=secret"

	transient := &TransientNetworkError{URL: url, StatusCode: 503}
	assert.NotContains(t, transient.Error(), "secret")
	assert.Contains(t, transient.Error(), "HTTP 503")

	apiErr := &APIError{URL: url, StatusCode: 403, Body: "denied"}
	assert.NotContains(t, apiErr.Error(), "secret")
	assert.Contains(t, apiErr.Error(), "denied")
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("connection reset")

	assert.ErrorIs(t, &TransientNetworkError{URL: "u", Err: cause}, cause)
	assert.ErrorIs(t, ErrAuth(cause, "token request failed"), cause)
	assert.ErrorIs(t, &ParseError{Message: "bad gzip", Err: cause}, cause)
}

func TestParseError_ReportsMalformedRatio(t *testing.T) {
	err := &ParseError{Message: "too many malformed records", Malformed: 6, Total: 10}
	assert.Equal(t, "too many malformed records (6 of 10 lines malformed)", err.Error())
}

func TestAmbiguousIDError_ListsCandidates(t *testing.T) {
	err := &AmbiguousIDError{Prefix: "ab", Candidates: []string{"abc", "abd"}}
	assert.Equal(t, `ambiguous ID prefix "ab" matches 2 entries: abc, abd`, err.Error())
}

func TestPageRequest(t *testing.T) {
	assert.Equal(t, DefaultMaxResults, PageRequest{}.Limit())
	assert.Equal(t, MaxMaxResults, PageRequest{MaxResults: MaxMaxResults + 1}.Limit())
	assert.Equal(t, 25, PageRequest{MaxResults: 25}.Limit())
	assert.Equal(t, 0, PageRequest{Offset: -3}.EffectiveOffset())

	assert.Equal(t, 10, NextOffset(0, 10, 25))
	assert.Equal(t, -1, NextOffset(20, 10, 25))
	assert.Equal(t, -1, NextOffset(0, 10, 10))
}
