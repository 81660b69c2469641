package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKindSentinel(t *testing.T) {
	err := E(KindNotFound, "project.Get", "Project with ID p1 not found.", nil)

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrStorage))
}

func TestError_IsThroughWrapping(t *testing.T) {
	inner := E(KindStorage, "blob.Write", "Error uploading file.", fmt.Errorf("disk full"))
	wrapped := fmt.Errorf("create: %w", inner)

	assert.True(t, errors.Is(wrapped, ErrStorage))
	assert.Equal(t, KindStorage, KindOf(wrapped))
	assert.Equal(t, "Error uploading file.", MessageOf(wrapped))
}

func TestError_Message(t *testing.T) {
	err := E(KindMetadata, "docstore.Update", "Error updating project in database.", fmt.Errorf("locked"))
	assert.Equal(t, "docstore.Update: Error updating project in database.: locked", err.Error())

	bare := &Error{Kind: KindValidation}
	assert.Equal(t, "validation_error", bare.Error())
}

func TestWrap_KeepsExistingKind(t *testing.T) {
	nf := NotFound("docstore.Get", "document not found")
	got := Wrap(KindMetadata, "project.Get", "Error reading project.", nf)

	assert.Equal(t, KindNotFound, KindOf(got))
	assert.Nil(t, Wrap(KindMetadata, "op", "msg", nil))
}

func TestWrap_ClassifiesPlainErrors(t *testing.T) {
	got := Wrap(KindUpstream, "chat.Send", "completion failed", fmt.Errorf("boom"))
	assert.True(t, errors.Is(got, ErrUpstream))
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("plain")))
	assert.Equal(t, "Unexpected error occurred.", MessageOf(fmt.Errorf("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindForbidden, http.StatusForbidden},
		{KindStorage, http.StatusInternalServerError},
		{KindMetadata, http.StatusInternalServerError},
		{KindUpstreamFetch, http.StatusInternalServerError},
		{KindUpstream, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(E(tt.kind, "", "", nil)))
		})
	}
}

func TestAPIError(t *testing.T) {
	err := NewAPIError("github", 404, "Not Found")
	assert.Contains(t, err.Error(), "status 404")
	assert.Equal(t, 404, StatusCode(fmt.Errorf("fetch: %w", err)))
	assert.Equal(t, 0, StatusCode(fmt.Errorf("plain")))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", E(KindUpstreamFetch, "fetch.Get", "", NewAPIError("fetch", 429, "Too Many Requests")), true},
		{"503", NewAPIError("fetch", 503, "Service Unavailable"), true},
		{"404", E(KindUpstreamFetch, "fetch.Get", "", NewAPIError("fetch", 404, "Not Found")), false},
		{"transport", E(KindUpstreamFetch, "fetch.Get", "", &net.OpError{Op: "dial", Err: errors.New("refused")}), true},
		{"deadline", E(KindUpstreamFetch, "fetch.Get", "", context.DeadlineExceeded), false},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), false},
		{"validation", Validation("fetch.Get", "bad url"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
