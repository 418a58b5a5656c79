package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompletion struct {
	response string
	err      error
	calls    int
}

func (s *stubCompletion) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls++
	return s.response, s.err
}

func TestIsConnectionError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"refused", errors.New("dial tcp 127.0.0.1:11434: connection refused"), true},
		{"no host", errors.New("no such host"), true},
		{"timeout", errors.New("context deadline exceeded: timeout"), true},
		{"api error", errors.New("invalid request payload"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isConnectionError(tc.err))
		})
	}
}

func TestIsQuotaError(t *testing.T) {
	assert.True(t, isQuotaError(errors.New("gemini API error (status 429)")))
	assert.True(t, isQuotaError(errors.New("RESOURCE_EXHAUSTED: quota exceeded")))
	assert.False(t, isQuotaError(errors.New("status 500: internal error")))
	assert.False(t, isQuotaError(nil))
}

func TestFallbackCompleteUsesPrimary(t *testing.T) {
	gemini := &stubCompletion{response: "ok"}
	svc := NewFallbackService(gemini, nil)

	result, err := svc.Complete(context.Background(), "prompt")

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, gemini.calls)
}

func TestFallbackCompletePropagatesNonRetryableErrors(t *testing.T) {
	gemini := &stubCompletion{err: errors.New("invalid request payload")}
	svc := NewFallbackService(gemini, nil)

	_, err := svc.Complete(context.Background(), "prompt")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini completion failed")
}

func TestFallbackCompleteNoProviders(t *testing.T) {
	svc := NewFallbackService(nil, nil)

	_, err := svc.Complete(context.Background(), "prompt")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no AI provider configured")
}
