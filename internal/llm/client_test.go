package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresEndpoint(t *testing.T) {
	t.Parallel()

	_, err := New("", "some-model", "")
	require.ErrorIs(t, err, ErrNoEndpoint)
}

func TestComplete(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		require.Equal(t, "secret", r.Header.Get("x-api-key"))

		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "test-model", req.Model)
		require.Equal(t, "you are a judge", req.System)
		require.Len(t, req.Messages, 1)
		require.Equal(t, "user", req.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"first "},{"type":"thinking","text":"hidden"},{"type":"text","text":"second"}]}`))
	}))
	defer server.Close()

	client, err := New(server.URL, "test-model", "secret")
	require.NoError(t, err)

	text, err := client.Complete(t.Context(), "you are a judge", "rule on this")
	require.NoError(t, err)
	require.Equal(t, "first second", text)
}

func TestCompleteWithoutAPIKey(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	}))
	defer server.Close()

	client, err := New(server.URL, "test-model", "")
	require.NoError(t, err)

	text, err := client.Complete(t.Context(), "", "hello")
	require.NoError(t, err)
	require.Equal(t, "ok", text)
}

func TestCompleteAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer server.Close()

	client, err := New(server.URL, "test-model", "k")
	require.NoError(t, err)

	_, err = client.Complete(t.Context(), "", "hello")
	require.ErrorContains(t, err, "rate_limit_error")
	require.ErrorContains(t, err, "slow down")
}

func TestCompleteEmptyResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer server.Close()

	client, err := New(server.URL, "test-model", "k")
	require.NoError(t, err)

	_, err = client.Complete(t.Context(), "", "hello")
	require.ErrorContains(t, err, "no text")
}
