package summary

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKagiProvider_Summarize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "session-token", r.Header.Get("Authorization"))
		assert.Equal(t, "summary", r.URL.Query().Get("summary_type"))
		assert.Equal(t, "https://example.com/post", r.URL.Query().Get("url"))
		assert.Equal(t, "EN", r.URL.Query().Get("target_language"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output_text": "  The gist.  "}`))
	}))
	defer server.Close()

	p := NewKagiProvider("session-token", "EN", KagiOptions{Endpoint: server.URL, Timeout: 5 * time.Second})
	text, err := p.Summarize(context.Background(), Request{URL: "https://example.com/post"})
	require.NoError(t, err)
	assert.Equal(t, "The gist.", text)
}

func TestKagiProvider_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		message   string
	}{
		{"error field", http.StatusOK, `{"error": "unsupported page"}`, false, "unsupported page"},
		{"empty output", http.StatusOK, `{"output_text": ""}`, false, "no summary"},
		{"bad json", http.StatusOK, `<html>`, false, "parse"},
		{"unauthorized", http.StatusUnauthorized, ``, false, "session token"},
		{"forbidden", http.StatusForbidden, ``, false, "subscription"},
		{"rate limited", http.StatusTooManyRequests, ``, true, "rate limit"},
		{"server error", http.StatusBadGateway, `upstream`, true, "502"},
		{"bad request", http.StatusBadRequest, `bad url`, false, "400"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := NewKagiProvider("token", "", KagiOptions{Endpoint: server.URL, Timeout: 5 * time.Second})
			_, err := p.Summarize(context.Background(), Request{URL: "https://example.com/post"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestKagiProvider_NetworkFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	p := NewKagiProvider("token", "", KagiOptions{Endpoint: endpoint, Timeout: time.Second})
	_, err := p.Summarize(context.Background(), Request{URL: "https://example.com/post"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestExtractiveProvider(t *testing.T) {
	p := NewExtractiveProvider(80)

	text, err := p.Summarize(context.Background(), Request{Content: `<h2>Heading</h2>` +
		`<p>The first paragraph explains the news in a sentence or two.</p>` +
		`<p><img src="https://example.com/a.png" alt="a"></p>` +
		`<p>The second paragraph adds more detail that pushes past the limit easily.</p>` +
		`<p>The third paragraph is never reached.</p>`})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(text, "The first paragraph"))
	assert.NotContains(t, text, "Heading")
	assert.NotContains(t, text, "third paragraph")
	assert.LessOrEqual(t, len([]rune(text)), 81)

	_, err = p.Summarize(context.Background(), Request{Content: `<h1>Only a title</h1>`})
	assert.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.True(t, IsTransient(Transient(errors.New("later"))))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.Nil(t, Transient(nil))
}
