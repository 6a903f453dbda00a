package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultKagiEndpoint = "https://kagi.com/mother/summary_labs"

	maxKagiResponseBytes = 1 << 20
)

type KagiOptions struct {
	Endpoint  string
	Timeout   time.Duration
	UserAgent string
}

// KagiProvider calls the Kagi Universal Summarizer with a session token.
type KagiProvider struct {
	client    *http.Client
	endpoint  string
	token     string
	language  string
	userAgent string
}

type kagiResponse struct {
	OutputText *string `json:"output_text"`
	Error      *string `json:"error"`
}

func NewKagiProvider(token, language string, opts KagiOptions) *KagiProvider {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultKagiEndpoint
	}

	return &KagiProvider{
		client:    &http.Client{Timeout: opts.Timeout},
		endpoint:  endpoint,
		token:     token,
		language:  language,
		userAgent: opts.UserAgent,
	}
}

func (p *KagiProvider) Name() string {
	return "kagi"
}

func (p *KagiProvider) Summarize(ctx context.Context, req Request) (string, error) {
	if req.URL == "" {
		return "", errors.New("entry has no URL to summarize")
	}

	query := url.Values{}
	query.Set("summary_type", "summary")
	query.Set("url", req.URL)
	if p.language != "" {
		query.Set("target_language", p.language)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create Kagi request: %w", err)
	}
	httpReq.Header.Set("Authorization", p.token)
	httpReq.Header.Set("Accept", "application/json")
	if p.userAgent != "" {
		httpReq.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", Transient(fmt.Errorf("failed to connect to Kagi: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKagiResponseBytes))
	if err != nil {
		return "", Transient(fmt.Errorf("failed to read Kagi response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", kagiStatusError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed kagiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse Kagi response: %w", err)
	}

	if parsed.Error != nil && *parsed.Error != "" {
		return "", fmt.Errorf("Kagi error: %s", *parsed.Error)
	}
	if parsed.OutputText == nil || strings.TrimSpace(*parsed.OutputText) == "" {
		return "", errors.New("no summary returned from Kagi")
	}

	return strings.TrimSpace(*parsed.OutputText), nil
}

func kagiStatusError(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized:
		return errors.New("invalid Kagi session token")
	case status == http.StatusForbidden:
		return errors.New("access forbidden, check the Kagi subscription")
	case status == http.StatusTooManyRequests:
		return Transient(errors.New("Kagi rate limit exceeded"))
	case status == http.StatusRequestTimeout || status >= 500:
		return Transient(fmt.Errorf("Kagi error (%d): %s", status, body))
	default:
		return fmt.Errorf("Kagi error (%d): %s", status, body)
	}
}
