// Package upstream talks to the upstream query service: it requests
// credentials on behalf of owners and forwards proxied queries.
package upstream

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

	"github.com/keyrelay/keyrelay/internal/core"
)

const (
	DefaultIssueTimeout   = 10 * time.Second
	DefaultForwardTimeout = 8 * time.Second

	maxResponseBytes = 4 << 20
)

// Client performs upstream calls. The zero value is not usable; BaseURL is
// required.
type Client struct {
	BaseURL      string
	IssuePath    string
	IssueTimeout time.Duration
	HTTPClient   *http.Client
	UserAgent    string
}

// CredentialResponse is the upstream reply to a credential request.
type CredentialResponse struct {
	OK                 bool     `json:"ok"`
	Message            string   `json:"message"`
	APIName            string   `json:"api_name"`
	APIKey             string   `json:"api_key"`
	AvailableEndpoints []string `json:"available_endpoints"`
}

// ForwardResult is a successful upstream query reply. Body is valid JSON.
type ForwardResult struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// RequestCredential asks the upstream to issue a credential for owner. Any
// reply other than a confirmed credential yields an error wrapping
// core.ErrUpstreamUnavailable.
func (c *Client) RequestCredential(ctx context.Context, owner string) (*CredentialResponse, error) {
	if c == nil || strings.TrimSpace(c.BaseURL) == "" {
		return nil, fmt.Errorf("%w: upstream base url not configured", core.ErrUpstreamUnavailable)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	timeout := c.IssueTimeout
	if timeout <= 0 {
		timeout = DefaultIssueTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target, err := c.issueURL(owner)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUpstreamUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	c.setUserAgent(req)

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", core.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var payload CredentialResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode credential response: %v", core.ErrUpstreamUnavailable, err)
	}
	if !payload.OK {
		return nil, fmt.Errorf("%w: upstream declined: %s", core.ErrUpstreamUnavailable, payload.Message)
	}
	if strings.TrimSpace(payload.APIKey) == "" {
		return nil, fmt.Errorf("%w: upstream returned empty api_key", core.ErrUpstreamUnavailable)
	}

	return &payload, nil
}

// Forward performs a GET against target. Transport errors and non-JSON bodies
// return an error wrapping core.ErrUpstreamUnavailable; any JSON reply is
// returned with its status code, including upstream 4xx/5xx.
func (c *Client) Forward(ctx context.Context, target string, timeout time.Duration) (*ForwardResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = DefaultForwardTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	c.setUserAgent(req)

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", core.ErrUpstreamUnavailable, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: upstream replied with non-JSON body (status %d)", core.ErrUpstreamUnavailable, resp.StatusCode)
	}

	return &ForwardResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// Ping reports whether the upstream base URL answers at all.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("upstream base url not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.BaseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

func (c *Client) issueURL(owner string) (string, error) {
	base, err := url.Parse(strings.TrimRight(c.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid upstream base url: %w", err)
	}

	path := c.IssuePath
	if path == "" {
		path = "/apiolustur"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	base.Path += path
	query := url.Values{}
	query.Set("name", owner)
	base.RawQuery = query.Encode()
	return base.String(), nil
}

func (c *Client) client() *http.Client {
	if c != nil && c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) setUserAgent(req *http.Request) {
	if c != nil && c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
}
