// Package client talks to a running xvbd daemon over its HTTP API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
	// CACert, if set, is a PEM file trusted for https base URLs.
	CACert   string
	Insecure bool
}

func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:18089/api",
		Timeout: 10 * time.Second,
	}
}

func New(config Config) (*Client, error) {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	transport := &http.Transport{}
	if config.Insecure || config.CACert != "" {
		tc, err := tlsConfig(config)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tc
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
	}, nil
}

func tlsConfig(config Config) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		tc.InsecureSkipVerify = true // #nosec G402
		return tc, nil
	}
	pem, err := os.ReadFile(config.CACert)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("parse CA certificate %s", config.CACert)
	}
	tc.RootCAs = pool
	return tc, nil
}

// IsReachable reports whether the daemon answers on its status endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

// SetMode applies req and returns the resulting settings.
func (c *Client) SetMode(ctx context.Context, req ModeRequest) (Settings, error) {
	var s Settings
	err := c.do(ctx, http.MethodPost, "/mode", req, &s)
	return s, err
}

// Signal asks the daemon to start, stop or restart a process.
func (c *Client) Signal(ctx context.Context, name, signal string) error {
	path := fmt.Sprintf("/process/%s/%s", url.PathEscape(name), url.PathEscape(signal))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// SubmitSecret starts a credential test. The returned state is taken right
// after submission; poll SudoState for the result.
func (c *Client) SubmitSecret(ctx context.Context, req SudoRequest) (SudoState, error) {
	var s SudoState
	err := c.do(ctx, http.MethodPost, "/sudo", req, &s)
	return s, err
}

func (c *Client) SudoState(ctx context.Context) (SudoState, error) {
	var s SudoState
	err := c.do(ctx, http.MethodGet, "/sudo", nil, &s)
	return s, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
