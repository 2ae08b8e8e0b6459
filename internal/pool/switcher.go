package pool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Switcher points the miner (or proxy) at a pool.
type Switcher interface {
	Switch(ctx context.Context, p Pool) error
}

// HTTPSwitcher rewrites the pool list through the xmrig / xmrig-proxy
// HTTP config API: GET /1/config, replace "pools", PUT /1/config.
type HTTPSwitcher struct {
	BaseURL   string // e.g. http://127.0.0.1:18088
	Token     string // bearer access token, optional
	Endpoints Endpoints
	Client    *http.Client
}

// NewHTTPSwitcher returns a switcher with a short request timeout.
func NewHTTPSwitcher(baseURL, token string, eps Endpoints) *HTTPSwitcher {
	return &HTTPSwitcher{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Token:     token,
		Endpoints: eps,
		Client:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPSwitcher) Switch(ctx context.Context, p Pool) error {
	target, err := s.Endpoints.Target(p)
	if err != nil {
		return err
	}
	cfg, err := s.getConfig(ctx)
	if err != nil {
		return fmt.Errorf("read miner config: %w", err)
	}
	cfg["pools"] = []map[string]any{{
		"url":       target.URL,
		"user":      target.User,
		"pass":      target.Pass,
		"rig-id":    target.Rig,
		"keepalive": true,
		"enabled":   true,
	}}
	if err := s.putConfig(ctx, cfg); err != nil {
		return fmt.Errorf("write miner config: %w", err)
	}
	return nil
}

func (s *HTTPSwitcher) getConfig(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/1/config", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var cfg map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, errors.New("empty config document")
	}
	return cfg, nil
}

func (s *HTTPSwitcher) putConfig(ctx context.Context, cfg map[string]any) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.BaseURL+"/1/config", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return checkStatus(resp)
}

func (s *HTTPSwitcher) do(req *http.Request) (*http.Response, error) {
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	c := s.Client
	if c == nil {
		c = http.DefaultClient
	}
	return c.Do(req)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
