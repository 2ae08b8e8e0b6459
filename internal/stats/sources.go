package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/xvbd/internal/allocation"
)

// sidechainBlockTime is the target P2Pool sidechain block interval.
const sidechainBlockTime = 10 * time.Second

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 5 * time.Second}
}

func getJSON(ctx context.Context, c *http.Client, u, token string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// at returns xs[i] or 0 when missing or null.
func at(xs []*float64, i int) float64 {
	if i < len(xs) && xs[i] != nil {
		return *xs[i]
	}
	return 0
}

// XmrigSource reads the miner's HTTP API.
type XmrigSource struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func (XmrigSource) Name() string   { return "xmrig" }
func (XmrigSource) Critical() bool { return false }

func (x XmrigSource) Fetch(ctx context.Context, s *Snapshot) error {
	var body struct {
		Hashrate struct {
			// 10s, 60s, 15m in H/s
			Total []*float64 `json:"total"`
		} `json:"hashrate"`
	}
	if err := getJSON(ctx, httpClient(x.Client), strings.TrimRight(x.BaseURL, "/")+"/1/summary", x.Token, &body); err != nil {
		return err
	}
	s.Miner.Raw = at(body.Hashrate.Total, 0)
	s.Miner.OneMin = at(body.Hashrate.Total, 1)
	s.Miner.FifteenMin = at(body.Hashrate.Total, 2)
	return nil
}

// ProxySource reads the miner proxy's HTTP API.
type ProxySource struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func (ProxySource) Name() string   { return "xmrig_proxy" }
func (ProxySource) Critical() bool { return false }

func (p ProxySource) Fetch(ctx context.Context, s *Snapshot) error {
	var body struct {
		Hashrate struct {
			// 1m, 10m, 1h, 12h, 24h, all in kH/s
			Total []*float64 `json:"total"`
		} `json:"hashrate"`
	}
	if err := getJSON(ctx, httpClient(p.Client), strings.TrimRight(p.BaseURL, "/")+"/1/summary", p.Token, &body); err != nil {
		return err
	}
	s.Proxy.OneMin = at(body.Hashrate.Total, 0) * 1_000
	s.Proxy.TenMin = at(body.Hashrate.Total, 1) * 1_000
	return nil
}

// P2PoolSource reads the pool statistics file P2Pool writes into its data
// API directory.
type P2PoolSource struct {
	Dir string
}

func (P2PoolSource) Name() string   { return "p2pool" }
func (P2PoolSource) Critical() bool { return true }

func (p P2PoolSource) Fetch(_ context.Context, s *Snapshot) error {
	b, err := os.ReadFile(filepath.Join(p.Dir, "pool", "stats"))
	if err != nil {
		return err
	}
	var body struct {
		Pool struct {
			SidechainDifficulty float64 `json:"sidechainDifficulty"`
			PPLNSWindowSize     float64 `json:"pplnsWindowSize"`
		} `json:"pool_statistics"`
	}
	if err := json.Unmarshal(b, &body); err != nil {
		return fmt.Errorf("decode pool stats: %w", err)
	}
	s.LocalFloor = LocalFloor(body.Pool.SidechainDifficulty, body.Pool.PPLNSWindowSize)
	return nil
}

// LocalFloor is the hashrate that finds one share per PPLNS window:
// difficulty / (window blocks × block time).
func LocalFloor(difficulty, windowBlocks float64) float64 {
	if difficulty <= 0 || windowBlocks <= 0 {
		return 0
	}
	return difficulty / (windowBlocks * sidechainBlockTime.Seconds())
}

// XvbSource reads the donation service's private statistics for one address.
type XvbSource struct {
	URL     string
	Address string
	Token   string
	Client  *http.Client
}

func (XvbSource) Name() string   { return "xvb" }
func (XvbSource) Critical() bool { return true }

func (x XvbSource) Fetch(ctx context.Context, s *Snapshot) error {
	u, err := url.Parse(x.URL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("address", x.Address)
	q.Set("token", x.Token)
	u.RawQuery = q.Encode()

	var body struct {
		Donor1h   float64 `json:"donor_1hr_avg"`  // kH/s
		Donor24h  float64 `json:"donor_24hr_avg"` // kH/s
		RoundType string  `json:"round_type"`
		Winner    bool    `json:"winner"`
	}
	if err := getJSON(ctx, httpClient(x.Client), u.String(), "", &body); err != nil {
		return err
	}
	round := allocation.NotParticipating
	if t := strings.TrimSpace(body.RoundType); t != "" && !strings.EqualFold(t, "none") {
		kind, err := allocation.ParseDonationLevel(t)
		if err != nil {
			return fmt.Errorf("round type: %w", err)
		}
		round = allocation.Participating(kind)
	}
	s.Donor = Donor{
		Donor1h:  body.Donor1h * 1_000,
		Donor24h: body.Donor24h * 1_000,
		Round:    round,
		Win:      body.Winner,
	}
	return nil
}
