// Package config loads, merges and validates the daemon configuration.
package config

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/loykin/xvbd/internal/allocation"
	"github.com/loykin/xvbd/internal/hashrate"
	"github.com/loykin/xvbd/internal/logger"
	"github.com/loykin/xvbd/internal/pool"
	tlsx "github.com/loykin/xvbd/internal/tls"
)

// EnvPrefix prefixes environment overrides, e.g. XVBD_XVB_TOKEN.
const EnvPrefix = "XVBD"

// Config is the whole TOML document.
type Config struct {
	General    General    `toml:"general" mapstructure:"general"`
	Node       Node       `toml:"node" mapstructure:"node"`
	P2Pool     P2Pool     `toml:"p2pool" mapstructure:"p2pool"`
	Xmrig      Xmrig      `toml:"xmrig" mapstructure:"xmrig"`
	XmrigProxy XmrigProxy `toml:"xmrig_proxy" mapstructure:"xmrig_proxy"`
	Xvb        Xvb        `toml:"xvb" mapstructure:"xvb"`
}

type General struct {
	// PeriodSecs is the control loop period.
	PeriodSecs int          `toml:"period_secs" mapstructure:"period_secs"`
	APIListen  string       `toml:"api_listen" mapstructure:"api_listen"`
	TLS        tlsx.Options `toml:"tls" mapstructure:"tls"`
	// HistoryDSN selects a history sink; empty disables history.
	HistoryDSN    string               `toml:"history_dsn" mapstructure:"history_dsn"`
	Log           logger.Options       `toml:"log" mapstructure:"log"`
	ProcessOutput logger.ProcessOutput `toml:"process_output" mapstructure:"process_output"`
	// EnvFiles are KEY=VALUE files applied to every supervised process.
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	Metrics  bool     `toml:"metrics" mapstructure:"metrics"`
}

// Process holds the launch settings shared by all supervised programs.
type Process struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	Path    string   `toml:"path" mapstructure:"path"`
	Args    []string `toml:"args" mapstructure:"args"`
	WorkDir string   `toml:"work_dir" mapstructure:"work_dir"`
	Env     []string `toml:"env" mapstructure:"env"`
}

type Node struct {
	Process `mapstructure:",squash"`
}

type P2Pool struct {
	Process  `mapstructure:",squash"`
	Address  string `toml:"address" mapstructure:"address"`
	Stratum  string `toml:"stratum" mapstructure:"stratum"`
	DataAPI  string `toml:"data_api" mapstructure:"data_api"`
	Mini     bool   `toml:"mini" mapstructure:"mini"`
	InPeers  int    `toml:"in_peers" mapstructure:"in_peers"`
	OutPeers int    `toml:"out_peers" mapstructure:"out_peers"`
}

type Xmrig struct {
	Process `mapstructure:",squash"`
	API     string `toml:"api" mapstructure:"api"`
	Token   string `toml:"token" mapstructure:"token"`
	Rig     string `toml:"rig" mapstructure:"rig"`
	Threads int    `toml:"threads" mapstructure:"threads"`
	// Sudo runs the miner elevated after a credential test.
	Sudo bool `toml:"sudo" mapstructure:"sudo"`
}

type XmrigProxy struct {
	Process `mapstructure:",squash"`
	API     string `toml:"api" mapstructure:"api"`
	Token   string `toml:"token" mapstructure:"token"`
	Bind    string `toml:"bind" mapstructure:"bind"`
}

type Xvb struct {
	Token             string  `toml:"token" mapstructure:"token"`
	Mode              string  `toml:"mode" mapstructure:"mode"`
	DonationLevel     string  `toml:"donation_level" mapstructure:"donation_level"`
	Metric            string  `toml:"metric" mapstructure:"metric"`
	ManualAmountRaw   float64 `toml:"manual_amount_raw" mapstructure:"manual_amount_raw"`
	P2PoolBuffer      int     `toml:"p2pool_buffer" mapstructure:"p2pool_buffer"`
	ManualPoolEnabled bool    `toml:"manual_pool_enabled" mapstructure:"manual_pool_enabled"`
	ManualPoolEU      bool    `toml:"manual_pool_eu" mapstructure:"manual_pool_eu"`
	CycleMinutes      int     `toml:"cycle_minutes" mapstructure:"cycle_minutes"`
	StatsURL          string  `toml:"stats_url" mapstructure:"stats_url"`
	PoolEU            string  `toml:"pool_eu" mapstructure:"pool_eu"`
	PoolNA            string  `toml:"pool_na" mapstructure:"pool_na"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		General: General{
			PeriodSecs: 10,
			APIListen:  "127.0.0.1:18089",
			Log:        logger.Options{Level: "info", Format: "text"},
			Metrics:    true,
		},
		Node: Node{Process: Process{Path: "monerod"}},
		P2Pool: P2Pool{
			Process:  Process{Enabled: true, Path: "p2pool"},
			Stratum:  "127.0.0.1:3333",
			DataAPI:  "p2pool-data",
			InPeers:  10,
			OutPeers: 10,
		},
		Xmrig: Xmrig{
			Process: Process{Enabled: true, Path: "xmrig"},
			API:     "http://127.0.0.1:18088",
			Rig:     "xvbd",
		},
		XmrigProxy: XmrigProxy{
			Process: Process{Path: "xmrig-proxy"},
			API:     "http://127.0.0.1:18090",
			Bind:    "0.0.0.0:3355",
		},
		Xvb: Xvb{
			Mode:          allocation.Auto.String(),
			DonationLevel: allocation.Donor.String(),
			Metric:        hashrate.Hash.String(),
			CycleMinutes:  10,
			StatsURL:      "https://xmrvsbeast.com/cgi-bin/p2pool_bonus_history_api.cgi",
			PoolEU:        pool.DefaultXvbEU,
			PoolNA:        pool.DefaultXvbNA,
		},
	}
}

// Load reads path over the defaults and applies XVBD_* environment
// overrides. An empty path yields defaults plus environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def, err := Marshal(Default())
	if err != nil {
		return Config{}, err
	}
	if err := v.ReadConfig(bytes.NewReader(def)); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Merge overlays a stored TOML document onto the defaults. Recognised
// fields keep their stored values; unknown fields are dropped.
func Merge(stored []byte) (Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(stored, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse stored config: %w", err)
	}
	return cfg, nil
}

// Marshal renders cfg as TOML.
func Marshal(cfg Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

// Period is the control loop period.
func (c Config) Period() time.Duration {
	if c.General.PeriodSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.General.PeriodSecs) * time.Second
}

// Cycle is the allocation cycle length.
func (c Config) Cycle() time.Duration {
	if c.Xvb.CycleMinutes <= 0 {
		return allocation.DefaultCycle
	}
	return time.Duration(c.Xvb.CycleMinutes) * time.Minute
}

// Settings decodes the allocation settings. Unparseable values fall back
// to the defaults; Validate reports them.
func (c Config) Settings() allocation.Settings {
	s := allocation.Settings{
		Kind:            allocation.Auto,
		Level:           allocation.Donor,
		Metric:          hashrate.Hash,
		ManualAmountRaw: allocation.ClampAmount(c.Xvb.ManualAmountRaw),
		Buffer:          allocation.ClampBuffer(c.Xvb.P2PoolBuffer),
	}
	if k, err := allocation.ParseKind(c.Xvb.Mode); err == nil {
		s.Kind = k
	}
	if l, err := allocation.ParseDonationLevel(c.Xvb.DonationLevel); err == nil {
		s.Level = l
	}
	if u, err := hashrate.ParseUnit(c.Xvb.Metric); err == nil {
		s.Metric = u
	}
	return s
}

// Endpoints collects the pool addresses and credentials.
func (c Config) Endpoints() pool.Endpoints {
	return pool.Endpoints{
		P2Pool:  c.P2Pool.Stratum,
		XvbEU:   c.Xvb.PoolEU,
		XvbNA:   c.Xvb.PoolNA,
		Address: c.P2Pool.Address,
		Token:   c.Xvb.Token,
		Rig:     c.Xmrig.Rig,
	}
}

// XvbPool is the donation endpoint in use.
func (c Config) XvbPool() pool.Pool {
	return pool.SelectXvb(c.Xvb.ManualPoolEnabled, c.Xvb.ManualPoolEU)
}

// DonationEnabled reports whether a token and payout address are set.
func (c Config) DonationEnabled() bool {
	return c.Xvb.Token != "" && c.P2Pool.Address != ""
}
