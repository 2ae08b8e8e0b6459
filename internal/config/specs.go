package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loykin/xvbd/internal/manager"
	"github.com/loykin/xvbd/internal/process"
)

// Specs builds launch specs for every enabled process, keyed by name.
// Explicit args win; otherwise args are derived from the settings.
func (c Config) Specs() (map[manager.Name]process.Spec, error) {
	env, err := c.envFromFiles()
	if err != nil {
		return nil, err
	}
	out := make(map[manager.Name]process.Spec)
	add := func(name manager.Name, p Process, derived []string, elevated bool) {
		if !p.Enabled {
			return
		}
		args := p.Args
		if len(args) == 0 {
			args = derived
		}
		out[name] = process.Spec{
			Name:     string(name),
			Path:     p.Path,
			Args:     args,
			WorkDir:  p.WorkDir,
			Env:      append(append([]string{}, env...), p.Env...),
			Elevated: elevated,
			Output:   c.General.ProcessOutput,
		}
	}
	add(manager.Node, c.Node.Process, nil, false)
	add(manager.P2Pool, c.P2Pool.Process, c.p2poolArgs(), false)
	add(manager.XmrigProxy, c.XmrigProxy.Process, c.proxyArgs(), false)
	add(manager.Xmrig, c.Xmrig.Process, c.xmrigArgs(), c.Xmrig.Sudo)
	return out, nil
}

func (c Config) p2poolArgs() []string {
	p := c.P2Pool
	args := []string{
		"--wallet", p.Address,
		"--stratum", p.Stratum,
		"--data-api", p.DataAPI,
		"--local-api",
		"--in-peers", strconv.Itoa(p.InPeers),
		"--out-peers", strconv.Itoa(p.OutPeers),
	}
	if p.Mini {
		args = append(args, "--mini")
	}
	return args
}

func (c Config) xmrigArgs() []string {
	x := c.Xmrig
	upstream := c.P2Pool.Stratum
	if c.XmrigProxy.Enabled {
		upstream = c.XmrigProxy.Bind
	}
	args := []string{"--url", upstream, "--user", x.Rig, "--no-color"}
	if x.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(x.Threads))
	}
	args = append(args, httpArgs(x.API, x.Token)...)
	return args
}

func (c Config) proxyArgs() []string {
	p := c.XmrigProxy
	args := []string{"--bind", p.Bind, "--url", c.P2Pool.Stratum, "--user", c.Xmrig.Rig, "--no-color"}
	return append(args, httpArgs(p.API, p.Token)...)
}

// httpArgs exposes the miner HTTP API at the configured address.
func httpArgs(api, token string) []string {
	u, err := url.Parse(api)
	if err != nil || u.Host == "" {
		return nil
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil
	}
	args := []string{"--http-host", host, "--http-port", port}
	if token != "" {
		args = append(args, "--http-access-token", token, "--http-no-restricted")
	}
	return args
}

func (c Config) envFromFiles() ([]string, error) {
	var env []string
	for _, f := range c.General.EnvFiles {
		pairs, err := loadEnvFile(f)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", f, err)
		}
		env = append(env, pairs...)
	}
	return env, nil
}

// loadEnvFile parses KEY=VALUE lines. Blank lines and lines starting with # are ignored.
func loadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out = append(out, strings.TrimSpace(k)+"="+strings.TrimSpace(v))
	}
	return out, nil
}
