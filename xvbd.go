// Package xvbd assembles the control loop, process supervisor, credential
// tester and HTTP surface into one daemon.
package xvbd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/xvbd/internal/allocation"
	"github.com/loykin/xvbd/internal/config"
	"github.com/loykin/xvbd/internal/control"
	"github.com/loykin/xvbd/internal/history"
	"github.com/loykin/xvbd/internal/history/factory"
	"github.com/loykin/xvbd/internal/manager"
	"github.com/loykin/xvbd/internal/metrics"
	"github.com/loykin/xvbd/internal/pool"
	"github.com/loykin/xvbd/internal/process"
	"github.com/loykin/xvbd/internal/server"
	"github.com/loykin/xvbd/internal/state"
	"github.com/loykin/xvbd/internal/stats"
	"github.com/loykin/xvbd/internal/sudo"
	tlsx "github.com/loykin/xvbd/internal/tls"
)

type (
	Config   = config.Config
	Settings = allocation.Settings
	Decision = allocation.Decision
)

// Daemon owns every long-lived component.
type Daemon struct {
	cfg        Config
	Runtime    *state.Runtime
	Supervisor *manager.Supervisor
	Sudo       *sudo.State
	Tester     *sudo.Tester
	Loop       *control.Loop
	Probe      *metrics.ResourceProbe

	sink    history.Sink
	server  *http.Server
	metrics http.Handler
}

// New builds a daemon from cfg. Nothing is started until Run.
func New(ctx context.Context, cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	for _, w := range cfg.Warnings() {
		slog.Warn(w)
	}

	d := &Daemon{cfg: cfg, sink: history.Nop{}}
	if cfg.General.HistoryDSN != "" {
		sink, err := factory.NewSinkFromDSN(ctx, cfg.General.HistoryDSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		d.sink = sink
	}

	if cfg.General.Metrics {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		d.Probe = metrics.NewResourceProbe(5 * time.Second)
		if err := d.Probe.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register probe: %w", err)
		}
		d.metrics = metrics.Handler()
	}

	d.Runtime = state.NewRuntime(cfg.Settings())
	d.Supervisor = manager.New(d.sink)
	d.Sudo = sudo.NewState()
	d.Tester = sudo.NewTester(d.Sudo, sudo.ExecValidator{}, d.Supervisor)
	d.Tester.OnResult = metrics.IncCredentialTest
	d.Supervisor.SetElevationGate(d.Sudo, d.Tester.Required)

	specs, err := cfg.Specs()
	if err != nil {
		return nil, err
	}
	for _, name := range manager.Names {
		spec, ok := specs[name]
		if !ok {
			continue
		}
		if err := d.Supervisor.Register(name, spec); err != nil {
			return nil, err
		}
		_ = d.Supervisor.Signal(name, process.SignalStart)
	}
	eps := cfg.Endpoints()
	d.Supervisor.SetPrepare(minerTarget(d.Runtime, eps, cfg.XmrigProxy.Enabled))

	d.Loop = &control.Loop{
		Period:          cfg.Period(),
		Engine:          &allocation.Engine{Cycle: cfg.Cycle(), Auto: allocation.DefaultAutoPolicy},
		Runtime:         d.Runtime,
		Stats:           collector(cfg),
		Processes:       d.Supervisor,
		Sink:            d.sink,
		XvbPool:         cfg.XvbPool(),
		DonationEnabled: cfg.DonationEnabled(),
		Switcher:        switcher(cfg, eps),
	}

	if cfg.General.APIListen != "" {
		tc, err := tlsx.Setup(cfg.General.TLS)
		if err != nil {
			return nil, fmt.Errorf("api tls: %w", err)
		}
		d.server = server.NewServer(cfg.General.APIListen, "/api", d.deps())
		d.server.TLSConfig = tc
	}
	return d, nil
}

func (d *Daemon) deps() server.Deps {
	return server.Deps{
		Runtime:   d.Runtime,
		Processes: d.Supervisor,
		Sudo:      d.Sudo,
		Tester:    d.Tester,
		Loop:      d.Loop,
		Metrics:   d.metrics,
	}
}

// Handler returns the HTTP API without binding a listener.
func (d *Daemon) Handler() http.Handler {
	return server.NewRouter(d.deps(), "/api").Handler()
}

// Run blocks until ctx is done or a component fails, then stops every
// process, wipes the credential buffer and closes the history sink.
func (d *Daemon) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Loop.Run(gctx) })
	if d.Probe != nil {
		g.Go(func() error {
			d.Probe.Run(gctx, d.Supervisor.PIDs)
			return nil
		})
	}
	if d.server != nil {
		g.Go(func() error {
			slog.Info("api listening", "addr", d.server.Addr, "tls", d.server.TLSConfig != nil)
			var err error
			if d.server.TLSConfig != nil {
				err = d.server.ListenAndServeTLS("", "")
			} else {
				err = d.server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return d.server.Shutdown(sctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(err, d.Close())
}

// Close stops supervised processes and releases resources.
func (d *Daemon) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*process.DefaultStopGrace)
	defer cancel()
	errs := []error{d.Supervisor.Shutdown(ctx)}
	d.Sudo.Wipe()
	errs = append(errs, factory.Close(d.sink))
	return errors.Join(errs...)
}

func collector(cfg Config) *stats.Collector {
	var sources []stats.Source
	if cfg.Xmrig.API != "" {
		sources = append(sources, stats.XmrigSource{BaseURL: cfg.Xmrig.API, Token: cfg.Xmrig.Token})
	}
	if cfg.XmrigProxy.Enabled && cfg.XmrigProxy.API != "" {
		sources = append(sources, stats.ProxySource{BaseURL: cfg.XmrigProxy.API, Token: cfg.XmrigProxy.Token})
	}
	if cfg.P2Pool.Enabled && cfg.P2Pool.DataAPI != "" {
		sources = append(sources, stats.P2PoolSource{Dir: cfg.P2Pool.DataAPI})
	}
	if cfg.DonationEnabled() {
		sources = append(sources, stats.XvbSource{URL: cfg.Xvb.StatsURL, Address: cfg.P2Pool.Address, Token: cfg.Xvb.Token})
	}
	return stats.NewCollector(5*time.Second, sources...)
}

// switcher points whichever program faces the pools: the proxy when it
// is enabled, otherwise the miner.
func switcher(cfg Config, eps pool.Endpoints) pool.Switcher {
	if cfg.XmrigProxy.Enabled && cfg.XmrigProxy.API != "" {
		return pool.NewHTTPSwitcher(cfg.XmrigProxy.API, cfg.XmrigProxy.Token, eps)
	}
	if cfg.Xmrig.API != "" {
		return pool.NewHTTPSwitcher(cfg.Xmrig.API, cfg.Xmrig.Token, eps)
	}
	return nil
}
