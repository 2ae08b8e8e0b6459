// Package stats polls the miner, proxy, pool and donation service and
// normalizes their answers into a Snapshot.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/xvbd/internal/allocation"
	"github.com/loykin/xvbd/internal/hashrate"
	"github.com/loykin/xvbd/internal/metrics"
)

// Donor is what the donation service reports for this user. Averages are raw H/s.
type Donor struct {
	Donor1h  float64          `json:"donor_1hr_avg"`
	Donor24h float64          `json:"donor_24hr_avg"`
	Round    allocation.Round `json:"round"`
	Win      bool             `json:"win"`
}

// Snapshot is one normalized poll result.
type Snapshot struct {
	Miner hashrate.MinerRates `json:"miner"`
	Proxy hashrate.ProxyRates `json:"proxy"`
	// LocalFloor is the hashrate needed to hold a share in the pool window, raw H/s.
	LocalFloor float64   `json:"local_floor"`
	Donor      Donor     `json:"donor"`
	At         time.Time `json:"at"`
	// Failed lists sources whose last fetch failed.
	Failed []string `json:"failed,omitempty"`
}

// Source fills its own fields of a Snapshot. Sources run concurrently and
// must not touch fields owned by another source.
type Source interface {
	Name() string
	// Critical sources report failures to the caller of Poll. A failed
	// non-critical source leaves its fields zero.
	Critical() bool
	Fetch(ctx context.Context, s *Snapshot) error
}

// FetchError reports a failed critical source.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s stats: %v", e.Source, e.Err) }

func (e *FetchError) Unwrap() error { return e.Err }

// Collector polls every source and keeps the last snapshot.
type Collector struct {
	sources []Source
	timeout time.Duration

	mu   sync.RWMutex
	last Snapshot
	have bool
}

// NewCollector returns a collector bounding each poll by timeout.
func NewCollector(timeout time.Duration, sources ...Source) *Collector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Collector{sources: sources, timeout: timeout}
}

// Poll fetches every source once. Hashrates start from zero on each poll;
// the local floor and donor fields carry over from the previous snapshot
// when their source fails. The returned error joins each critical failure.
func (c *Collector) Poll(ctx context.Context) (Snapshot, error) {
	c.mu.RLock()
	snap := Snapshot{LocalFloor: c.last.LocalFloor, Donor: c.last.Donor}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	errs := make([]error, len(c.sources))
	var g errgroup.Group
	for i, src := range c.sources {
		g.Go(func() error {
			errs[i] = src.Fetch(ctx, &snap)
			return nil
		})
	}
	_ = g.Wait()

	var critical []error
	for i, err := range errs {
		if err == nil {
			continue
		}
		src := c.sources[i]
		snap.Failed = append(snap.Failed, src.Name())
		metrics.IncStatsFailure(src.Name())
		if src.Critical() {
			critical = append(critical, &FetchError{Source: src.Name(), Err: err})
			slog.Warn("stats fetch failed", "source", src.Name(), "error", err)
		} else {
			slog.Debug("stats source unavailable", "source", src.Name(), "error", err)
		}
	}
	snap.At = time.Now()

	c.mu.Lock()
	c.last = snap
	c.have = true
	c.mu.Unlock()
	return snap, errors.Join(critical...)
}

// Last returns the most recent snapshot and whether any poll has completed.
func (c *Collector) Last() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last, c.have
}

// IsFetchError reports whether err contains a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
