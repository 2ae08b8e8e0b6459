// Package state holds the mutable runtime record shared between the control
// loop and readers such as the HTTP status surface. Every accessor copies in
// or out under the lock; nothing returns a pointer into the guarded data.
package state

import (
	"sync"
	"time"

	"github.com/loykin/xvbd/internal/allocation"
	"github.com/loykin/xvbd/internal/hashrate"
	"github.com/loykin/xvbd/internal/pool"
)

// Stats is the live round and participation record.
type Stats struct {
	Fails       uint64           `json:"fails"`
	Donor1h     float64          `json:"donor_1hr_avg"`
	Donor24h    float64          `json:"donor_24hr_avg"`
	Round       allocation.Round `json:"round_participate"`
	Win         bool             `json:"win_current"`
	CurrentPool pool.Pool        `json:"current_pool"`
	// LastSwitch is zero until the first successful pool switch.
	LastSwitch time.Time `json:"last_switch"`
	Message    string    `json:"msg_indicator"`
}

// SinceSwitch returns the time elapsed since the last pool switch, or zero
// when no switch has happened.
func (s Stats) SinceSwitch(now time.Time) time.Duration {
	if s.LastSwitch.IsZero() {
		return 0
	}
	return now.Sub(s.LastSwitch)
}

// Runtime is the synchronized owner of Settings and Stats.
type Runtime struct {
	mu       sync.Mutex
	settings allocation.Settings
	stats    Stats
	decision allocation.Decision
	decided  bool
}

func NewRuntime(s allocation.Settings) *Runtime {
	r := &Runtime{}
	r.Replace(s)
	return r
}

func (r *Runtime) Settings() allocation.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// Replace swaps in a whole Settings value, clamping numeric fields.
func (r *Runtime) Replace(s allocation.Settings) {
	s.Buffer = allocation.ClampBuffer(s.Buffer)
	s.ManualAmountRaw = allocation.ClampAmount(s.ManualAmountRaw)
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
}

// SetMode replaces the active mode. Other fields are left untouched.
func (r *Runtime) SetMode(k allocation.Kind) {
	r.mu.Lock()
	r.settings.Kind = k
	r.mu.Unlock()
}

func (r *Runtime) SetDonationLevel(l allocation.DonationLevel) {
	r.mu.Lock()
	r.settings.Level = l
	r.mu.Unlock()
}

// SetManual stores a manual amount given in unit u. The amount is kept in
// raw H/s and u becomes the display metric.
func (r *Runtime) SetManual(amount float64, u hashrate.Unit) {
	if !u.Valid() {
		u = hashrate.Hash
	}
	raw := allocation.ClampAmount(hashrate.ToRaw(amount, u))
	r.mu.Lock()
	r.settings.ManualAmountRaw = raw
	r.settings.Metric = u
	r.mu.Unlock()
}

func (r *Runtime) SetBuffer(b int) {
	b = allocation.ClampBuffer(b)
	r.mu.Lock()
	r.settings.Buffer = b
	r.mu.Unlock()
}

func (r *Runtime) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// IncFails bumps the failure counter and returns the new value.
func (r *Runtime) IncFails() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Fails++
	return r.stats.Fails
}

func (r *Runtime) ResetFails() {
	r.mu.Lock()
	r.stats.Fails = 0
	r.mu.Unlock()
}

// ObserveDonor records round status reported by the donation service.
func (r *Runtime) ObserveDonor(round allocation.Round, win bool, avg1h, avg24h float64) {
	r.mu.Lock()
	r.stats.Round = round
	r.stats.Win = win
	r.stats.Donor1h = avg1h
	r.stats.Donor24h = avg24h
	r.mu.Unlock()
}

// SetCurrentPool records a completed switch to p at time at.
func (r *Runtime) SetCurrentPool(p pool.Pool, at time.Time) {
	r.mu.Lock()
	if r.stats.CurrentPool != p {
		r.stats.LastSwitch = at
	}
	r.stats.CurrentPool = p
	r.mu.Unlock()
}

func (r *Runtime) SetMessage(msg string) {
	r.mu.Lock()
	r.stats.Message = msg
	r.mu.Unlock()
}

// SetDecision stores the most recent engine output.
func (r *Runtime) SetDecision(d allocation.Decision) {
	r.mu.Lock()
	r.decision = d
	r.decided = true
	r.mu.Unlock()
}

// Decision returns the most recent engine output and whether one exists.
func (r *Runtime) Decision() (allocation.Decision, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decision, r.decided
}
