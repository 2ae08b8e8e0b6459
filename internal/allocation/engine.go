package allocation

import (
	"time"

	"github.com/loykin/xvbd/internal/hashrate"
	"github.com/loykin/xvbd/internal/pool"
)

// DefaultCycle is the period over which a donation share is realised by
// pointing the miner at the donation pool for part of the time.
const DefaultCycle = 10 * time.Minute

// Input collects everything one decision depends on.
type Input struct {
	Settings Settings
	Proxy    hashrate.ProxyRates
	Miner    hashrate.MinerRates
	// LocalFloor is the hashrate needed to keep a share in the local pool window.
	LocalFloor float64
	Round      Round
	Win        bool
	Donor1h    float64
	Donor24h   float64
	// DonationEnabled is false when no token is configured or the donation
	// service is unreachable; everything then stays local.
	DonationEnabled bool
	XvbPool         pool.Pool
	CurrentPool     pool.Pool
	// Elapsed is the time since the allocation cycle started.
	Elapsed time.Duration
}

// Decision is the engine output.
type Decision struct {
	Mode           Kind            `json:"mode"`
	Observed       float64         `json:"observed"`
	Source         hashrate.Source `json:"source"`
	Donation       float64         `json:"donation"`
	Share          float64         `json:"share"`
	XvbFor         time.Duration   `json:"xvb_for"`
	Pool           pool.Pool       `json:"pool"`
	SwitchRequired bool            `json:"switch_required"`
}

// Engine turns inputs into a donation target and pool. It holds no mutable
// state; equal inputs give equal decisions.
type Engine struct {
	Cycle time.Duration
	Auto  AutoPolicy
}

// NewEngine returns an engine with the default cycle and auto policy.
func NewEngine() *Engine {
	return &Engine{Cycle: DefaultCycle, Auto: DefaultAutoPolicy}
}

// Decide computes the decision for in.
func (e *Engine) Decide(in Input) Decision {
	observed, src := hashrate.Observe(in.Proxy, in.Miner, hashrate.DefaultFloor)
	mode := Decode(in.Settings)

	donation := 0.0
	if in.DonationEnabled {
		donation = e.donation(mode, observed, in)
	}
	donation = max(0, min(donation, observed))

	share := 0.0
	if observed > 0 {
		share = donation / observed
	}
	cycle := e.cycle()
	xvbFor := (time.Duration(share * float64(cycle))).Round(time.Second)

	target := slice(xvbFor, elapsedInCycle(in.Elapsed, cycle), in.XvbPool)
	return Decision{
		Mode:           mode.Kind(),
		Observed:       observed,
		Source:         src,
		Donation:       donation,
		Share:          share,
		XvbFor:         xvbFor,
		Pool:           target,
		SwitchRequired: target != in.CurrentPool,
	}
}

// Reslice keeps prev's allocation and resolves its pool for the current
// position in the cycle. It serves cycles where fresh inputs are missing.
func (e *Engine) Reslice(prev Decision, xvb pool.Pool, elapsed time.Duration, current pool.Pool) Decision {
	prev.Pool = slice(prev.XvbFor, elapsedInCycle(elapsed, e.cycle()), xvb)
	prev.SwitchRequired = prev.Pool != current
	return prev
}

// slice spends the first xvbFor of each cycle on the donation pool.
func slice(xvbFor, inCycle time.Duration, xvb pool.Pool) pool.Pool {
	if xvbFor <= 0 || inCycle >= xvbFor {
		return pool.P2Pool
	}
	if !xvb.IsXvb() {
		return pool.XvbEU
	}
	return xvb
}

func (e *Engine) donation(mode Mode, observed float64, in Input) float64 {
	switch m := mode.(type) {
	case HeroMode:
		return spare(observed, bufferedFloor(in.LocalFloor, m.Buffer))
	case AutoMode:
		floor := bufferedFloor(in.LocalFloor, m.Buffer)
		sp := spare(observed, floor)
		policy := e.Auto
		if policy == nil {
			policy = DefaultAutoPolicy
		}
		d := policy(AutoInput{
			Observed: observed,
			Floor:    floor,
			Spare:    sp,
			Round:    in.Round,
			Win:      in.Win,
			Donor1h:  in.Donor1h,
			Donor24h: in.Donor24h,
		})
		return max(0, min(d, sp))
	case ManualXvbMode:
		return m.AmountRaw
	case ManualP2poolMode:
		return observed - min(m.ReservedRaw, observed)
	case ManualLevelMode:
		return observed * m.Level.Percent() / 100
	}
	return 0
}

func (e *Engine) cycle() time.Duration {
	if e.Cycle <= 0 {
		return DefaultCycle
	}
	return e.Cycle
}

// bufferedFloor shifts the local floor by buffer percent: -100 removes it,
// +100 doubles it.
func bufferedFloor(floor float64, buffer int) float64 {
	if floor <= 0 {
		return 0
	}
	return floor * (1 + float64(ClampBuffer(buffer))/100)
}

func spare(observed, floor float64) float64 {
	return max(0, observed-floor)
}

func elapsedInCycle(elapsed, cycle time.Duration) time.Duration {
	if elapsed < 0 {
		return 0
	}
	return elapsed % cycle
}
