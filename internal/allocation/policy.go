package allocation

// AutoInput is what the Auto policy sees. Hashrates are raw H/s.
type AutoInput struct {
	Observed float64 // current hashrate
	Floor    float64 // buffered local participation floor
	Spare    float64 // Observed - Floor, never negative
	Round    Round
	Win      bool
	Donor1h  float64
	Donor24h float64
}

// AutoPolicy returns the donation hashrate for Auto mode. The engine clamps
// the result to [0, Spare].
type AutoPolicy func(AutoInput) float64

// DefaultAutoPolicy keeps everything local until the user participates in a
// round. While winning it donates just enough for the highest reachable
// round kind; when not winning it donates all spare hashrate.
func DefaultAutoPolicy(in AutoInput) float64 {
	if !in.Round.Participating || in.Spare <= 0 {
		return 0
	}
	if !in.Win {
		return in.Spare
	}
	target := 0.0
	for _, l := range Levels {
		if l.Threshold() <= in.Spare {
			target = l.Threshold()
		}
	}
	if target == 0 {
		return in.Spare
	}
	// A 24h average lagging the tier adds its deficit so the average catches up.
	if in.Donor24h >= target {
		return min(target, in.Spare)
	}
	return min(target+(target-in.Donor24h), in.Spare)
}
