package hashrate

// DefaultFloor is used when no source reports a positive hashrate.
const DefaultFloor = 1_000.0

// MinerRates are trailing averages reported by the local miner, in raw H/s.
type MinerRates struct {
	Raw        float64 `json:"raw"`
	OneMin     float64 `json:"one_min"`
	FifteenMin float64 `json:"fifteen_min"`
}

// ProxyRates are trailing averages reported by the miner proxy, in raw H/s.
type ProxyRates struct {
	OneMin float64 `json:"one_min"`
	TenMin float64 `json:"ten_min"`
}

// Source names which window produced an observed hashrate.
type Source string

const (
	SourceProxy10m Source = "proxy_10m"
	SourceMiner15m Source = "miner_15m"
	SourceMiner1m  Source = "miner_1m"
	SourceMinerRaw Source = "miner_raw"
	SourceDefault  Source = "default"
)

// Observe picks the current hashrate: proxy 10m, then miner 15m, 1m and raw.
// The first positive value wins; fallback is returned when none is positive.
func Observe(proxy ProxyRates, miner MinerRates, fallback float64) (float64, Source) {
	switch {
	case proxy.TenMin > 0:
		return proxy.TenMin, SourceProxy10m
	case miner.FifteenMin > 0:
		return miner.FifteenMin, SourceMiner15m
	case miner.OneMin > 0:
		return miner.OneMin, SourceMiner1m
	case miner.Raw > 0:
		return miner.Raw, SourceMinerRaw
	}
	if fallback <= 0 {
		fallback = DefaultFloor
	}
	return fallback, SourceDefault
}
