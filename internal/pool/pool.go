package pool

import "fmt"

// Pool identifies where the miner is pointed.
type Pool int

const (
	None Pool = iota
	P2Pool
	XvbEU
	XvbNA
)

func (p Pool) String() string {
	switch p {
	case P2Pool:
		return "P2Pool"
	case XvbEU:
		return "XvB EU"
	case XvbNA:
		return "XvB NA"
	default:
		return "No where"
	}
}

// IsXvb reports whether p is one of the donation service endpoints.
func (p Pool) IsXvb() bool { return p == XvbEU || p == XvbNA }

// MarshalText lets the pool appear by name in JSON status payloads.
func (p Pool) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Endpoints holds the connection details for each pool.
type Endpoints struct {
	P2Pool  string // local stratum, host:port
	XvbEU   string
	XvbNA   string
	Address string // payout address, sent as stratum user
	Token   string // donation token, sent as stratum password on XvB pools
	Rig     string
}

// DefaultXvbEU and DefaultXvbNA are the public donation service stratum endpoints.
const (
	DefaultXvbEU = "eu.xmrvsbeast.com:4247"
	DefaultXvbNA = "na.xmrvsbeast.com:4247"
)

// Target is the stratum configuration for one pool.
type Target struct {
	URL  string `json:"url"`
	User string `json:"user"`
	Pass string `json:"pass"`
	Rig  string `json:"rig-id,omitempty"`
}

// Target resolves p into the stratum parameters the miner needs.
func (e Endpoints) Target(p Pool) (Target, error) {
	switch p {
	case P2Pool:
		// P2Pool pays the address it was started with; the stratum user only names the rig.
		return Target{URL: e.P2Pool, User: e.Rig, Pass: ""}, nil
	case XvbEU:
		return Target{URL: e.XvbEU, User: e.Address, Pass: e.Token, Rig: e.Rig}, nil
	case XvbNA:
		return Target{URL: e.XvbNA, User: e.Address, Pass: e.Token, Rig: e.Rig}, nil
	}
	return Target{}, fmt.Errorf("no endpoint for pool %s", p)
}

// SelectXvb chooses the donation endpoint. A manual choice wins; otherwise EU.
func SelectXvb(manualEnabled, manualEU bool) Pool {
	if manualEnabled && !manualEU {
		return XvbNA
	}
	return XvbEU
}
