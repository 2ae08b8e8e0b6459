package allocation

import (
	"fmt"
	"strings"
)

// DonationLevel is an ordered donation tier. The same tiers name the kind of
// round a participant is in on the donation service.
type DonationLevel int

const (
	Donor DonationLevel = iota
	DonorVIP
	DonorWhale
	DonorMega
)

// Levels lists the tiers from lowest to highest.
var Levels = []DonationLevel{Donor, DonorVIP, DonorWhale, DonorMega}

func (l DonationLevel) String() string {
	switch l {
	case Donor:
		return "Donor"
	case DonorVIP:
		return "Donor VIP"
	case DonorWhale:
		return "Donor Whale"
	case DonorMega:
		return "Donor Mega"
	default:
		return fmt.Sprintf("DonationLevel(%d)", int(l))
	}
}

// Percent is the share of the observed hashrate donated in the manual
// donation-level mode.
func (l DonationLevel) Percent() float64 {
	switch l {
	case DonorVIP:
		return 25
	case DonorWhale:
		return 50
	case DonorMega:
		return 100
	default:
		return 10
	}
}

// Threshold is the donated hashrate (raw H/s) the donation service expects
// for a round of this kind.
func (l DonationLevel) Threshold() float64 {
	switch l {
	case DonorVIP:
		return 10_000
	case DonorWhale:
		return 100_000
	case DonorMega:
		return 1_000_000
	default:
		return 1_000
	}
}

// ParseDonationLevel accepts "donor", "donor_vip", "DonorVIP", "vip", ...
func ParseDonationLevel(s string) (DonationLevel, error) {
	n := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch n {
	case "donor":
		return Donor, nil
	case "donorvip", "vip":
		return DonorVIP, nil
	case "donorwhale", "whale":
		return DonorWhale, nil
	case "donormega", "mega":
		return DonorMega, nil
	}
	return Donor, fmt.Errorf("unknown donation level %q", s)
}

func (l DonationLevel) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *DonationLevel) UnmarshalText(b []byte) error {
	v, err := ParseDonationLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Round is the participation status for the active donation round:
// either not participating, or participating with a tier kind.
type Round struct {
	Participating bool          `json:"participating"`
	Kind          DonationLevel `json:"kind"`
}

// NotParticipating is the zero round.
var NotParticipating = Round{}

// Participating builds a round of kind k.
func Participating(k DonationLevel) Round { return Round{Participating: true, Kind: k} }

func (r Round) String() string {
	if !r.Participating {
		return "None"
	}
	return r.Kind.String()
}
