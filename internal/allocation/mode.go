package allocation

import (
	"fmt"
	"math"
	"strings"

	"github.com/loykin/xvbd/internal/hashrate"
)

// Kind selects how hashrate is split between the local pool and the donation service.
type Kind int

const (
	Auto Kind = iota
	Hero
	ManualXvb
	ManualP2pool
	ManualDonationLevel
)

func (k Kind) String() string {
	switch k {
	case Auto:
		return "Auto"
	case Hero:
		return "Hero"
	case ManualXvb:
		return "Manual XvB"
	case ManualP2pool:
		return "Manual P2pool"
	case ManualDonationLevel:
		return "Manual Donation Level"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind accepts the display names as well as snake/kebab variants.
func ParseKind(s string) (Kind, error) {
	n := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch n {
	case "auto":
		return Auto, nil
	case "hero":
		return Hero, nil
	case "manualxvb", "xvb":
		return ManualXvb, nil
	case "manualp2pool", "p2pool":
		return ManualP2pool, nil
	case "manualdonationlevel", "donationlevel", "level":
		return ManualDonationLevel, nil
	}
	return Auto, fmt.Errorf("unknown mode %q", s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Settings is the flat record the configuration and display layers edit.
// Fields irrelevant to Kind are kept, not cleared.
type Settings struct {
	Kind            Kind          `json:"mode"`
	Level           DonationLevel `json:"donation_level"`
	Metric          hashrate.Unit `json:"metric"`
	ManualAmountRaw float64       `json:"manual_amount_raw"`
	Buffer          int           `json:"buffer"`
}

// ManualAmount returns the manual amount expressed in the selected metric.
func (s Settings) ManualAmount() float64 {
	return hashrate.FromRaw(s.ManualAmountRaw, metricOrHash(s.Metric))
}

// Mode is the decoded form of Settings: one case per Kind carrying only
// the fields that case uses.
type Mode interface {
	Kind() Kind
}

type AutoMode struct{ Buffer int }

type HeroMode struct{ Buffer int }

// ManualXvbMode donates AmountRaw H/s.
type ManualXvbMode struct{ AmountRaw float64 }

// ManualP2poolMode keeps ReservedRaw H/s on the local pool and donates the rest.
type ManualP2poolMode struct{ ReservedRaw float64 }

type ManualLevelMode struct{ Level DonationLevel }

func (AutoMode) Kind() Kind         { return Auto }
func (HeroMode) Kind() Kind         { return Hero }
func (ManualXvbMode) Kind() Kind    { return ManualXvb }
func (ManualP2poolMode) Kind() Kind { return ManualP2pool }
func (ManualLevelMode) Kind() Kind  { return ManualDonationLevel }

// Decode turns Settings into the Mode case for its Kind, clamping numeric
// inputs into range.
func Decode(s Settings) Mode {
	switch s.Kind {
	case Hero:
		return HeroMode{Buffer: ClampBuffer(s.Buffer)}
	case ManualXvb:
		return ManualXvbMode{AmountRaw: ClampAmount(s.ManualAmountRaw)}
	case ManualP2pool:
		return ManualP2poolMode{ReservedRaw: ClampAmount(s.ManualAmountRaw)}
	case ManualDonationLevel:
		return ManualLevelMode{Level: s.Level}
	default:
		return AutoMode{Buffer: ClampBuffer(s.Buffer)}
	}
}

// ClampBuffer bounds the buffer percentage to [-100, 100].
func ClampBuffer(b int) int {
	return max(-100, min(100, b))
}

// ClampAmount bounds a manual amount to be non-negative.
func ClampAmount(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

func metricOrHash(u hashrate.Unit) hashrate.Unit {
	if u.Valid() {
		return u
	}
	return hashrate.Hash
}
