package hashrate

import (
	"fmt"
	"strings"
)

// Unit is a linear hash/s scale. The numeric value of a Unit is its factor
// relative to one hash per second.
type Unit int64

const (
	Hash Unit = 1
	Kilo Unit = 1_000
	Mega Unit = 1_000_000
	Giga Unit = 1_000_000_000
)

// Factor returns the number of hashes per second in one Unit.
func (u Unit) Factor() float64 { return float64(u) }

func (u Unit) String() string {
	switch u {
	case Hash:
		return "Hash"
	case Kilo:
		return "Kilo"
	case Mega:
		return "Mega"
	case Giga:
		return "Giga"
	default:
		return fmt.Sprintf("Unit(%d)", int64(u))
	}
}

// Suffix is the short display form used next to values, e.g. "kH/s".
func (u Unit) Suffix() string {
	switch u {
	case Kilo:
		return "kH/s"
	case Mega:
		return "MH/s"
	case Giga:
		return "GH/s"
	default:
		return "H/s"
	}
}

// Valid reports whether u is one of the known units.
func (u Unit) Valid() bool {
	switch u {
	case Hash, Kilo, Mega, Giga:
		return true
	}
	return false
}

// ParseUnit accepts the unit name case-insensitively ("hash", "Kilo", "MEGA", "giga").
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hash", "h":
		return Hash, nil
	case "kilo", "k":
		return Kilo, nil
	case "mega", "m":
		return Mega, nil
	case "giga", "g":
		return Giga, nil
	}
	return 0, fmt.Errorf("unknown hashrate unit %q", s)
}

func (u Unit) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

func (u *Unit) UnmarshalText(b []byte) error {
	v, err := ParseUnit(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Convert rescales v from one unit to another. The product is taken before
// the division so that whole-unit inputs convert without accumulated error.
func Convert(v float64, from, to Unit) float64 {
	if from == to {
		return v
	}
	return v * from.Factor() / to.Factor()
}

// ToRaw converts an amount expressed in u to raw hash/s.
func ToRaw(v float64, u Unit) float64 { return Convert(v, u, Hash) }

// FromRaw converts raw hash/s to an amount expressed in u.
func FromRaw(raw float64, u Unit) float64 { return Convert(raw, Hash, u) }
