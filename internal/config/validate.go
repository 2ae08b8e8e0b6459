package config

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/loykin/xvbd/internal/allocation"
	"github.com/loykin/xvbd/internal/hashrate"
)

var tokenPattern = regexp.MustCompile(`^[0-9]{9}$`)

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Xvb.Token != "" && !tokenPattern.MatchString(c.Xvb.Token) {
		errs = append(errs, errors.New("xvb.token must be 9 digits"))
	}
	if _, err := allocation.ParseKind(c.Xvb.Mode); err != nil {
		errs = append(errs, fmt.Errorf("xvb.mode: %w", err))
	}
	if _, err := allocation.ParseDonationLevel(c.Xvb.DonationLevel); err != nil {
		errs = append(errs, fmt.Errorf("xvb.donation_level: %w", err))
	}
	if _, err := hashrate.ParseUnit(c.Xvb.Metric); err != nil {
		errs = append(errs, fmt.Errorf("xvb.metric: %w", err))
	}
	for _, p := range []struct {
		name string
		proc Process
	}{
		{"node", c.Node.Process},
		{"p2pool", c.P2Pool.Process},
		{"xmrig", c.Xmrig.Process},
		{"xmrig_proxy", c.XmrigProxy.Process},
	} {
		if p.proc.Enabled && p.proc.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path is required when enabled", p.name))
		}
	}
	return errors.Join(errs...)
}

// Warnings lists settings that are valid but leave a feature inactive or
// get clamped.
func (c Config) Warnings() []string {
	var w []string
	if c.P2Pool.Address == "" {
		w = append(w, "p2pool.address is empty; donation stays disabled")
	}
	if c.Xvb.Token == "" {
		w = append(w, "xvb.token is empty; donation stays disabled")
	}
	if c.Xvb.ManualAmountRaw < 0 {
		w = append(w, "xvb.manual_amount_raw is negative; using 0")
	}
	if c.Xmrig.Enabled && c.Xmrig.API == "" {
		w = append(w, "xmrig.api is empty; pool switching is disabled")
	}
	return w
}
