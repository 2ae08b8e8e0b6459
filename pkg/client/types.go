package client

import "time"

// ModeRequest changes allocation settings; nil fields are left unchanged.
type ModeRequest struct {
	Mode          *string  `json:"mode,omitempty"`
	DonationLevel *string  `json:"donation_level,omitempty"`
	ManualAmount  *float64 `json:"manual_amount,omitempty"`
	Metric        *string  `json:"metric,omitempty"`
	Buffer        *int     `json:"buffer,omitempty"`
}

// SudoRequest submits a credential for testing.
type SudoRequest struct {
	Password string `json:"password"`
	Signal   string `json:"signal,omitempty"`
	Hide     *bool  `json:"hide,omitempty"`
}

type Settings struct {
	Mode            string  `json:"mode"`
	DonationLevel   string  `json:"donation_level"`
	Metric          string  `json:"metric"`
	ManualAmountRaw float64 `json:"manual_amount_raw"`
	Buffer          int     `json:"buffer"`
}

type Round struct {
	Participating bool   `json:"participating"`
	Kind          string `json:"kind"`
}

type Stats struct {
	Fails       uint64    `json:"fails"`
	Donor1h     float64   `json:"donor_1hr_avg"`
	Donor24h    float64   `json:"donor_24hr_avg"`
	Round       Round     `json:"round_participate"`
	Win         bool      `json:"win_current"`
	CurrentPool string    `json:"current_pool"`
	LastSwitch  time.Time `json:"last_switch"`
	Message     string    `json:"msg_indicator"`
}

type Decision struct {
	Mode           string        `json:"mode"`
	Observed       float64       `json:"observed"`
	Source         string        `json:"source"`
	Donation       float64       `json:"donation"`
	Share          float64       `json:"share"`
	XvbFor         time.Duration `json:"xvb_for"`
	Pool           string        `json:"pool"`
	SwitchRequired bool          `json:"switch_required"`
}

// ProcessStatus is one supervised process.
type ProcessStatus struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Desired   string    `json:"desired"`
	LastErr   string    `json:"last_error,omitempty"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitErr   string    `json:"exit_error,omitempty"`
	Elevated  bool      `json:"elevated"`
}

// SudoState is the credential test state. The secret itself is never returned.
type SudoState struct {
	Testing   bool   `json:"testing"`
	Success   bool   `json:"success"`
	Hide      bool   `json:"hide"`
	Message   string `json:"msg"`
	Signal    string `json:"signal"`
	SecretLen int    `json:"secret_len"`
}

type Status struct {
	Phase     string          `json:"phase"`
	Settings  Settings        `json:"settings"`
	Stats     Stats           `json:"stats"`
	Decision  *Decision       `json:"decision,omitempty"`
	Processes []ProcessStatus `json:"processes"`
	Sudo      SudoState       `json:"sudo"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
