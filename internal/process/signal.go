package process

import (
	"fmt"
	"strings"
)

// Signal is a desired action for a supervised process.
type Signal int

const (
	SignalNone Signal = iota
	SignalStart
	SignalStop
	SignalRestart
)

func (s Signal) String() string {
	switch s {
	case SignalNone:
		return "none"
	case SignalStart:
		return "start"
	case SignalStop:
		return "stop"
	case SignalRestart:
		return "restart"
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

func ParseSignal(s string) (Signal, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return SignalNone, nil
	case "start":
		return SignalStart, nil
	case "stop":
		return SignalStop, nil
	case "restart":
		return SignalRestart, nil
	}
	return SignalNone, fmt.Errorf("unknown signal %q", s)
}

func (s Signal) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Signal) UnmarshalText(b []byte) error {
	v, err := ParseSignal(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// State is the observed lifecycle state of a supervised process.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
