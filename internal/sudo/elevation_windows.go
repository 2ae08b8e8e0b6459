//go:build windows

package sudo

func elevationRequired() bool { return false }
