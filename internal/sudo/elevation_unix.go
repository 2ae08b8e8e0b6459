//go:build !windows

package sudo

import "os"

// elevationRequired is false when already running as root.
func elevationRequired() bool {
	return os.Geteuid() != 0
}
