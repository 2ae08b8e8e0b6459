//go:build windows

package process

import (
	"os"
	"os/exec"
)

func configureSysProcAttr(_ *exec.Cmd) {}

// terminate has no graceful equivalent on Windows.
func terminate(pid int) error {
	return forceKill(pid)
}

func forceKill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
