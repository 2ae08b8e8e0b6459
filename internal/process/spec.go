package process

import (
	"errors"
	"os/exec"

	"github.com/loykin/xvbd/internal/logger"
)

// Spec describes how to launch one external process.
type Spec struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Args    []string `json:"args"`
	WorkDir string   `json:"work_dir"`
	Env     []string `json:"env"`
	// Elevated runs the command through "sudo --non-interactive". It relies
	// on a cached credential from a prior successful credential test.
	Elevated bool                 `json:"elevated"`
	Output   logger.ProcessOutput `json:"output"`
}

var ErrNoPath = errors.New("process path is empty")

// Command builds the *exec.Cmd for s.
func (s Spec) Command() (*exec.Cmd, error) {
	if s.Path == "" {
		return nil, ErrNoPath
	}
	var cmd *exec.Cmd
	if s.Elevated {
		args := append([]string{"--non-interactive", "--", s.Path}, s.Args...)
		// #nosec G204
		cmd = exec.Command("sudo", args...)
	} else {
		// #nosec G204
		cmd = exec.Command(s.Path, s.Args...)
	}
	cmd.Dir = s.WorkDir
	if len(s.Env) > 0 {
		cmd.Env = append(cmd.Environ(), s.Env...)
	}
	configureSysProcAttr(cmd)
	return cmd, nil
}
