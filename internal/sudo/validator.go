package sudo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Validation is a running credential check.
type Validation interface {
	// TryWait reports without blocking whether the check has exited, and
	// whether it exited successfully.
	TryWait() (done, ok bool, err error)
	Kill() error
}

// Validator runs credential checks.
type Validator interface {
	// Invalidate drops any cached elevation.
	Invalidate(ctx context.Context) error
	// Start launches a check and writes secret to its input exactly once.
	Start(ctx context.Context, secret []byte) (Validation, error)
}

// ExecValidator checks credentials with the sudo binary.
type ExecValidator struct {
	Path string // defaults to "sudo"
}

func (v ExecValidator) path() string {
	if v.Path == "" {
		return "sudo"
	}
	return v.Path
}

func (v ExecValidator) Invalidate(ctx context.Context) error {
	// #nosec G204
	return exec.CommandContext(ctx, v.path(), "--reset-timestamp").Run()
}

func (v ExecValidator) Start(_ context.Context, secret []byte) (Validation, error) {
	// #nosec G204
	cmd := exec.Command(v.path(), "--stdin", "--validate")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	ev := &execValidation{cmd: cmd, done: make(chan struct{})}
	go ev.wait()
	werr := writeSecret(stdin, secret)
	if cerr := stdin.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil && !errors.Is(werr, io.ErrClosedPipe) {
		_ = ev.Kill()
		return nil, fmt.Errorf("write secret: %w", werr)
	}
	return ev, nil
}

func writeSecret(w io.Writer, secret []byte) error {
	if _, err := w.Write(secret); err != nil {
		return err
	}
	_, err := w.Write([]byte{'\n'})
	return err
}

type execValidation struct {
	cmd  *exec.Cmd
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (e *execValidation) wait() {
	err := e.cmd.Wait()
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
	close(e.done)
}

func (e *execValidation) TryWait() (bool, bool, error) {
	select {
	case <-e.done:
	default:
		return false, false, nil
	}
	e.mu.Lock()
	err := e.err
	e.mu.Unlock()
	var exitErr *exec.ExitError
	if err == nil {
		return true, true, nil
	}
	if errors.As(err, &exitErr) {
		return true, false, nil
	}
	return true, false, err
}

func (e *execValidation) Kill() error {
	select {
	case <-e.done:
		return nil
	default:
	}
	if err := e.cmd.Process.Kill(); err != nil {
		select {
		case <-e.done:
			return nil
		default:
			return err
		}
	}
	<-e.done
	return nil
}
