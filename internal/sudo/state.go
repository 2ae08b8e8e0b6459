package sudo

import (
	"sync"

	"github.com/loykin/xvbd/internal/process"
)

const (
	MsgTesting   = "Testing password..."
	MsgCorrect   = "Correct password!"
	MsgIncorrect = "Incorrect password! (or sudo timeout)"
)

// State is the credential-test record shared with the display surface.
type State struct {
	mu      sync.Mutex
	testing bool
	success bool
	hide    bool
	msg     string
	secret  *Secret
	signal  process.Signal
}

// Snapshot is a copy of State without the secret.
type Snapshot struct {
	Testing   bool           `json:"testing"`
	Success   bool           `json:"success"`
	Hide      bool           `json:"hide"`
	Message   string         `json:"msg"`
	Signal    process.Signal `json:"signal"`
	SecretLen int            `json:"secret_len"`
}

func NewState() *State {
	return &State{hide: true, secret: NewSecret()}
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Testing:   s.testing,
		Success:   s.success,
		Hide:      s.hide,
		Message:   s.msg,
		Signal:    s.signal,
		SecretLen: s.secret.Len(),
	}
}

// SetSecret copies p into the secret buffer and zeroes p.
func (s *State) SetSecret(p []byte) error {
	defer clear(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.testing {
		return ErrTestInProgress
	}
	return s.secret.Set(p)
}

// SetSignal records the action to apply once a credential test succeeds.
func (s *State) SetSignal(sig process.Signal) {
	s.mu.Lock()
	s.signal = sig
	s.mu.Unlock()
}

func (s *State) SetHide(hide bool) {
	s.mu.Lock()
	s.hide = hide
	s.mu.Unlock()
}

// Reset clears message and flags and wipes the secret. It is a no-op while
// a test is running.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.testing {
		return
	}
	s.success = false
	s.msg = ""
	s.signal = process.SignalNone
	s.secret.Wipe()
}

// Wipe zeroes the secret buffer.
func (s *State) Wipe() {
	s.mu.Lock()
	s.secret.Wipe()
	s.mu.Unlock()
}

// begin marks a test as running and hands the caller the current secret,
// leaving a fresh buffer in its place.
func (s *State) begin() (*Secret, process.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.testing {
		return nil, process.SignalNone, ErrTestInProgress
	}
	s.testing = true
	s.success = false
	s.msg = MsgTesting
	sec := s.secret
	s.secret = NewSecret()
	return sec, s.signal, nil
}

func (s *State) setResult(success bool, msg string) {
	s.mu.Lock()
	s.success = success
	s.msg = msg
	s.mu.Unlock()
}

func (s *State) finish() {
	s.mu.Lock()
	s.signal = process.SignalNone
	s.testing = false
	s.mu.Unlock()
}
