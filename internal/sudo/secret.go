package sudo

import (
	"errors"
	"log/slog"
)

// SecretCapacity is the reserved size of a secret buffer.
const SecretCapacity = 256

var ErrSecretTooLong = errors.New("secret exceeds buffer capacity")

// Secret is a fixed-capacity byte buffer that is zeroed on Wipe. It never
// grows, so no copy of its contents is left behind by reallocation.
type Secret struct {
	buf []byte
}

func NewSecret() *Secret {
	return &Secret{buf: make([]byte, 0, SecretCapacity)}
}

// Set replaces the contents with p. The caller should clear p afterwards.
func (s *Secret) Set(p []byte) error {
	if len(p) > cap(s.buf) {
		return ErrSecretTooLong
	}
	clear(s.buf[:cap(s.buf)])
	s.buf = append(s.buf[:0], p...)
	return nil
}

// Bytes exposes the secret for a single write. The slice is invalid after Wipe.
func (s *Secret) Bytes() []byte { return s.buf }

func (s *Secret) Len() int { return len(s.buf) }

func (s *Secret) Cap() int { return cap(s.buf) }

// Wipe swaps in a fresh empty buffer of the same capacity and zeroes the old one.
func (s *Secret) Wipe() {
	old := s.buf
	s.buf = make([]byte, 0, cap(old))
	clear(old[:cap(old)])
}

func (s *Secret) String() string { return "[redacted]" }

func (s *Secret) LogValue() slog.Value { return slog.StringValue("[redacted]") }
