// Package logger configures the daemon's slog output and the rotating files
// that capture supervised process stdout and stderr.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Rotation holds lumberjack rotation settings.
type Rotation struct {
	MaxSizeMB  int  `json:"max_size_mb" mapstructure:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int  `json:"max_backups" mapstructure:"max_backups" toml:"max_backups"`
	MaxAgeDays int  `json:"max_age_days" mapstructure:"max_age_days" toml:"max_age_days"`
	Compress   bool `json:"compress" mapstructure:"compress" toml:"compress"`
}

func (r Rotation) writer(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(r.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(r.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(r.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   r.Compress,
	}
}

// Options configures the daemon logger.
type Options struct {
	Level  string `json:"level" mapstructure:"level" toml:"level"`    // debug, info, warn, error
	Format string `json:"format" mapstructure:"format" toml:"format"` // text, json, color
	// File, when set, receives log output instead of stderr.
	File     string   `json:"file" mapstructure:"file" toml:"file"`
	Rotation Rotation `json:"rotation" mapstructure:"rotation" toml:"rotation"`
}

// New builds a logger from opts. The returned closer releases the log file,
// if any.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f := opts.Rotation.writer(opts.File)
		w, closer = f, f
	}
	h, err := NewHandler(w, opts.Format, &slog.HandlerOptions{Level: level})
	if err != nil {
		return nil, nil, err
	}
	return slog.New(h), closer, nil
}

// Setup builds a logger from opts and installs it as the slog default.
func Setup(opts Options) (io.Closer, error) {
	l, closer, err := New(opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l)
	return closer, nil
}

// NewHandler returns the handler for format.
func NewHandler(w io.Writer, format string, opts *slog.HandlerOptions) (slog.Handler, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "color":
		return NewColorTextHandler(w, opts), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// ProcessOutput describes where a supervised process writes stdout/stderr.
// With Dir set, files are Dir/<name>.stdout.log and Dir/<name>.stderr.log.
type ProcessOutput struct {
	Dir      string   `json:"dir" mapstructure:"dir" toml:"dir"`
	Rotation Rotation `json:"rotation" mapstructure:"rotation" toml:"rotation"`
}

// Writers returns rotating writers for the named process, or nil writers
// when no directory is configured.
func (c ProcessOutput) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	if c.Dir == "" {
		return nil, nil, nil
	}
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("create process log dir: %w", err)
	}
	out := c.Rotation.writer(filepath.Join(c.Dir, name+".stdout.log"))
	errw := c.Rotation.writer(filepath.Join(c.Dir, name+".stderr.log"))
	return out, errw, nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
