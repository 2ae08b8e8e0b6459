// Package tls builds the API server's TLS configuration, generating a
// self-signed certificate on first use when asked to.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	certName = "tls.crt"
	keyName  = "tls.key"
)

// Options configure TLS for the HTTP API. Explicit files win over Dir.
type Options struct {
	Enabled      bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile     string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string `toml:"key_file" mapstructure:"key_file"`
	Dir          string `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool   `toml:"auto_generate" mapstructure:"auto_generate"`
	// MinVersion is "1.2" or "1.3"; anything else means 1.3.
	MinVersion string `toml:"min_version" mapstructure:"min_version"`
}

// Setup returns nil, nil when TLS is disabled.
func Setup(o Options) (*tls.Config, error) {
	if !o.Enabled {
		return nil, nil
	}
	cert, key := o.CertFile, o.KeyFile
	if cert == "" || key == "" {
		if o.Dir == "" {
			return nil, errors.New("tls enabled without cert_file/key_file or dir")
		}
		cert, key = filepath.Join(o.Dir, certName), filepath.Join(o.Dir, keyName)
		if o.AutoGenerate && !exists(cert, key) {
			err := GenerateSelfSigned(SelfSigned{
				Hosts:    []string{"localhost", "127.0.0.1", "::1"},
				ValidFor: 5 * 365 * 24 * time.Hour,
				CertPath: cert,
				KeyPath:  key,
			})
			if err != nil {
				return nil, fmt.Errorf("generate certificate: %w", err)
			}
		}
	}
	if !exists(cert, key) {
		return nil, fmt.Errorf("certificate %s or key %s missing", cert, key)
	}
	return &tls.Config{
		MinVersion:     minVersion(o.MinVersion),
		GetCertificate: reloading(cert, key),
	}, nil
}

// CertPath is the certificate Setup serves, usable as a client trust root
// for self-signed setups.
func CertPath(o Options) string {
	if o.CertFile != "" {
		return o.CertFile
	}
	if o.Dir == "" {
		return ""
	}
	return filepath.Join(o.Dir, certName)
}

func minVersion(v string) uint16 {
	if v == "1.2" {
		return tls.VersionTLS12
	}
	return tls.VersionTLS13
}

// reloading reads the key pair on every handshake so rotated files take
// effect without a restart.
func reloading(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := tls.LoadX509KeyPair(filepath.Clean(certPath), filepath.Clean(keyPath))
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
