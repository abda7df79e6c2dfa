// Package tls builds the TLS settings of the control API.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	certName = "tls.crt"
	keyName  = "tls.key"
)

// Options configures TLS for the control API.
type Options struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	// Dir holds tls.crt and tls.key. With SelfSigned set a pair is generated
	// there when missing.
	Dir        string   `mapstructure:"dir"`
	SelfSigned bool     `mapstructure:"self_signed"`
	Hosts      []string `mapstructure:"hosts"`
	MinVersion string   `mapstructure:"min_version"`
}

// Validate checks the options without touching the filesystem.
func (o Options) Validate() error {
	if !o.Enabled {
		return nil
	}
	if _, err := parseVersion(o.MinVersion); err != nil {
		return err
	}
	if (o.CertFile == "") != (o.KeyFile == "") {
		return errors.New("tls: cert_file and key_file must be set together")
	}
	if o.CertFile == "" && o.Dir == "" {
		return errors.New("tls: enabled without cert_file/key_file or dir")
	}
	return nil
}

// paths returns the certificate and key locations.
func (o Options) paths() (string, string) {
	if o.CertFile != "" {
		return o.CertFile, o.KeyFile
	}
	return filepath.Join(o.Dir, certName), filepath.Join(o.Dir, keyName)
}

func parseVersion(v string) (uint16, error) {
	switch v {
	case "", "1.3", "tls1.3", "TLS1.3":
		return tls.VersionTLS13, nil
	case "1.2", "tls1.2", "TLS1.2":
		return tls.VersionTLS12, nil
	}
	return 0, fmt.Errorf("tls: unsupported min_version %q", v)
}

// ServerConfig returns the listener config, or nil when TLS is disabled. The
// key pair is read on every handshake so rotated files apply without a
// restart.
func ServerConfig(o Options) (*tls.Config, error) {
	if !o.Enabled {
		return nil, nil
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	minVer, _ := parseVersion(o.MinVersion)
	certPath, keyPath := o.paths()
	if o.SelfSigned && !exists(certPath, keyPath) {
		if err := GenerateSelfSigned(certPath, keyPath, o.Hosts, defaultValidity); err != nil {
			return nil, err
		}
	}
	// fail at startup rather than on the first client
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("tls: load key pair: %w", err)
	}
	getCert := func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
	return &tls.Config{MinVersion: minVer, GetCertificate: getCert}, nil
}

// ClientConfig trusts the PEM certificates in caFile, typically the
// self-signed tls.crt of the daemon.
func ClientConfig(caFile string) (*tls.Config, error) {
	// #nosec G304 -- operator-supplied path
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("tls: read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("tls: no certificates in %s", caFile)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
