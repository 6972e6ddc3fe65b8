// Package httpclient builds the HTTP client used for every call to an
// OpenID Provider.
package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/teemow/oxd/internal/config"
)

// DefaultTimeout applies when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Options configures the outbound client.
type Options struct {
	// Timeout bounds a whole request including reading the body.
	Timeout time.Duration

	// TrustAllCerts disables certificate verification. Development only.
	TrustAllCerts bool

	// TrustStorePath is a PEM bundle of CAs. When set it replaces the
	// system pool.
	TrustStorePath string
}

// OptionsFromConfig maps daemon configuration to client options.
func OptionsFromConfig(conf config.Configuration) Options {
	return Options{
		Timeout:        conf.Timeout(),
		TrustAllCerts:  conf.TrustAllCerts,
		TrustStorePath: conf.TrustStorePath,
	}
}

// New creates an HTTP client according to opts.
func New(opts Options) (*http.Client, error) {
	if opts.TrustAllCerts && opts.TrustStorePath != "" {
		return nil, errors.New("trust_all_certs and trust_store_path are mutually exclusive")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.DialContext = (&net.Dialer{
		Timeout:   opts.Timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	switch {
	case opts.TrustAllCerts:
		tlsConfig.InsecureSkipVerify = true // #nosec G402 -- explicitly requested by trust_all_certs
	case opts.TrustStorePath != "":
		pool, err := loadTrustStore(opts.TrustStorePath)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}
	transport.TLSClientConfig = tlsConfig

	return &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	}, nil
}

func loadTrustStore(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path) // #nosec G304 -- path comes from the daemon configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read trust store: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("failed to parse trust store %s: no PEM certificates found", path)
	}
	return pool, nil
}

// IsTimeout reports whether err was caused by a request exceeding its deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
