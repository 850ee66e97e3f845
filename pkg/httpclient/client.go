// Package httpclient builds the HTTP client shared by the enrichment backends.
package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Options configure New. The zero value gives a client trusting the system roots.
type Options struct {
	// CAFile is a PEM bundle added to the system roots, for TLS-intercepting proxies.
	CAFile string
	// Timeout caps a whole exchange. Per-request deadlines come from the caller's context;
	// this only bounds requests made without one.
	Timeout time.Duration
}

// New returns an http.Client configured by opts.
func New(opts Options) (*http.Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if caFile := strings.TrimSpace(opts.CAFile); caFile != "" {
		b, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse CA file %s: no certs found", caFile)
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{Transport: tr, Timeout: timeout}, nil
}

// NormalizeLoopback rewrites a "localhost" or "::1" host to 127.0.0.1, keeping the port.
// Local mock servers often bind only to IPv4 loopback while Go may resolve localhost to ::1
// first. Empty input is returned unchanged.
func NormalizeLoopback(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	host := strings.TrimSpace(u.Hostname())
	if host == "localhost" || host == "::1" {
		if port := strings.TrimSpace(u.Port()); port != "" {
			u.Host = "127.0.0.1:" + port
		} else {
			u.Host = "127.0.0.1"
		}
	}
	return u.String(), nil
}
