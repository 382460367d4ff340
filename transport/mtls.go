package transport

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// NewMTLSClient returns an HTTP client presenting cert on every handshake.
func NewMTLSClient(cert *tls.Certificate, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultRESTClientTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cert != nil {
		tlsConfig.Certificates = []tls.Certificate{*cert}
	}
	transport.TLSClientConfig = tlsConfig
	return &http.Client{Timeout: timeout, Transport: transport}
}

// LoadClientCertificate reads a PEM certificate and key pair from disk.
func LoadClientCertificate(certPath string, keyPath string) (*tls.Certificate, error) {
	certPath = strings.TrimSpace(certPath)
	keyPath = strings.TrimSpace(keyPath)
	if certPath == "" || keyPath == "" {
		return nil, fmt.Errorf("transport: client certificate and key paths are required")
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("transport: load client certificate: %w", err)
	}
	return &cert, nil
}
