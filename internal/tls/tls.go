// Package tls builds the STARTTLS configuration of the capture listener.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// defaultValidity is the lifetime of generated certificates.
const defaultValidity = 365 * 24 * time.Hour

// ErrIncompletePair is returned when only one of the certificate and key
// files is configured.
var ErrIncompletePair = errors.New("both certificate and key file are required")

// Options selects where the listener certificate comes from.
type Options struct {
	CertFile string
	KeyFile  string
	// Hosts are the names and addresses a generated certificate covers.
	// localhost and 127.0.0.1 are always included.
	Hosts []string
}

// SelfSigned generates an in-memory ECDSA P-256 certificate for hosts.
// The first host becomes the common name.
func SelfSigned(hosts ...string) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}

	hosts = withLoopback(hosts)
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hosts[0], Organization: []string{"smtp-queue-lite"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(defaultValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("creating certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	return &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// withLoopback returns hosts with empty entries removed and the loopback
// names appended, keeping the first occurrence of each.
func withLoopback(hosts []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, h := range append(hosts, "localhost", "127.0.0.1") {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// Config loads the configured key pair, or generates a self-signed one when
// no files are set.
func Config(opts Options) (*tls.Config, error) {
	var cert tls.Certificate

	switch {
	case opts.CertFile != "" && opts.KeyFile != "":
		if _, err := os.Stat(opts.CertFile); err != nil {
			return nil, fmt.Errorf("certificate file: %w", err)
		}
		if _, err := os.Stat(opts.KeyFile); err != nil {
			return nil, fmt.Errorf("key file: %w", err)
		}
		loaded, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading key pair: %w", err)
		}
		cert = loaded
	case opts.CertFile != "" || opts.KeyFile != "":
		return nil, ErrIncompletePair
	default:
		generated, err := SelfSigned(opts.Hosts...)
		if err != nil {
			return nil, err
		}
		cert = *generated
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
