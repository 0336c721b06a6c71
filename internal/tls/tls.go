// Package tls builds the server TLS configuration for the dispatch service.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"

	"github.com/shineum/bulkmail/internal/config"
)

// selfSignedValidity is the lifetime of generated certificates.
const selfSignedValidity = 90 * 24 * time.Hour

// Source describes where the serving certificate came from.
type Source string

const (
	SourceNone       Source = "none"
	SourceFiles      Source = "files"
	SourceSelfSigned Source = "self-signed"
)

// ServerConfig returns the TLS configuration for cfg. It returns nil and
// SourceNone when TLS is disabled. With TLS enabled and no certificate
// files, a self-signed certificate is generated for hosts.
func ServerConfig(cfg config.TLSConfig, hosts ...string) (*tls.Config, Source, error) {
	if !cfg.Enabled {
		return nil, SourceNone, nil
	}

	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, SourceNone, errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	source := SourceFiles
	var cert tls.Certificate
	if cfg.CertFile != "" {
		loaded, err := loadKeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, SourceNone, err
		}
		cert = loaded
	} else {
		generated, err := SelfSigned(hosts...)
		if err != nil {
			return nil, SourceNone, fmt.Errorf("failed to generate self-signed cert: %w", err)
		}
		cert = *generated
		source = SourceSelfSigned
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"h2", "http/1.1"},
	}, source, nil
}

func loadKeyPair(certFile, keyFile string) (tls.Certificate, error) {
	for _, f := range []string{certFile, keyFile} {
		if _, err := os.Stat(f); err != nil {
			return tls.Certificate{}, fmt.Errorf("TLS file not found: %w", err)
		}
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load TLS key pair: %w", err)
	}
	return cert, nil
}

// SelfSigned generates an in-memory ECDSA P-256 certificate. Each host is
// added as an IP or DNS SAN; the first one becomes the common name. With no
// hosts the certificate covers localhost and 127.0.0.1.
func SelfSigned(hosts ...string) (*tls.Certificate, error) {
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: hosts[0], Organization: []string{"bulkmail"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(selfSignedValidity),
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

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	cert, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create X509 key pair: %w", err)
	}

	return &cert, nil
}
