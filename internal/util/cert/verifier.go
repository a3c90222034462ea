package cert

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"time"

	"github.com/pkg/errors"
)

// VerifyTLSConfig checks that the certificate and key files match, the certificate
// is currently valid and it chains to the CA.
func VerifyTLSConfig(certFile, keyFile, caCertFile string) error {
	if _, err := os.Stat(certFile); err != nil {
		return errors.Wrapf(err, "certificate file not found: %s", certFile)
	}
	if _, err := os.Stat(keyFile); err != nil {
		return errors.Wrapf(err, "key file not found: %s", keyFile)
	}
	if _, err := os.Stat(caCertFile); err != nil {
		return errors.Wrapf(err, "CA certificate file not found: %s", caCertFile)
	}

	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return errors.Wrap(err, "failed to load certificate key pair")
	}
	if len(pair.Certificate) == 0 {
		return errors.New("no certificate found in file")
	}
	x509Cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return errors.Wrap(err, "failed to parse certificate")
	}
	now := time.Now()
	if now.After(x509Cert.NotAfter) {
		return errors.Errorf("certificate expired at %s", x509Cert.NotAfter)
	}
	if now.Before(x509Cert.NotBefore) {
		return errors.Errorf("certificate not valid until %s", x509Cert.NotBefore)
	}

	pool, err := loadCAPool(caCertFile)
	if err != nil {
		return err
	}
	// Hostname is not checked here; the TLS handshake does that.
	if _, err := x509Cert.Verify(x509.VerifyOptions{Roots: pool, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny}}); err != nil {
		return errors.Wrap(err, "certificate verification against CA failed")
	}

	return nil
}

// ClientTLSConfig builds a mutual-TLS client config for connecting to serverName.
func ClientTLSConfig(certFile, keyFile, caCertFile, serverName string) (*tls.Config, error) {
	if err := VerifyTLSConfig(certFile, keyFile, caCertFile); err != nil {
		return nil, err
	}
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load certificate key pair")
	}
	pool, err := loadCAPool(caCertFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		RootCAs:      pool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func loadCAPool(caCertFile string) (*x509.CertPool, error) {
	caBytes, err := os.ReadFile(caCertFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read CA certificate")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, errors.New("failed to parse CA certificate")
	}
	return pool, nil
}
