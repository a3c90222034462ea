package cert

import (
	"crypto/tls"
	"path/filepath"
	"testing"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/util/cert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCerts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, generateCerts(dir, []string{"localhost", "127.0.0.1"}, []string{"a"}))

	ca := filepath.Join(dir, "ca.crt")
	require.NoError(t, cert.VerifyTLSConfig(filepath.Join(dir, "redis.crt"), filepath.Join(dir, "redis.key"), ca))
	require.NoError(t, cert.VerifyTLSConfig(filepath.Join(dir, "party-a.crt"), filepath.Join(dir, "party-a.key"), ca))

	cfg, err := cert.ClientTLSConfig(filepath.Join(dir, "party-a.crt"), filepath.Join(dir, "party-a.key"), ca, "localhost")
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, "localhost", cfg.ServerName)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)

	// Mismatched certificate and key.
	assert.Error(t, cert.VerifyTLSConfig(filepath.Join(dir, "party-a.crt"), filepath.Join(dir, "redis.key"), ca))
	assert.Error(t, cert.VerifyTLSConfig(filepath.Join(dir, "missing.crt"), filepath.Join(dir, "party-a.key"), ca))
}
