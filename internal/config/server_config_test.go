package config_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintServiceEnv(t *testing.T) {
	config := config.DefaultServiceConfigFromEnv()
	_, err := json.MarshalIndent(config, "", "  ")

	if err != nil {
		t.Fatal(err)
	}
}

func TestSecretsNotSerialized(t *testing.T) {
	t.Setenv("CLAIM_JWT_SECRET", "super-secret")
	t.Setenv("TRANSPORT_REDIS_PASSWORD", "redis-secret")

	cfg := config.DefaultServiceConfigFromEnv()
	require.Equal(t, "super-secret", cfg.Claim.SigningSecret)

	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "super-secret")
	assert.NotContains(t, string(b), "redis-secret")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ROOM_PREFIX", "blocks")
	t.Setenv("TRANSPORT_KIND", "libp2p")
	t.Setenv("MPC_SIGNER_IDS", "a, b,,c")
	t.Setenv("MPC_PHASE_TIMEOUT", "30s")
	t.Setenv("SUBMISSION_ENABLED", "true")
	t.Setenv("SERVER_LOGGER_LEVEL", "debug")
	t.Setenv("CHAIN_RPC_TIMEOUT", "not-a-duration")

	cfg := config.DefaultServiceConfigFromEnv()
	assert.Equal(t, "blocks", cfg.Room.Prefix)
	assert.Equal(t, config.TransportLibp2p, cfg.Transport.Kind)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.MPC.SignerIDs)
	assert.Equal(t, 30*time.Second, cfg.MPC.PhaseTimeout)
	assert.True(t, cfg.Submission.Enabled)
	assert.Equal(t, zerolog.DebugLevel, cfg.Logger.Level)
	assert.Equal(t, 10*time.Second, cfg.Chain.Timeout)
}
