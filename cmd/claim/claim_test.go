package claim

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/auth"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/config"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags() *claimFlags {
	return &claimFlags{
		selector:    "0x12345678",
		parentHash:  "0x" + strings.Repeat("cd", 32),
		blockNumber: "42",
		address:     "0x00000000000000000000000000000000000000aa",
	}
}

func TestIssueToken(t *testing.T) {
	cfg := config.DefaultServiceConfigFromEnv()
	cfg.Claim.SigningSecret = "cli-secret"
	cfg.Claim.Issuer = "cli"
	cfg.Claim.TokenDuration = time.Minute

	token, err := issueToken(cfg, testFlags())
	require.NoError(t, err)

	claim, err := auth.NewClaimManager("cli-secret", "cli", time.Minute, nil).Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "42", claim.BlockNumber)

	cfg.Claim.SigningSecret = ""
	_, err = issueToken(cfg, testFlags())
	assert.Error(t, err)

	cfg.Claim.SigningSecret = "cli-secret"
	bad := testFlags()
	bad.blockNumber = "forty-two"
	_, err = issueToken(cfg, bad)
	assert.ErrorIs(t, err, auth.ErrMalformedClaim)
}

func TestPublish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	room := transport.NewMemoryRoom()
	defer room.Close()

	listener, err := room.Join(ctx, "block-hashes")
	require.NoError(t, err)

	require.NoError(t, publish(ctx, room, "block-hashes", "token-value"))

	msg, err := listener.Recv(ctx)
	require.NoError(t, err)
	var token string
	require.NoError(t, msg.Decode(&token))
	assert.Equal(t, "token-value", token)
}

func TestSendRejectsMemoryTransport(t *testing.T) {
	cfg := config.DefaultServiceConfigFromEnv()
	cfg.Transport.Kind = config.TransportMemory

	assert.Error(t, send(context.Background(), cfg, "token"))
}
