package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/api"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/api/handlers/claims"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/api/handlers/key"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/api/handlers/rounds"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/auth"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/config"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/storage"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/test"
	"github.com/dropbox/godropbox/time2"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClaim() *auth.BlockClaim {
	return &auth.BlockClaim{
		Selector:    "0x12345678",
		ParentHash:  "0x" + strings.Repeat("ab", 32),
		BlockNumber: "100",
		Address:     "0x00000000000000000000000000000000000000aa",
	}
}

func perform(s *api.Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func TestGetHealthy(t *testing.T) {
	s := test.NewTestServer(t)

	res := perform(s, http.MethodGet, "/-/healthy", "", nil)
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestGetReady(t *testing.T) {
	s := test.NewTestServer(t)

	res := perform(s, http.MethodGet, "/-/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Sequencer.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return perform(s, http.MethodGet, "/-/ready", "", nil).Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sequencer did not stop")
	}
}

func TestGetMetrics(t *testing.T) {
	s := test.NewTestServer(t)

	res := perform(s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "signer_round_index")
}

func TestGetKey(t *testing.T) {
	s := test.NewTestServer(t)

	res := perform(s, http.MethodGet, "/api/v1/key", "", nil)
	require.Equal(t, http.StatusOK, res.Code)

	var body key.Response
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	pub, err := crypto.DecompressPubkey(s.KeyShare.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, "a", body.PartyID)
	assert.Equal(t, []string{"a", "b"}, body.Signers)
	assert.Equal(t, hexutil.Encode(s.KeyShare.PublicKey), body.PublicKey)
	assert.Equal(t, crypto.PubkeyToAddress(*pub).Hex(), body.Address)

	s.KeyShare = nil
	res = perform(s, http.MethodGet, "/api/v1/key", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
}

func seedRounds(t *testing.T, s *api.Server, n int) {
	t.Helper()
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		require.NoError(t, s.Store.SaveRound(context.Background(), &storage.RoundRecord{
			Index:      uint64(i),
			TraceID:    "trace",
			State:      "Submitted",
			Phase:      "Submitted",
			StartedAt:  started.Add(time.Duration(i) * time.Minute),
			FinishedAt: started.Add(time.Duration(i)*time.Minute + time.Second),
		}))
	}
}

func TestGetListRounds(t *testing.T) {
	s := test.NewTestServer(t)
	seedRounds(t, s, 5)

	res := perform(s, http.MethodGet, "/api/v1/rounds?limit=2", "", nil)
	require.Equal(t, http.StatusOK, res.Code)

	var body rounds.ListRoundsResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Limit)
	require.Len(t, body.Rounds, 2)
	assert.Equal(t, uint64(5), body.Rounds[0].Index)
	assert.Equal(t, uint64(4), body.Rounds[1].Index)

	res = perform(s, http.MethodGet, "/api/v1/rounds?limit=1000", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, 100, body.Limit)
	assert.Len(t, body.Rounds, 5)

	res = perform(s, http.MethodGet, "/api/v1/rounds?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestGetListRoundsEmpty(t *testing.T) {
	s := test.NewTestServer(t)

	res := perform(s, http.MethodGet, "/api/v1/rounds", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"rounds":[],"limit":20}`, res.Body.String())
}

func TestGetRound(t *testing.T) {
	s := test.NewTestServer(t)
	seedRounds(t, s, 2)

	res := perform(s, http.MethodGet, "/api/v1/rounds/2", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	var rec storage.RoundRecord
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &rec))
	assert.Equal(t, uint64(2), rec.Index)
	assert.Equal(t, "Submitted", rec.State)

	res = perform(s, http.MethodGet, "/api/v1/rounds/9", "", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = perform(s, http.MethodGet, "/api/v1/rounds/-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestPostClaimWithToken(t *testing.T) {
	s := test.NewTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	listener, err := s.Room.Join(ctx, s.Config.Claim.Room)
	require.NoError(t, err)
	defer listener.Close()

	token, err := s.Claims.Generate(testClaim())
	require.NoError(t, err)

	res := perform(s, http.MethodPost, "/api/v1/claims", "", map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusAccepted, res.Code)

	var body claims.PostClaimResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, "100", body.BlockNumber)
	assert.Equal(t, s.Config.Claim.Room, body.Room)

	msg, err := listener.Recv(ctx)
	require.NoError(t, err)
	assert.Nil(t, msg.Receiver)
	var published string
	require.NoError(t, msg.Decode(&published))
	assert.Equal(t, token, published)
}

func TestPostClaimRejectsBadTokens(t *testing.T) {
	s := test.NewTestServer(t)

	foreign, err := auth.NewClaimManager("another-secret", "test", time.Minute, nil).Generate(testClaim())
	require.NoError(t, err)
	expired, err := auth.NewClaimManager(test.TestClaimSecret, "test", time.Minute, time2.NewMockClock(time.Now().Add(-time.Hour))).Generate(testClaim())
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"garbage", "Bearer not-a-token", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			res := perform(s, http.MethodPost, "/api/v1/claims", "", headers)
			assert.Equal(t, tt.status, res.Code)
		})
	}
}

func TestPostClaimPlain(t *testing.T) {
	s := test.NewTestServer(t, func(cfg *config.Server) {
		cfg.Claim.AuthEnabled = false
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	listener, err := s.Room.Join(ctx, s.Config.Claim.Room)
	require.NoError(t, err)
	defer listener.Close()

	raw, err := json.Marshal(testClaim())
	require.NoError(t, err)

	res := perform(s, http.MethodPost, "/api/v1/claims", string(raw), nil)
	require.Equal(t, http.StatusAccepted, res.Code)

	msg, err := listener.Recv(ctx)
	require.NoError(t, err)
	claim, err := auth.DecodePlainClaim(msg.Body)
	require.NoError(t, err)
	assert.Equal(t, testClaim(), claim)

	res = perform(s, http.MethodPost, "/api/v1/claims", `{"selector":"0x12"`, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = perform(s, http.MethodPost, "/api/v1/claims", `{"selector":"0x12345678","parent_hash":"0xab","blocknumber":"ten","address":"0xaa"}`, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}
