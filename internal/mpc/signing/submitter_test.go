package signing_test

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/protocol"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/signing"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSignature(t *testing.T) *protocol.FinalSignature {
	t.Helper()
	sig, err := protocol.NewFinalSignature(big.NewInt(0xabc), big.NewInt(0x123), 1)
	require.NoError(t, err)
	return sig
}

func TestSubmitter_PostsRSV(t *testing.T) {
	var calls int32
	var got signing.SubmissionBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := signing.NewSubmitter(srv.URL, time.Second).Submit(context.Background(), sampleSignature(t))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, signing.SubmissionBody{R: "0xabc", S: "0x123", V: 28}, got)
}

func TestSubmitter_NoRetryOnFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := signing.NewSubmitter(srv.URL, time.Second).Submit(context.Background(), sampleSignature(t))
	assert.True(t, errors.Is(err, signing.ErrSubmissionFailed))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSubmitter_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	err := signing.NewSubmitter(srv.URL, time.Second).Submit(context.Background(), sampleSignature(t))
	assert.True(t, errors.Is(err, signing.ErrSubmissionFailed))

	err = signing.NewSubmitter("", time.Second).Submit(context.Background(), sampleSignature(t))
	assert.True(t, errors.Is(err, signing.ErrSubmissionFailed))
}
