package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/metrics"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/protocol"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultSubmitTimeout = 10 * time.Second

// SubmissionBody is the JSON object posted to the relay.
type SubmissionBody struct {
	R string `json:"r"`
	S string `json:"s"`
	V uint64 `json:"v"`
}

func NewSubmissionBody(sig *protocol.FinalSignature) SubmissionBody {
	return SubmissionBody{R: sig.RHex(), S: sig.SHex(), V: sig.V()}
}

// Submitter posts final signatures to a relay. It makes exactly one attempt per call.
type Submitter struct {
	endpoint string
	client   *http.Client
}

func NewSubmitter(endpoint string, timeout time.Duration) *Submitter {
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}
	return &Submitter{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (s *Submitter) Submit(ctx context.Context, sig *protocol.FinalSignature) error {
	if s.endpoint == "" {
		return errors.Wrap(ErrSubmissionFailed, "no submission endpoint configured")
	}
	payload, err := json.Marshal(NewSubmissionBody(sig))
	if err != nil {
		return errors.Wrapf(ErrSubmissionFailed, "failed to encode signature: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrapf(ErrSubmissionFailed, "failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("post_error").Inc()
		return errors.Wrapf(ErrSubmissionFailed, "post to %s: %v", s.endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.SubmissionsTotal.WithLabelValues("remote_error").Inc()
		return errors.Wrapf(ErrSubmissionFailed, "relay answered %d", resp.StatusCode)
	}

	metrics.SubmissionsTotal.WithLabelValues("ok").Inc()
	log.Debug().Str("endpoint", s.endpoint).Int("code", resp.StatusCode).Msg("Signature submitted")
	return nil
}
