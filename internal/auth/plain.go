package auth

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// DecodePlainClaim decodes an unauthenticated JSON claim body. Used only when claim
// authentication is disabled.
func DecodePlainClaim(body []byte) (*BlockClaim, error) {
	var claim BlockClaim
	if err := json.Unmarshal(body, &claim); err != nil {
		return nil, errors.Wrapf(ErrMalformedClaim, "decode claim: %v", err)
	}

	if err := claim.Validate(); err != nil {
		return nil, err
	}

	return &claim, nil
}
