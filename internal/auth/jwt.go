package auth

import (
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Clock is the part of time2.Clock the claim manager needs.
type Clock interface {
	Now() time.Time
}

// tokenClaims is the signed payload: the block claim flattened next to the registered claims.
type tokenClaims struct {
	BlockClaim
	jwt.RegisteredClaims
}

// ClaimManager issues and validates HS256 claim tokens.
type ClaimManager struct {
	secretKey     []byte
	issuer        string
	tokenDuration time.Duration
	clock         Clock
	parser        *jwt.Parser
}

// NewClaimManager creates a new ClaimManager. A nil clock uses the wall clock.
func NewClaimManager(secretKey string, issuer string, tokenDuration time.Duration, clock Clock) *ClaimManager {
	if clock == nil {
		clock = time2.DefaultClock
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(clock.Now),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return &ClaimManager{
		secretKey:     []byte(secretKey),
		issuer:        issuer,
		tokenDuration: tokenDuration,
		clock:         clock,
		parser:        jwt.NewParser(opts...),
	}
}

// Generate signs claim into a token valid for the configured duration.
func (m *ClaimManager) Generate(claim *BlockClaim) (string, error) {
	if err := claim.Validate(); err != nil {
		return "", err
	}
	if len(m.secretKey) == 0 {
		return "", errors.New("claim signing secret is not configured")
	}

	now := m.clock.Now()
	claims := tokenClaims{
		BlockClaim: *claim,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Validate verifies the token signature and expiry and returns the claim it carries.
// The signature is checked before the payload shape is judged.
func (m *ClaimManager) Validate(tokenString string) (*BlockClaim, error) {
	if len(m.secretKey) == 0 {
		return nil, errors.Wrap(ErrInvalidSignature, "claim signing secret is not configured")
	}

	claims := jwt.MapClaims{}
	token, err := m.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, classifyTokenError(err)
	}
	if !token.Valid {
		return nil, errors.Wrap(ErrInvalidSignature, "token is not valid")
	}

	return claimFromMap(claims)
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return errors.Wrapf(ErrInvalidSignature, "token rejected: %v", err)
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return errors.Wrapf(ErrExpired, "token rejected: %v", err)
	default:
		return errors.Wrapf(ErrMalformedClaim, "token rejected: %v", err)
	}
}

func claimFromMap(claims jwt.MapClaims) (*BlockClaim, error) {
	field := func(name string) (string, error) {
		raw, ok := claims[name]
		if !ok || raw == nil {
			return "", nil
		}
		s, ok := raw.(string)
		if !ok {
			return "", errors.Wrapf(ErrMalformedClaim, "%s must be a string, got %T", name, raw)
		}
		return s, nil
	}

	var (
		claim BlockClaim
		err   error
	)
	if claim.Selector, err = field("selector"); err != nil {
		return nil, err
	}
	if claim.ParentHash, err = field("parent_hash"); err != nil {
		return nil, err
	}
	if claim.BlockNumber, err = field("blocknumber"); err != nil {
		return nil, err
	}
	if claim.Address, err = field("address"); err != nil {
		return nil, err
	}

	if err := claim.Validate(); err != nil {
		return nil, err
	}

	return &claim, nil
}
