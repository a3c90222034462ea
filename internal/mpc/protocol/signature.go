package protocol

import (
	"bytes"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var _ zerolog.LogObjectMarshaler = (*FinalSignature)(nil)

var secp256k1HalfN = new(big.Int).Rsh(btcec.S256().N, 1)

// FinalSignature is an ECDSA signature over a 32-byte digest, normalised to low S.
type FinalSignature struct {
	R          *big.Int
	S          *big.Int
	RecoveryID byte
}

// NewFinalSignature checks r and s are in [1, N) and flips s (and the recovery id) into the lower half.
func NewFinalSignature(r, s *big.Int, recoveryID byte) (*FinalSignature, error) {
	n := btcec.S256().N
	if r == nil || s == nil || r.Sign() <= 0 || s.Sign() <= 0 || r.Cmp(n) >= 0 || s.Cmp(n) >= 0 {
		return nil, errors.New("signature scalar out of range")
	}
	if recoveryID > 1 {
		return nil, errors.Errorf("unsupported recovery id %d", recoveryID)
	}

	s = new(big.Int).Set(s)
	if s.Cmp(secp256k1HalfN) > 0 {
		s.Sub(n, s)
		recoveryID ^= 1
	}
	return &FinalSignature{R: new(big.Int).Set(r), S: s, RecoveryID: recoveryID}, nil
}

// V is the Ethereum-style recovery byte.
func (sig *FinalSignature) V() uint64 {
	return 27 + uint64(sig.RecoveryID)
}

// Compact is r || s || recovery_id, 65 bytes.
func (sig *FinalSignature) Compact() []byte {
	out := make([]byte, 65)
	sig.R.FillBytes(out[:32])
	sig.S.FillBytes(out[32:64])
	out[64] = sig.RecoveryID
	return out
}

// RecoverPublicKey returns the key that produced sig over digest.
func (sig *FinalSignature) RecoverPublicKey(digest []byte) (*btcec.PublicKey, error) {
	compact := make([]byte, 65)
	compact[0] = 27 + 4 + sig.RecoveryID
	sig.R.FillBytes(compact[1:33])
	sig.S.FillBytes(compact[33:])

	pub, _, err := btcecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return nil, errors.Wrap(err, "failed to recover public key")
	}
	return pub, nil
}

// Verify reports whether sig over digest recovers to pubKey (SEC1 compressed or uncompressed).
func (sig *FinalSignature) Verify(pubKey []byte, digest []byte) bool {
	want, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	got, err := sig.RecoverPublicKey(digest)
	if err != nil {
		return false
	}
	return bytes.Equal(want.SerializeCompressed(), got.SerializeCompressed())
}

func (sig *FinalSignature) RHex() string { return hexutil.EncodeBig(sig.R) }
func (sig *FinalSignature) SHex() string { return hexutil.EncodeBig(sig.S) }

func (sig *FinalSignature) MarshalZerologObject(e *zerolog.Event) {
	e.Str("r", sig.RHex()).Str("s", sig.SHex()).Uint64("v", sig.V())
}
