package protocol

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/taurusgroup/multi-party-sig/pkg/math/curve"
	"github.com/taurusgroup/multi-party-sig/protocols/cmp"
)

// KeyShare is this party's long-term share plus the public data derived from it.
// It is read once at startup and never mutated.
type KeyShare struct {
	ID        string
	Signers   []string
	Threshold int
	// PublicKey is the aggregate key, SEC1 compressed.
	PublicKey []byte

	config *cmp.Config
}

type keyShareDocument struct {
	ID     string `json:"id"`
	Config []byte `json:"config"`
}

// NewKeyShare derives a KeyShare from a CMP key generation result.
func NewKeyShare(cfg *cmp.Config) (*KeyShare, error) {
	if cfg == nil {
		return nil, errors.New("key share config is required")
	}
	pub, err := cfg.PublicPoint().MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode public key")
	}
	ids := cfg.PartyIDs()
	signers := make([]string, 0, len(ids))
	for _, id := range ids {
		signers = append(signers, string(id))
	}
	return &KeyShare{
		ID:        string(cfg.ID),
		Signers:   signers,
		Threshold: cfg.Threshold,
		PublicKey: pub,
		config:    cfg,
	}, nil
}

// CMPConfig is nil for shares that were not produced by CMP key generation.
func (k *KeyShare) CMPConfig() *cmp.Config {
	return k.config
}

// LoadKeyShare reads a document written by EncodeKeyShare or SealKeyShare.
// passphrase is only used for sealed documents.
func LoadKeyShare(path string, passphrase string) (*KeyShare, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read key share %s", path)
	}
	return OpenKeyShare(raw, passphrase)
}

func DecodeKeyShare(raw []byte) (*KeyShare, error) {
	var doc keyShareDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to decode key share document")
	}
	if len(doc.Config) == 0 {
		return nil, errors.New("key share document has no config")
	}

	cfg := cmp.EmptyConfig(curve.Secp256k1{})
	if err := cfg.UnmarshalBinary(doc.Config); err != nil {
		return nil, errors.Wrap(err, "failed to decode key share config")
	}
	if doc.ID != "" && doc.ID != string(cfg.ID) {
		return nil, errors.Errorf("key share id mismatch: document says %q, config says %q", doc.ID, cfg.ID)
	}
	return NewKeyShare(cfg)
}

// EncodeKeyShare renders the share as the JSON document LoadKeyShare reads.
func EncodeKeyShare(k *KeyShare) ([]byte, error) {
	if k.config == nil {
		return nil, errors.New("key share has no CMP config to encode")
	}
	cfg, err := k.config.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode key share config")
	}
	return json.MarshalIndent(keyShareDocument{ID: k.ID, Config: cfg}, "", "  ")
}
