package protocol

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

const (
	sealVersion   = 1
	sealSaltSize  = 16
	sealNonceSize = 12
	sealKeySize   = 32

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var ErrSealedKeyShare = errors.New("key share document is sealed")

// sealedDocument wraps an encoded key share encrypted with AES-256-GCM under a
// scrypt-derived key. The salt is bound to the ciphertext as associated data.
type sealedDocument struct {
	Sealed     int    `json:"sealed"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// SealKeyShare encodes k and encrypts it under passphrase.
func SealKeyShare(k *KeyShare, passphrase string) ([]byte, error) {
	plain, err := EncodeKeyShare(k)
	if err != nil {
		return nil, err
	}
	return sealDocument(plain, passphrase)
}

// OpenKeyShare decodes a key share document, decrypting it first when it is sealed.
// A sealed document without a passphrase fails with ErrSealedKeyShare.
func OpenKeyShare(raw []byte, passphrase string) (*KeyShare, error) {
	plain, err := openDocument(raw, passphrase)
	if err != nil {
		return nil, err
	}
	return DecodeKeyShare(plain)
}

func sealDocument(plain []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is required to seal a key share")
	}

	salt := make([]byte, sealSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.Wrap(err, "failed to generate salt")
	}
	nonce := make([]byte, sealNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}

	gcm, err := sealCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}

	return json.MarshalIndent(sealedDocument{
		Sealed:     sealVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plain, salt),
	}, "", "  ")
}

// openDocument returns raw unchanged when it is not sealed.
func openDocument(raw []byte, passphrase string) ([]byte, error) {
	var doc sealedDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to decode key share document")
	}
	if doc.Sealed == 0 {
		return raw, nil
	}
	if doc.Sealed != sealVersion {
		return nil, errors.Errorf("unsupported sealed key share version %d", doc.Sealed)
	}
	if passphrase == "" {
		return nil, ErrSealedKeyShare
	}
	if len(doc.Nonce) != sealNonceSize || len(doc.Salt) != sealSaltSize {
		return nil, errors.New("sealed key share has an invalid salt or nonce")
	}

	gcm, err := sealCipher(passphrase, doc.Salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, doc.Nonce, doc.Ciphertext, doc.Salt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sealed key share, wrong passphrase?")
	}
	return plain, nil
}

func sealCipher(passphrase string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, sealKeySize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive sealing key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create aes cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gcm")
	}
	return gcm, nil
}
