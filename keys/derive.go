package keys

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"

	"3send.xyz/send/chain"
	"3send.xyz/send/envelope"
)

// Derivation info strings. Changing either would silently rotate every
// derived identity, so they are versioned.
const (
	signInfo     = "3send/sign/v1"
	envelopeInfo = "3send/envelope/v1"
)

// Identity is the full key material for one account.
type Identity struct {
	SigningKey  *secp256k1.PrivateKey
	EnvelopeKey [envelope.KeySize]byte
	Address     string
}

// EnvelopePublicKey returns the X25519 public key senders encrypt to.
func (id *Identity) EnvelopePublicKey() [envelope.KeySize]byte {
	return envelope.PublicKey(id.EnvelopeKey)
}

// NewMnemonic generates a fresh 24-word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// SeedFromMnemonic expands a mnemonic (and optional passphrase) into the
// 64-byte root seed.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("keys: invalid mnemonic")
	}
	return bip39.NewSeed(mnemonic, passphrase), nil
}

// FromSeed derives the identity from root seed material. The signing key and
// the envelope key come from independent HKDF expansions so compromise of one
// never reveals the other.
func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) == 0 {
		return nil, errors.New("keys: empty seed")
	}

	signBytes := make([]byte, 32)
	r := hkdf.New(sha256.New, seed, nil, []byte(signInfo))
	if _, err := io.ReadFull(r, signBytes); err != nil {
		return nil, fmt.Errorf("keys: derive signing key: %w", err)
	}
	priv := secp256k1.PrivKeyFromBytes(signBytes)
	if priv.Key.IsZero() {
		return nil, errors.New("keys: derived signing key is zero")
	}

	envBytes := make([]byte, 32)
	r = hkdf.New(sha256.New, seed, nil, []byte(envelopeInfo))
	if _, err := io.ReadFull(r, envBytes); err != nil {
		return nil, fmt.Errorf("keys: derive envelope key: %w", err)
	}
	envKey, err := envelope.DeriveScalar(envBytes)
	if err != nil {
		return nil, err
	}

	return &Identity{
		SigningKey:  priv,
		EnvelopeKey: envKey,
		Address:     chain.AddressFromPub(priv.PubKey()),
	}, nil
}

// FromMnemonic is the common path: mnemonic straight to identity.
func FromMnemonic(mnemonic, passphrase string) (*Identity, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return FromSeed(seed)
}
