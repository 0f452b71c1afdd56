// Package envelope seals and opens transfer payloads.
//
// A payload is encrypted once by the sender for exactly one recipient: an
// ephemeral X25519 key agreement with the recipient's static public key yields
// a shared secret, the secret is hashed to a 256-bit symmetric key, and the
// plaintext is sealed with ChaCha20-Poly1305 under a fresh random nonce. The
// Envelope carries everything the recipient needs to reverse the process
// except the ciphertext itself.
package envelope

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/dh/x25519"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/sha3"
)

const (
	// Version is the only protocol version this build understands.
	// Unknown versions fail closed before any decryption is attempted.
	Version = 1

	// Algorithm names the fixed cipher suite.
	Algorithm = "x25519-chacha20poly1305"

	// KeySize is the X25519 public/secret key length.
	KeySize = x25519.Size

	// NonceSize is the AEAD nonce length.
	NonceSize = chacha20poly1305.NonceSize

	// NoteEncodingUTF8 is the only note encoding emitted by this build.
	NoteEncodingUTF8 = "utf-8"
)

var (
	ErrBadRecipientKey      = errors.New("envelope: recipient public key must be 32 bytes")
	ErrUnsupportedVersion   = errors.New("envelope: unsupported protocol version")
	ErrUnsupportedAlgorithm = errors.New("envelope: unsupported algorithm")
	ErrMalformed            = errors.New("envelope: malformed envelope")
	ErrAuthentication       = errors.New("envelope: authentication failed")
	ErrLowOrderPoint        = errors.New("envelope: low-order public key rejected")
)

// Envelope is the decryption metadata for one sealed payload. Immutable once
// produced; the stored upload record references it by value.
type Envelope struct {
	Version            int    `json:"version"`
	Algorithm          string `json:"algorithm"`
	EphemeralPublicKey []byte `json:"ephemeralPublicKey"`
	IV                 []byte `json:"iv"`
	RecipientPublicKey []byte `json:"recipientPublicKey"`
	PlaintextLength    uint64 `json:"plaintextLength"`
	CiphertextLength   uint64 `json:"ciphertextLength"`

	// Optional sender note, sealed under the same symmetric key as the file
	// but always a distinct nonce.
	NoteCiphertext []byte `json:"noteCiphertext,omitempty"`
	NoteIV         []byte `json:"noteIv,omitempty"`
	NoteEncoding   string `json:"noteEncoding,omitempty"`
	NoteLength     uint64 `json:"noteLength,omitempty"`
}

// Seal encrypts plaintext (and an optional note) for the holder of
// recipientPub. It returns the file ciphertext and the envelope describing it.
func Seal(plaintext, recipientPub, note []byte) ([]byte, *Envelope, error) {
	if len(recipientPub) != KeySize {
		return nil, nil, ErrBadRecipientKey
	}

	var ephSecret, ephPublic, peer x25519.Key
	if _, err := rand.Read(ephSecret[:]); err != nil {
		return nil, nil, fmt.Errorf("envelope: ephemeral key: %w", err)
	}
	x25519.KeyGen(&ephPublic, &ephSecret)
	copy(peer[:], recipientPub)

	key, err := sharedKey(&ephSecret, &peer)
	if err != nil {
		return nil, nil, err
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("envelope: nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	env := &Envelope{
		Version:            Version,
		Algorithm:          Algorithm,
		EphemeralPublicKey: ephPublic[:],
		IV:                 nonce,
		RecipientPublicKey: append([]byte(nil), recipientPub...),
		PlaintextLength:    uint64(len(plaintext)),
		CiphertextLength:   uint64(len(ciphertext)),
	}

	if len(note) > 0 {
		// Nonce reuse across the file and note ciphertexts would break
		// confidentiality; regenerate until distinct.
		noteNonce := make([]byte, NonceSize)
		for {
			if _, err := rand.Read(noteNonce); err != nil {
				return nil, nil, fmt.Errorf("envelope: note nonce: %w", err)
			}
			if !bytes.Equal(noteNonce, nonce) {
				break
			}
		}
		env.NoteCiphertext = aead.Seal(nil, noteNonce, note, nil)
		env.NoteIV = noteNonce
		env.NoteEncoding = NoteEncodingUTF8
		env.NoteLength = uint64(len(note))
	}

	return ciphertext, env, nil
}

// Open decrypts ciphertext using the recipient's static secret key and the
// envelope's ephemeral public key. Version and algorithm are validated before
// any key agreement; any tamper of the ciphertext, nonce, or ephemeral key
// surfaces as ErrAuthentication.
func Open(ciphertext []byte, env *Envelope, recipientSecret [KeySize]byte) ([]byte, error) {
	aead, err := recipientAEAD(env, recipientSecret)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, env.IV, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return pt, nil
}

// OpenNote decrypts the optional note carried by the envelope.
func OpenNote(env *Envelope, recipientSecret [KeySize]byte) ([]byte, error) {
	if env == nil || len(env.NoteCiphertext) == 0 {
		return nil, ErrMalformed
	}
	aead, err := recipientAEAD(env, recipientSecret)
	if err != nil {
		return nil, err
	}
	if len(env.NoteIV) != NonceSize {
		return nil, ErrMalformed
	}
	note, err := aead.Open(nil, env.NoteIV, env.NoteCiphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return note, nil
}

// Validate checks the structural invariants of an envelope without touching
// key material. Unknown versions and algorithms fail closed.
func Validate(env *Envelope) error {
	if env == nil {
		return ErrMalformed
	}
	if env.Version != Version {
		return ErrUnsupportedVersion
	}
	if env.Algorithm != Algorithm {
		return ErrUnsupportedAlgorithm
	}
	if len(env.EphemeralPublicKey) != KeySize {
		return ErrMalformed
	}
	if len(env.IV) != NonceSize {
		return ErrMalformed
	}
	if len(env.RecipientPublicKey) != KeySize {
		return ErrBadRecipientKey
	}
	if len(env.NoteCiphertext) > 0 && len(env.NoteIV) != NonceSize {
		return ErrMalformed
	}
	return nil
}

func recipientAEAD(env *Envelope, recipientSecret [KeySize]byte) (interface {
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}, error) {
	if err := Validate(env); err != nil {
		return nil, err
	}
	var secret, peer x25519.Key
	copy(secret[:], recipientSecret[:])
	copy(peer[:], env.EphemeralPublicKey)
	key, err := sharedKey(&secret, &peer)
	if err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key[:])
}

// sharedKey performs the X25519 agreement and hashes the shared secret into
// the fixed-size symmetric key.
func sharedKey(secret, peer *x25519.Key) ([32]byte, error) {
	var shared x25519.Key
	if !x25519.Shared(&shared, secret, peer) {
		return [32]byte{}, ErrLowOrderPoint
	}
	return sha3.Sum256(shared[:]), nil
}

// PublicKey returns the X25519 public key for a 32-byte secret scalar.
func PublicKey(secret [KeySize]byte) [KeySize]byte {
	var sk, pk x25519.Key
	copy(sk[:], secret[:])
	x25519.KeyGen(&pk, &sk)
	var out [KeySize]byte
	copy(out[:], pk[:])
	return out
}
