package envelope

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/hkdf"
)

// deriveContext domain-separates device-bound key derivation from every other
// HKDF use in the protocol.
const deriveContext = "3send/device-key/v1"

// DeriveScalar expands an externally supplied pseudorandom value (for example
// the output of a hardware authenticator) into a valid X25519 secret scalar.
//
// The clamping matches RFC 7748: clear the low 3 bits of byte 0, clear the
// high bit and set the second-highest bit of byte 31. A scalar derived here
// interoperates with directly generated secret keys through the same public
// key format.
func DeriveScalar(prk []byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	if len(prk) == 0 {
		return out, errors.New("envelope: empty derivation input")
	}
	r := hkdf.New(sha256.New, prk, nil, []byte(deriveContext))
	if _, err := r.Read(out[:]); err != nil {
		return out, fmt.Errorf("envelope: hkdf: %w", err)
	}
	out[0] &= 248
	out[31] &= 127
	out[31] |= 64
	return out, nil
}
