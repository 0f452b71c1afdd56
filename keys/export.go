package keys

import (
	"encoding/hex"
	"fmt"

	"3send.xyz/send/envelope"
)

// ExportPublic renders the shareable half of an identity: the on-chain
// address and the hex-encoded X25519 envelope public key senders encrypt to.
func ExportPublic(id *Identity) (address, envelopePub string, err error) {
	if id == nil {
		return "", "", fmt.Errorf("keys: nil identity")
	}
	pub := id.EnvelopePublicKey()
	return id.Address, hex.EncodeToString(pub[:]), nil
}

// ParseEnvelopePublicKey decodes a hex envelope public key.
func ParseEnvelopePublicKey(s string) ([envelope.KeySize]byte, error) {
	var out [envelope.KeySize]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("keys: envelope public key is not hex: %w", err)
	}
	if len(raw) != envelope.KeySize {
		return out, fmt.Errorf("keys: envelope public key must be %d bytes, got %d", envelope.KeySize, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
