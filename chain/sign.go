package chain

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

const personalPrefix = "\x19Ethereum Signed Message:\n"

// erc6492MagicSuffix marks a wrapped smart-contract-wallet signature
// (ERC-6492): the last 32 bytes of the signature blob repeat 0x6492.
var erc6492MagicSuffix = bytes.Repeat([]byte{0x64, 0x92}, 16)

// PersonalDigest returns the EIP-191 personal-message digest that wallets
// sign: keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg).
func PersonalDigest(message []byte) [32]byte {
	var out [32]byte
	prefix := fmt.Sprintf("%s%d", personalPrefix, len(message))
	copy(out[:], keccak256([]byte(prefix), message))
	return out
}

// Sign produces an eth-style 65-byte [R || S || V] recoverable signature over
// the personal digest of message, with V in {27, 28}.
func Sign(priv *secp256k1.PrivateKey, message []byte) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("chain: nil private key")
	}
	digest := PersonalDigest(message)
	// SignCompact puts the recovery header byte first; eth wire format wants
	// it last.
	compact := secpecdsa.SignCompact(priv, digest[:], false)
	out := make([]byte, 65)
	copy(out[:64], compact[1:])
	out[64] = compact[0] // 27 + recovery id (uncompressed)
	return out, nil
}

// RecoverAddress recovers the signer address from a plain 65-byte signature
// over the personal digest of message. V may be 0/1 or 27/28.
func RecoverAddress(message []byte, sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", fmt.Errorf("chain: expected 65-byte signature, got %d", len(sig))
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", fmt.Errorf("chain: invalid recovery id %d", sig[64])
	}
	compact := make([]byte, 65)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])

	digest := PersonalDigest(message)
	pub, _, err := secpecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return "", fmt.Errorf("chain: recover: %w", err)
	}
	return AddressFromPub(pub), nil
}

// AddressFromPub derives the lowercase 0x-hex EVM address for a secp256k1
// public key: the last 20 bytes of keccak256 over the uncompressed key body.
func AddressFromPub(pub *secp256k1.PublicKey) string {
	uncompressed := pub.SerializeUncompressed() // 0x04 || X || Y
	sum := keccak256(uncompressed[1:])
	return "0x" + hex.EncodeToString(sum[12:])
}

// IsContractWalletSignature reports whether sig plausibly comes from a
// smart-contract wallet rather than a plain account: anything that is not a
// bare 65-byte recoverable signature, or that carries the ERC-6492 wrapper
// marker.
func IsContractWalletSignature(sig []byte) bool {
	if len(sig) >= 32 && bytes.Equal(sig[len(sig)-32:], erc6492MagicSuffix) {
		return true
	}
	return len(sig) != 65
}

func keccak256(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	return h.Sum(nil)
}
