// Package payment decides whether a transfer's payment claim holds: free
// allowance or an on-chain fee burn.
package payment

import (
	"strings"

	"3send.xyz/send/chain"
	"3send.xyz/send/fault"
)

// FreePrefix marks a payment reference as a free-allowance claim rather than
// a transaction hash. The remainder of the reference is an opaque client
// nonce that keeps free references unique.
const FreePrefix = "3send-free:"

// ProofKind discriminates the payment proof variants.
type ProofKind string

const (
	ProofFree    ProofKind = "free"
	ProofOnChain ProofKind = "paid"
)

// Proof is the parsed payment claim. The variant is decided exactly once,
// from the reference shape, before any verification runs.
type Proof struct {
	Kind ProofKind

	// Ref is the full reference as supplied, for either variant.
	Ref string

	// TxRef is the transaction hash, set only for ProofOnChain.
	TxRef string
}

// ProofFromReference classifies a payment reference. Free references carry
// the reserved prefix and a non-empty nonce; anything else must be a
// 0x-prefixed 32-byte transaction hash.
func ProofFromReference(ref string) (Proof, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Proof{}, fault.New(fault.KindMalformed, "paymentRef", "payment reference is required")
	}
	if strings.HasPrefix(ref, FreePrefix) {
		if len(ref) == len(FreePrefix) {
			return Proof{}, fault.New(fault.KindMalformed, "paymentRef", "free reference needs a nonce after the prefix")
		}
		return Proof{Kind: ProofFree, Ref: ref}, nil
	}
	if !chain.IsTxRef(ref) {
		return Proof{}, fault.New(fault.KindMalformed, "paymentRef", "payment reference is neither a free claim nor a transaction hash")
	}
	return Proof{Kind: ProofOnChain, Ref: ref, TxRef: strings.ToLower(ref)}, nil
}
