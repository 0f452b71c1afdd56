package payment

import (
	"context"
	"fmt"
	"time"

	"3send.xyz/send/chain"
	"3send.xyz/send/envelope"
	"3send.xyz/send/fault"
	"3send.xyz/send/handshake"
	"3send.xyz/send/tier"
)

// Input carries everything the verifier needs about one claimed transfer.
// DeclaredSize is the client-asserted original size in bytes; negative means
// not supplied, in which case the envelope's plaintext length is
// authoritative.
type Input struct {
	Initiator    string
	Recipient    string
	ChainID      uint64
	TierID       string
	PaymentRef   string
	Message      string
	Signature    []byte
	DeclaredSize int64
	Envelope     *envelope.Envelope
}

// Verdict is the verifier's terminal accept result. Rejections are returned
// as errors instead.
type Verdict struct {
	Tier           tier.Tier
	Proof          Proof
	Kind           ProofKind
	FeePrimary     string
	FeeSecondary   string
	ContractWallet bool

	// Message is the canonical handshake rebuilt from trusted fields; it is
	// byte-identical to the client message by the time a verdict exists.
	Message string

	// SentAtMillis and Filename are the client-chosen fields carried through
	// the verified message.
	SentAtMillis int64
	Filename     string
}

// MaxSentAtSkew bounds how far ahead of the verifier's clock a handshake's
// sent-at timestamp may lie. Retention windows count from sent-at, so an
// unbounded future value would keep a transfer alive indefinitely.
const MaxSentAtSkew = 10 * time.Minute

// Verifier runs the payment state machine. It never mutates ledgers; replay
// and quota enforcement belong to the caller.
type Verifier struct {
	Chain chain.Client
	Tiers tier.Schedule
	Now   func() time.Time

	// BurnContract, when set, restricts burn events to logs emitted by the
	// fee contract at this address. Empty accepts any emitter.
	BurnContract string
}

// Verify walks the claim through size agreement, handshake reconstruction,
// signature verification, and payment evaluation. Any failure is terminal.
func (v *Verifier) Verify(ctx context.Context, in Input) (*Verdict, error) {
	if in.Envelope == nil {
		return nil, fault.New(fault.KindMalformed, "metadata", "envelope metadata is required")
	}
	if err := envelope.Validate(in.Envelope); err != nil {
		return nil, fault.Wrap(fault.KindMalformed, "metadata", "invalid envelope metadata", err)
	}

	size, resolved, err := v.resolveTier(in)
	if err != nil {
		return nil, err
	}

	parsed, err := handshake.Parse(in.Message)
	if err != nil {
		return nil, fault.Wrap(fault.KindMalformed, "message", "handshake does not parse", err)
	}
	if parsed.SentAtMillis > v.now().Add(MaxSentAtSkew).UnixMilli() {
		return nil, fault.New(fault.KindMismatch, "sentAt", "sent-at timestamp lies in the future")
	}
	expected, err := v.rebuild(in, parsed, resolved, size)
	if err != nil {
		return nil, err
	}

	contractWallet, err := v.verifySignature(ctx, in, expected)
	if err != nil {
		return nil, err
	}

	proof, err := ProofFromReference(in.PaymentRef)
	if err != nil {
		return nil, err
	}
	verdict := &Verdict{
		Tier:           resolved,
		Proof:          proof,
		Kind:           proof.Kind,
		ContractWallet: contractWallet,
		Message:        expected,
		SentAtMillis:   parsed.SentAtMillis,
		Filename:       parsed.Filename,
	}
	if err := v.evaluatePayment(ctx, in, verdict, contractWallet); err != nil {
		return nil, err
	}
	return verdict, nil
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// resolveTier settles the authoritative size and maps it to exactly one tier.
func (v *Verifier) resolveTier(in Input) (uint64, tier.Tier, error) {
	size := in.Envelope.PlaintextLength
	if in.DeclaredSize >= 0 {
		if uint64(in.DeclaredSize) != in.Envelope.PlaintextLength {
			return 0, tier.Tier{}, fault.New(fault.KindMismatch, "originalSize",
				fmt.Sprintf("declared size %d disagrees with envelope plaintext length %d",
					in.DeclaredSize, in.Envelope.PlaintextLength))
		}
		size = uint64(in.DeclaredSize)
	}
	resolved, ok := v.Tiers.ResolveBySize(size)
	if !ok {
		return 0, tier.Tier{}, fault.New(fault.KindMismatch, "originalSize", "no fee tier covers this size")
	}
	if in.TierID != resolved.ID {
		return 0, tier.Tier{}, fault.New(fault.KindMismatch, "tierId",
			fmt.Sprintf("asserted tier %q but size resolves to %q", in.TierID, resolved.ID))
	}
	return size, resolved, nil
}

// rebuild re-derives the canonical message from verifier-trusted fields and
// requires byte-equality with what the client signed. Client-chosen fields
// (sent-at, filename) are taken from the parsed message; everything else
// comes from the request and the recomputed envelope digest.
func (v *Verifier) rebuild(in Input, parsed *handshake.Params, resolved tier.Tier, size uint64) (string, error) {
	expected, err := handshake.Build(handshake.Params{
		From:           in.Initiator,
		To:             in.Recipient,
		ChainID:        in.ChainID,
		PaymentRef:     in.PaymentRef,
		SentAtMillis:   parsed.SentAtMillis,
		TierID:         resolved.ID,
		PlainBytes:     size,
		CipherBytes:    in.Envelope.CiphertextLength,
		Filename:       parsed.Filename,
		MetadataDigest: envelope.Digest(in.Envelope),
	})
	if err != nil {
		return "", fault.Wrap(fault.KindMalformed, "message", "cannot derive expected handshake", err)
	}
	if expected != in.Message {
		field := divergingField(parsed, in, resolved, size)
		return "", fault.New(fault.KindMismatch, field, "signed message disagrees with server-derived fields")
	}
	return expected, nil
}

// divergingField names the first field whose parsed value disagrees with the
// trusted one, so rejections point at something actionable.
func divergingField(parsed *handshake.Params, in Input, resolved tier.Tier, size uint64) string {
	from, _ := chain.NormalizeAddress(in.Initiator)
	to, _ := chain.NormalizeAddress(in.Recipient)
	switch {
	case parsed.From != from:
		return "from"
	case parsed.To != to:
		return "to"
	case parsed.ChainID != in.ChainID:
		return "chainId"
	case parsed.PaymentRef != in.PaymentRef:
		return "paymentRef"
	case parsed.TierID != resolved.ID:
		return "tierId"
	case parsed.PlainBytes != size:
		return "plainBytes"
	case parsed.CipherBytes != in.Envelope.CiphertextLength:
		return "cipherBytes"
	case parsed.MetadataDigest != envelope.Digest(in.Envelope):
		return "metadataDigest"
	default:
		return "message"
	}
}

func (v *Verifier) verifySignature(ctx context.Context, in Input, message string) (bool, error) {
	if len(in.Signature) == 0 {
		return false, fault.New(fault.KindMalformed, "signature", "signature is required")
	}
	initiator, ok := chain.NormalizeAddress(in.Initiator)
	if !ok {
		return false, fault.New(fault.KindMalformed, "initiator", "initiator is not a valid address")
	}
	if chain.IsContractWalletSignature(in.Signature) {
		digest := chain.PersonalDigest([]byte(message))
		valid, err := v.Chain.VerifyContractSignature(ctx, initiator, digest, in.Signature)
		if err != nil {
			return false, fault.Wrap(fault.KindInfrastructure, "signature", "contract wallet verification failed", err)
		}
		if !valid {
			return false, fault.New(fault.KindMismatch, "signature", "contract wallet rejected the signature")
		}
		return true, nil
	}
	recovered, err := chain.RecoverAddress([]byte(message), in.Signature)
	if err != nil {
		return false, fault.Wrap(fault.KindMismatch, "signature", "signature does not recover", err)
	}
	if recovered != initiator {
		return false, fault.New(fault.KindMismatch, "signature", "signature was not produced by the initiator")
	}
	return false, nil
}

// evaluatePayment settles the proof. Free claims are only valid for the
// smallest tier; on-chain claims need a successful receipt carrying a burn
// event for the resolved tier.
func (v *Verifier) evaluatePayment(ctx context.Context, in Input, verdict *Verdict, contractWallet bool) error {
	switch verdict.Proof.Kind {
	case ProofFree:
		smallest, ok := v.Tiers.Smallest()
		if !ok || verdict.Tier.ID != smallest.ID {
			return fault.New(fault.KindMismatch, "paymentRef", "free transfers are limited to the smallest tier")
		}
		return nil
	case ProofOnChain:
		receipt, err := v.Chain.TransactionReceipt(ctx, verdict.Proof.TxRef)
		if err != nil {
			return fault.Wrap(fault.KindInfrastructure, "paymentRef", "receipt lookup failed", err)
		}
		if receipt == nil {
			return fault.New(fault.KindMismatch, "paymentRef", "payment transaction not found")
		}
		if receipt.Status != 1 {
			return fault.New(fault.KindMismatch, "paymentRef", "payment transaction failed on chain")
		}
		event := findBurnEvent(receipt, v.BurnContract)
		if event == nil {
			return fault.New(fault.KindMismatch, "paymentRef", "transaction carries no fee-burn event")
		}
		if event.TierIndex != verdict.Tier.EventIndex {
			return fault.New(fault.KindMismatch, "paymentRef",
				fmt.Sprintf("fee burned for tier index %d, transfer resolves to %d",
					event.TierIndex, verdict.Tier.EventIndex))
		}
		if !contractWallet {
			initiator, _ := chain.NormalizeAddress(in.Initiator)
			if event.Sender != initiator {
				return fault.New(fault.KindMismatch, "paymentRef", "fee was burned by a different account")
			}
		}
		verdict.FeePrimary = event.AmountPrimary.String()
		verdict.FeeSecondary = event.AmountSecondary.String()
		return nil
	default:
		return fault.New(fault.KindMalformed, "paymentRef", "unknown payment proof kind")
	}
}

func findBurnEvent(r *chain.Receipt, contract string) *chain.BurnEvent {
	want, _ := chain.NormalizeAddress(contract)
	for _, l := range r.Logs {
		if want != "" {
			emitter, ok := chain.NormalizeAddress(l.Address)
			if !ok || emitter != want {
				continue
			}
		}
		if ev, ok := chain.DecodeBurnEvent(l); ok {
			return ev
		}
	}
	return nil
}
