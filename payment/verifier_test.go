package payment

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"3send.xyz/send/chain"
	"3send.xyz/send/chain/chaintest"
	"3send.xyz/send/envelope"
	"3send.xyz/send/fault"
	"3send.xyz/send/handshake"
	"3send.xyz/send/tier"
)

const (
	recipientAddr = "0x2222222222222222222222222222222222222222"
	testChainID   = 8453
	testTxRef     = "0x" + "ab" + "cd" + "0000000000000000000000000000000000000000000000000000000000ab"
)

// fakeEnvelope builds structurally valid metadata without running the cipher;
// the verifier never decrypts.
func fakeEnvelope(plain, ciphertext uint64) *envelope.Envelope {
	fill := func(n int, b byte) []byte {
		out := make([]byte, n)
		for i := range out {
			out[i] = b
		}
		return out
	}
	return &envelope.Envelope{
		Version:            envelope.Version,
		Algorithm:          envelope.Algorithm,
		EphemeralPublicKey: fill(envelope.KeySize, 0x11),
		IV:                 fill(envelope.NonceSize, 0x22),
		RecipientPublicKey: fill(envelope.KeySize, 0x33),
		PlaintextLength:    plain,
		CiphertextLength:   ciphertext,
	}
}

type scenario struct {
	priv      *secp256k1.PrivateKey
	initiator string
	chain     *chaintest.Client
	verifier  *Verifier
	input     Input
}

// paidScenario assembles a fully consistent paid transfer for the micro tier.
func paidScenario(t *testing.T) *scenario {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey failed: %v", err)
	}
	initiator := chain.AddressFromPub(priv.PubKey())
	env := fakeEnvelope(1024, 1040)

	message, err := handshake.Build(handshake.Params{
		From:           initiator,
		To:             recipientAddr,
		ChainID:        testChainID,
		PaymentRef:     testTxRef,
		SentAtMillis:   1756400000000,
		TierID:         "micro",
		PlainBytes:     env.PlaintextLength,
		CipherBytes:    env.CiphertextLength,
		Filename:       "report.pdf",
		MetadataDigest: envelope.Digest(env),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	sig, err := chain.Sign(priv, []byte(message))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	fake := chaintest.New()
	fake.AddReceipt(&chain.Receipt{
		TxHash: testTxRef,
		Status: 1,
		Logs:   []chain.Log{chaintest.BurnLog(initiator, 1, big.NewInt(1000000), big.NewInt(25))},
	})

	return &scenario{
		priv:      priv,
		initiator: initiator,
		chain:     fake,
		verifier:  &Verifier{Chain: fake, Tiers: tier.Default()},
		input: Input{
			Initiator:    initiator,
			Recipient:    recipientAddr,
			ChainID:      testChainID,
			TierID:       "micro",
			PaymentRef:   testTxRef,
			Message:      message,
			Signature:    sig,
			DeclaredSize: 1024,
			Envelope:     env,
		},
	}
}

func TestVerify_AcceptedPaidTransfer(t *testing.T) {
	s := paidScenario(t)
	verdict, err := s.verifier.Verify(context.Background(), s.input)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if verdict.Kind != ProofOnChain {
		t.Fatalf("Kind = %s, want paid", verdict.Kind)
	}
	if verdict.Tier.ID != "micro" {
		t.Fatalf("Tier = %s, want micro", verdict.Tier.ID)
	}
	if verdict.FeePrimary != "1000000" || verdict.FeeSecondary != "25" {
		t.Fatalf("fees = %s / %s", verdict.FeePrimary, verdict.FeeSecondary)
	}
	if verdict.ContractWallet {
		t.Fatalf("plain signature flagged as contract wallet")
	}
	if verdict.Message != s.input.Message {
		t.Fatalf("verdict message is not the client message")
	}
	if verdict.Filename != "report.pdf" {
		t.Fatalf("Filename = %q", verdict.Filename)
	}
}

func TestVerify_TamperedCipherSizeRejected(t *testing.T) {
	s := paidScenario(t)
	// The client inflates the declared ciphertext length after signing.
	s.input.Envelope.CiphertextLength++
	_, err := s.verifier.Verify(context.Background(), s.input)
	if err == nil {
		t.Fatalf("expected rejection")
	}
	if !fault.IsKind(err, fault.KindMismatch) {
		t.Fatalf("kind = %v, want Mismatch", err)
	}
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Field != "cipherBytes" {
		t.Fatalf("field = %q, want cipherBytes", fe.Field)
	}
}

func TestVerify_DeclaredSizeDisagreement(t *testing.T) {
	s := paidScenario(t)
	s.input.DeclaredSize = 999
	_, err := s.verifier.Verify(context.Background(), s.input)
	if !fault.IsKind(err, fault.KindMismatch) {
		t.Fatalf("kind = %v, want Mismatch", err)
	}
}

func TestVerify_TierAssertionMustMatchSize(t *testing.T) {
	s := paidScenario(t)
	s.input.TierID = "standard"
	_, err := s.verifier.Verify(context.Background(), s.input)
	if !fault.IsKind(err, fault.KindMismatch) {
		t.Fatalf("kind = %v, want Mismatch", err)
	}
}

func TestVerify_OversizeRejected(t *testing.T) {
	s := paidScenario(t)
	s.input.Envelope = fakeEnvelope(3<<30, 3<<30+16)
	s.input.DeclaredSize = 3 << 30
	_, err := s.verifier.Verify(context.Background(), s.input)
	if !fault.IsKind(err, fault.KindMismatch) {
		t.Fatalf("kind = %v, want Mismatch", err)
	}
}

func TestVerify_WrongSignerRejected(t *testing.T) {
	s := paidScenario(t)
	other, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey failed: %v", err)
	}
	sig, err := chain.Sign(other, []byte(s.input.Message))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	s.input.Signature = sig
	_, err = s.verifier.Verify(context.Background(), s.input)
	if !fault.IsKind(err, fault.KindMismatch) {
		t.Fatalf("kind = %v, want Mismatch", err)
	}
}

func TestVerify_ReceiptMissingOrFailed(t *testing.T) {
	s := paidScenario(t)
	missing := "0x" + strings.Repeat("77", 32)
	s.input.PaymentRef = missing
	rebuilt := rebuildWithRef(t, s, missing)
	s.input.Message = rebuilt.message
	s.input.Signature = rebuilt.sig
	_, err := s.verifier.Verify(context.Background(), s.input)
	if !fault.IsKind(err, fault.KindMismatch) {
		t.Fatalf("missing receipt: kind = %v, want Mismatch", err)
	}

	s.chain.AddReceipt(&chain.Receipt{TxHash: missing, Status: 0})
	_, err = s.verifier.Verify(context.Background(), s.input)
	if !fault.IsKind(err, fault.KindMismatch) {
		t.Fatalf("failed tx: kind = %v, want Mismatch", err)
	}
}

func TestVerify_ChainOutageIsInfrastructure(t *testing.T) {
	s := paidScenario(t)
	s.chain.Err = errors.New("rpc timeout")
	_, err := s.verifier.Verify(context.Background(), s.input)
	if !fault.IsKind(err, fault.KindInfrastructure) {
		t.Fatalf("kind = %v, want Infrastructure", err)
	}
}

func TestVerify_BurnTierMustMatch(t *testing.T) {
	s := paidScenario(t)
	wrongTier := "0x" + strings.Repeat("88", 32)
	s.chain.AddReceipt(&chain.Receipt{
		TxHash: wrongTier,
		Status: 1,
		Logs:   []chain.Log{chaintest.BurnLog(s.initiator, 2, big.NewInt(5000000), big.NewInt(100))},
	})
	s.input.PaymentRef = wrongTier
	rebuilt := rebuildWithRef(t, s, wrongTier)
	s.input.Message = rebuilt.message
	s.input.Signature = rebuilt.sig
	_, err := s.verifier.Verify(context.Background(), s.input)
	if !fault.IsKind(err, fault.KindMismatch) {
		t.Fatalf("kind = %v, want Mismatch", err)
	}
}

func TestVerify_BurnSenderMustMatchInitiator(t *testing.T) {
	s := paidScenario(t)
	foreign := "0x" + strings.Repeat("99", 32)
	s.chain.AddReceipt(&chain.Receipt{
		TxHash: foreign,
		Status: 1,
		Logs:   []chain.Log{chaintest.BurnLog(recipientAddr, 1, big.NewInt(1000000), big.NewInt(25))},
	})
	s.input.PaymentRef = foreign
	rebuilt := rebuildWithRef(t, s, foreign)
	s.input.Message = rebuilt.message
	s.input.Signature = rebuilt.sig
	_, err := s.verifier.Verify(context.Background(), s.input)
	if !fault.IsKind(err, fault.KindMismatch) {
		t.Fatalf("kind = %v, want Mismatch", err)
	}
}

func TestVerify_FreeOnlySmallestTier(t *testing.T) {
	s := paidScenario(t)
	freeRef := FreePrefix + "nonce-1"
	s.input.PaymentRef = freeRef
	rebuilt := rebuildWithRef(t, s, freeRef)
	s.input.Message = rebuilt.message
	s.input.Signature = rebuilt.sig

	verdict, err := s.verifier.Verify(context.Background(), s.input)
	if err != nil {
		t.Fatalf("free micro transfer rejected: %v", err)
	}
	if verdict.Kind != ProofFree {
		t.Fatalf("Kind = %s, want free", verdict.Kind)
	}
	if verdict.FeePrimary != "" {
		t.Fatalf("free transfer recorded a fee: %s", verdict.FeePrimary)
	}

	// Same free claim on a standard-tier file must be rejected.
	s.input.Envelope = fakeEnvelope(100<<20, 100<<20+16)
	s.input.DeclaredSize = 100 << 20
	s.input.TierID = "standard"
	larger := rebuildFull(t, s, freeRef, "standard")
	s.input.Message = larger.message
	s.input.Signature = larger.sig
	_, err = s.verifier.Verify(context.Background(), s.input)
	if !fault.IsKind(err, fault.KindMismatch) {
		t.Fatalf("kind = %v, want Mismatch", err)
	}
}

func TestVerify_ContractWalletPath(t *testing.T) {
	s := paidScenario(t)
	// A 64-byte signature is treated as a contract-wallet signature. The fee
	// was burned by a relayer, not the wallet; with a verified contract
	// signature that is acceptable.
	relayed := "0x" + strings.Repeat("aa", 32)
	s.chain.AddReceipt(&chain.Receipt{
		TxHash: relayed,
		Status: 1,
		Logs:   []chain.Log{chaintest.BurnLog(recipientAddr, 1, big.NewInt(1000000), big.NewInt(25))},
	})
	s.input.PaymentRef = relayed
	rebuilt := rebuildWithRef(t, s, relayed)
	s.input.Message = rebuilt.message
	s.input.Signature = make([]byte, 64)
	s.chain.AcceptContractSignature(s.initiator, chain.PersonalDigest([]byte(rebuilt.message)))

	verdict, err := s.verifier.Verify(context.Background(), s.input)
	if err != nil {
		t.Fatalf("contract wallet transfer rejected: %v", err)
	}
	if !verdict.ContractWallet {
		t.Fatalf("ContractWallet flag not set")
	}

	// A wallet that does not accept the digest is a mismatch.
	fresh := chaintest.New()
	fresh.AddReceipt(&chain.Receipt{
		TxHash: relayed,
		Status: 1,
		Logs:   []chain.Log{chaintest.BurnLog(recipientAddr, 1, big.NewInt(1000000), big.NewInt(25))},
	})
	s.verifier.Chain = fresh
	_, err = s.verifier.Verify(context.Background(), s.input)
	if !fault.IsKind(err, fault.KindMismatch) {
		t.Fatalf("kind = %v, want Mismatch", err)
	}
}

func TestProofFromReference(t *testing.T) {
	p, err := ProofFromReference(FreePrefix + "abc")
	if err != nil || p.Kind != ProofFree {
		t.Fatalf("free proof: %+v, %v", p, err)
	}
	p, err = ProofFromReference(testTxRef)
	if err != nil || p.Kind != ProofOnChain || p.TxRef != testTxRef {
		t.Fatalf("paid proof: %+v, %v", p, err)
	}
	for _, bad := range []string{"", FreePrefix, "0x1234", "not-a-ref"} {
		if _, err := ProofFromReference(bad); !fault.IsKind(err, fault.KindMalformed) {
			t.Fatalf("ProofFromReference(%q) = %v, want Malformed", bad, err)
		}
	}
}

type signedMessage struct {
	message string
	sig     []byte
}

func rebuildWithRef(t *testing.T, s *scenario, ref string) signedMessage {
	t.Helper()
	return rebuildFull(t, s, ref, "micro")
}

func rebuildFull(t *testing.T, s *scenario, ref, tierID string) signedMessage {
	t.Helper()
	message, err := handshake.Build(handshake.Params{
		From:           s.initiator,
		To:             recipientAddr,
		ChainID:        testChainID,
		PaymentRef:     ref,
		SentAtMillis:   1756400000000,
		TierID:         tierID,
		PlainBytes:     s.input.Envelope.PlaintextLength,
		CipherBytes:    s.input.Envelope.CiphertextLength,
		Filename:       "report.pdf",
		MetadataDigest: envelope.Digest(s.input.Envelope),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	sig, err := chain.Sign(s.priv, []byte(message))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return signedMessage{message: message, sig: sig}
}

func TestVerify_BurnContractPinning(t *testing.T) {
	const feeContract = "0x9F8E7d6C5b4A39281706F5E4D3c2B1a098765432"

	s := paidScenario(t)
	s.verifier.BurnContract = feeContract
	// The burn event came from some other contract.
	_, err := s.verifier.Verify(context.Background(), s.input)
	if !fault.IsKind(err, fault.KindMismatch) {
		t.Fatalf("kind = %v, want Mismatch", err)
	}

	s = paidScenario(t)
	s.verifier.BurnContract = feeContract
	log := chaintest.BurnLog(s.initiator, 1, big.NewInt(1000000), big.NewInt(25))
	log.Address = strings.ToLower(feeContract)
	s.chain.AddReceipt(&chain.Receipt{
		TxHash: testTxRef,
		Status: 1,
		Logs:   []chain.Log{log},
	})
	if _, err := s.verifier.Verify(context.Background(), s.input); err != nil {
		t.Fatalf("Verify with pinned contract failed: %v", err)
	}
}

func TestVerify_FutureSentAtRejected(t *testing.T) {
	s := paidScenario(t)
	sent := time.UnixMilli(1756400000000)

	s.verifier.Now = func() time.Time { return sent.Add(-time.Hour) }
	_, err := s.verifier.Verify(context.Background(), s.input)
	if !fault.IsKind(err, fault.KindMismatch) {
		t.Fatalf("kind = %v, want Mismatch", err)
	}
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Field != "sentAt" {
		t.Fatalf("field = %q, want sentAt", fe.Field)
	}

	// Exactly at the skew bound the message still verifies.
	s.verifier.Now = func() time.Time { return sent.Add(-MaxSentAtSkew) }
	if _, err := s.verifier.Verify(context.Background(), s.input); err != nil {
		t.Fatalf("Verify at skew bound failed: %v", err)
	}
}
