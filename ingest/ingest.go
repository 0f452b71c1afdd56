// Package ingest sequences one upload end to end: verification, ledger
// reservation, blob streaming, and durable record writes, with compensation
// on every failure path.
package ingest

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"3send.xyz/send/blob"
	"3send.xyz/send/fault"
	"3send.xyz/send/ledger"
	"3send.xyz/send/payment"
)

// Request is one upload attempt. Filename and ContentType describe the
// streamed ciphertext object, not the plaintext.
type Request struct {
	payment.Input
	Filename    string
	ContentType string
}

// Timings breaks an accepted upload down by pipeline stage.
type Timings struct {
	Verify    time.Duration `json:"verify"`
	Ledger    time.Duration `json:"ledger"`
	BlobWrite time.Duration `json:"blobWrite"`
	Record    time.Duration `json:"record"`
}

// Orchestrator wires the collaborators for the upload pipeline. Retention
// controls how long stored transfers live before the sweeper reclaims them.
type Orchestrator struct {
	Verifier  *payment.Verifier
	Ledger    *ledger.Manager
	Blobs     blob.Store
	Retention time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Ingest runs the pipeline. On any error after a reservation was taken, the
// reservation is released and any stored blob deleted before returning; a
// used marker is never left behind without its record.
func (o *Orchestrator) Ingest(ctx context.Context, req Request, body io.Reader) (*ledger.UploadRecord, *Timings, error) {
	timings := &Timings{}

	verifyStart := o.now()
	verdict, err := o.Verifier.Verify(ctx, req.Input)
	timings.Verify = o.now().Sub(verifyStart)
	if err != nil {
		return nil, timings, err
	}
	ref := verdict.Proof.Ref

	ledgerStart := o.now()
	if err := o.Ledger.CheckUnused(ctx, ref); err != nil {
		return nil, timings, ledgerFault(err)
	}
	if err := o.Ledger.Reserve(ctx, ref); err != nil {
		return nil, timings, ledgerFault(err)
	}
	freeReserved := false
	initiator := strings.ToLower(req.Initiator)
	if verdict.Kind == payment.ProofFree {
		if err := o.Ledger.ReserveFreeAllowance(ctx, initiator); err != nil {
			o.release(ref, initiator, false, "")
			return nil, timings, ledgerFault(err)
		}
		freeReserved = true
	}
	timings.Ledger = o.now().Sub(ledgerStart)

	blobStart := o.now()
	declared := req.Envelope.CiphertextLength
	limited := io.LimitReader(body, int64(declared)+1)
	secret := AccessSecretFor(req.Recipient)
	contentID, written, err := o.Blobs.Put(ctx, limited, req.Filename, req.ContentType, secret)
	timings.BlobWrite = o.now().Sub(blobStart)
	if err != nil {
		o.release(ref, initiator, freeReserved, contentID)
		return nil, timings, fault.Wrap(fault.KindInfrastructure, "file", "storing ciphertext failed", err)
	}
	if uint64(written) != declared {
		o.release(ref, initiator, freeReserved, contentID)
		return nil, timings, fault.New(fault.KindIntegrity, "file", "ciphertext length disagrees with the declared length")
	}
	if err := ctx.Err(); err != nil {
		o.release(ref, initiator, freeReserved, contentID)
		return nil, timings, err
	}

	recordStart := o.now()
	storedAt := o.now()
	// Retention counts from the signed sent-at timestamp, not from when the
	// bytes landed; the verifier bounds how far ahead sent-at may lie.
	expiresAt := time.UnixMilli(verdict.SentAtMillis).Add(o.Retention)
	rec := ledger.UploadRecord{
		PaymentRef:   ref,
		ContentID:    contentID,
		Recipient:    strings.ToLower(req.Recipient),
		Initiator:    initiator,
		ChainID:      chainIDString(req.ChainID),
		TierID:       verdict.Tier.ID,
		Filename:     verdict.Filename,
		StoredName:   contentID,
		PlainBytes:   int64(req.Envelope.PlaintextLength),
		CipherBytes:  int64(declared),
		SentAt:       verdict.SentAtMillis,
		StoredAt:     storedAt.UnixMilli(),
		ExpiresAt:    expiresAt.UnixMilli(),
		Free:         verdict.Kind == payment.ProofFree,
		FeePrimary:   verdict.FeePrimary,
		FeeSecondary: verdict.FeeSecondary,
		Envelope:     req.Envelope,
	}
	if err := o.Ledger.PutUploadRecord(ctx, rec); err != nil {
		o.release(ref, initiator, freeReserved, contentID)
		return nil, timings, fault.Wrap(fault.KindInfrastructure, "", "writing upload record failed", err)
	}
	if err := o.Ledger.Commit(ctx, ref, contentID); err != nil {
		o.release(ref, initiator, freeReserved, contentID)
		return nil, timings, fault.Wrap(fault.KindInfrastructure, "", "committing payment reference failed", err)
	}
	if err := o.Ledger.PutCleanupEntry(ctx, ledger.CleanupEntry{
		PaymentRef: ref,
		ContentID:  contentID,
		Recipient:  rec.Recipient,
		Initiator:  rec.Initiator,
		SentAt:     rec.SentAt,
		ExpiresAt:  rec.ExpiresAt,
		State:      ledger.CleanupActive,
	}); err != nil {
		// The transfer is already committed; the sweeper misses this entry but
		// nothing is inconsistent. Log and accept.
		o.logger().Error("cleanup entry write failed", "paymentRef", ref, "error", err)
	}
	timings.Record = o.now().Sub(recordStart)

	o.logger().Info("transfer accepted",
		"paymentRef", ref,
		"contentId", contentID,
		"tier", verdict.Tier.ID,
		"free", rec.Free,
		"cipherBytes", declared,
	)
	return &rec, timings, nil
}

// release undoes reservations after a failed ingest. Best effort; failures
// are logged, not returned, since the caller already has the primary error.
func (o *Orchestrator) release(ref, initiator string, freeReserved bool, contentID string) {
	ctx := context.Background()
	if contentID != "" {
		if err := o.Blobs.Delete(ctx, contentID); err != nil {
			o.logger().Error("compensation: blob delete failed", "contentId", contentID, "error", err)
		}
	}
	if freeReserved {
		if err := o.Ledger.ReleaseFreeAllowance(ctx, initiator); err != nil {
			o.logger().Error("compensation: free allowance release failed", "identity", initiator, "error", err)
		}
	}
	if err := o.Ledger.Release(ctx, ref); err != nil {
		o.logger().Error("compensation: payment ref release failed", "paymentRef", ref, "error", err)
	}
}

func ledgerFault(err error) error {
	switch {
	case errors.Is(err, ledger.ErrAlreadyUsed):
		return fault.Wrap(fault.KindExhausted, "paymentRef", "payment reference already used", err)
	case errors.Is(err, ledger.ErrAllowanceExhausted):
		return fault.Wrap(fault.KindExhausted, "paymentRef", "monthly free allowance exhausted", err)
	default:
		return fault.Wrap(fault.KindInfrastructure, "", "ledger unavailable", err)
	}
}

// AccessSecretFor derives the blob access secret for a recipient identity.
// Only the ingest path and the recipient-facing download path ever compute
// it; the secret never appears in stored records.
func AccessSecretFor(recipient string) string {
	sum := sha3.Sum256([]byte("3send/recipient-access/v1\x00" + strings.ToLower(recipient)))
	return hex.EncodeToString(sum[:])
}

func chainIDString(id uint64) string {
	return strconv.FormatUint(id, 10)
}
