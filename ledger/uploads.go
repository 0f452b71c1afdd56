package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"3send.xyz/send/envelope"
)

// UploadRecord is the durable description of one accepted transfer. It is
// indexed twice, once per participant, so either side can list their
// transfers without a scan.
//
// Envelope carries the full decryption metadata; without it the recipient
// could never recompute the shared secret for the stored ciphertext. The
// ciphertext itself lives in the blob store under StoredName.
type UploadRecord struct {
	PaymentRef   string             `json:"paymentRef"`
	ContentID    string             `json:"contentId"`
	Recipient    string             `json:"recipient"`
	Initiator    string             `json:"initiator"`
	ChainID      string             `json:"chainId"`
	TierID       string             `json:"tierId"`
	Filename     string             `json:"filename,omitempty"`
	StoredName   string             `json:"storedName"`
	PlainBytes   int64              `json:"plainBytes"`
	CipherBytes  int64              `json:"cipherBytes"`
	SentAt       int64              `json:"sentAt"`
	StoredAt     int64              `json:"storedAt"`
	ExpiresAt    int64              `json:"expiresAt"`
	Free         bool               `json:"free"`
	FeePrimary   string             `json:"feePrimary,omitempty"`
	FeeSecondary string             `json:"feeSecondary,omitempty"`
	Envelope     *envelope.Envelope `json:"envelope"`
}

func uploadKey(address, paymentRef string) string {
	return strings.ToLower(address) + "/" + paymentRef
}

// PutUploadRecord writes the record under both participant indexes.
func (m *Manager) PutUploadRecord(ctx context.Context, rec UploadRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := m.Store.Set(ctx, NSUploadsByReceiver, uploadKey(rec.Recipient, rec.PaymentRef), raw); err != nil {
		return fmt.Errorf("ledger: index upload by recipient: %w", err)
	}
	if err := m.Store.Set(ctx, NSUploadsBySender, uploadKey(rec.Initiator, rec.PaymentRef), raw); err != nil {
		return fmt.Errorf("ledger: index upload by initiator: %w", err)
	}
	return nil
}

// UploadsByRecipient lists every record addressed to the given identity.
func (m *Manager) UploadsByRecipient(ctx context.Context, address string) ([]UploadRecord, error) {
	return m.uploadsIn(ctx, NSUploadsByReceiver, address)
}

// UploadsByInitiator lists every record sent by the given identity.
func (m *Manager) UploadsByInitiator(ctx context.Context, address string) ([]UploadRecord, error) {
	return m.uploadsIn(ctx, NSUploadsBySender, address)
}

func (m *Manager) uploadsIn(ctx context.Context, ns, address string) ([]UploadRecord, error) {
	all, err := m.Store.GetAll(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("ledger: list uploads: %w", err)
	}
	prefix := strings.ToLower(address) + "/"
	var out []UploadRecord
	for key, raw := range all {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		var rec UploadRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("ledger: corrupt upload record %s: %w", key, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
