package ledger

import (
	"context"
	"encoding/json"
	"fmt"
)

// CleanupEntry is one row of the retention index. State moves active ->
// deleted exactly once; the entry itself stays behind as an audit trail.
type CleanupEntry struct {
	PaymentRef      string `json:"paymentRef"`
	ContentID       string `json:"contentId"`
	Recipient       string `json:"recipient"`
	Initiator       string `json:"initiator"`
	SentAt          int64  `json:"sentAt"`
	ExpiresAt       int64  `json:"expiresAt"`
	State           string `json:"state"` // CleanupActive or CleanupDeleted
	MarkedDeletedAt int64  `json:"markedDeletedAt,omitempty"`
}

const (
	CleanupActive  = "active"
	CleanupDeleted = "deleted"
)

// PutCleanupEntry records a stored transfer for the retention sweeper.
func (m *Manager) PutCleanupEntry(ctx context.Context, e CleanupEntry) error {
	if e.PaymentRef == "" {
		return fmt.Errorf("ledger: cleanup entry needs a payment ref")
	}
	if e.State == "" {
		e.State = CleanupActive
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := m.Store.Set(ctx, NSCleanupIndex, e.PaymentRef, raw); err != nil {
		return fmt.Errorf("ledger: put cleanup entry: %w", err)
	}
	return nil
}

// CleanupEntries returns a snapshot of every retention row, raw values
// included so the caller can decide how to treat unparseable ones.
func (m *Manager) CleanupEntries(ctx context.Context) (map[string][]byte, error) {
	all, err := m.Store.GetAll(ctx, NSCleanupIndex)
	if err != nil {
		return nil, fmt.Errorf("ledger: list cleanup entries: %w", err)
	}
	return all, nil
}

// MarkCleanupDeleted flips the entry to the deleted state. Missing entries
// are not an error; the sweeper may race a second sweeper.
func (m *Manager) MarkCleanupDeleted(ctx context.Context, paymentRef string) error {
	raw, ok, err := m.Store.Get(ctx, NSCleanupIndex, paymentRef)
	if err != nil {
		return fmt.Errorf("ledger: load cleanup entry: %w", err)
	}
	if !ok {
		return nil
	}
	var e CleanupEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return fmt.Errorf("ledger: corrupt cleanup entry %s: %w", paymentRef, err)
	}
	if e.State == CleanupDeleted {
		return nil
	}
	e.State = CleanupDeleted
	e.MarkedDeletedAt = m.now().UnixMilli()
	updated, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := m.Store.Set(ctx, NSCleanupIndex, paymentRef, updated); err != nil {
		return fmt.Errorf("ledger: mark cleanup entry: %w", err)
	}
	return nil
}
