// Package ledger tracks consumable resources in the control-plane store:
// used payment references, monthly free allowances, the cleanup index, and
// the upload record indexes.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"3send.xyz/send/store"
)

// Store namespaces. Keys within each namespace:
//
//	payment-refs:      <paymentRef>        -> refMarker JSON
//	free-usage:        <identity>          -> Usage JSON
//	cleanup-index:     <paymentRef>        -> CleanupEntry JSON
//	uploads-recipient: <address>/<ref>     -> UploadRecord JSON
//	uploads-initiator: <address>/<ref>     -> UploadRecord JSON
const (
	NSPaymentRefs       = "payment-refs"
	NSFreeUsage         = "free-usage"
	NSCleanupIndex      = "cleanup-index"
	NSUploadsByReceiver = "uploads-recipient"
	NSUploadsBySender   = "uploads-initiator"
)

var (
	ErrAlreadyUsed        = errors.New("ledger: payment reference already used")
	ErrAllowanceExhausted = errors.New("ledger: monthly free allowance exhausted")
)

// Manager owns the ledgers. MonthlyFreeLimit is the number of free transfers
// one identity may make per calendar month (UTC).
type Manager struct {
	Store            store.Store
	MonthlyFreeLimit int
	Now              func() time.Time

	// quotaMu serializes the read-modify-write of one identity's usage
	// record; the store itself only guarantees atomicity for SetIfAbsent.
	quotaMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New returns a Manager with the given store and free limit.
func New(s store.Store, monthlyFreeLimit int) *Manager {
	return &Manager{
		Store:            s,
		MonthlyFreeLimit: monthlyFreeLimit,
		Now:              time.Now,
		locks:            make(map[string]*sync.Mutex),
	}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// refMarker is the value stored under a payment reference key.
type refMarker struct {
	State      string `json:"state"` // "pending" or "used"
	ContentID  string `json:"contentId,omitempty"`
	ReservedAt int64  `json:"reservedAt"`
	UsedAt     int64  `json:"usedAt,omitempty"`
}

// CheckUnused reports whether the payment reference has never been consumed.
func (m *Manager) CheckUnused(ctx context.Context, ref string) error {
	_, ok, err := m.Store.Get(ctx, NSPaymentRefs, ref)
	if err != nil {
		return fmt.Errorf("ledger: check payment ref: %w", err)
	}
	if ok {
		return ErrAlreadyUsed
	}
	return nil
}

// Reserve atomically claims the payment reference with a pending marker.
// Exactly one concurrent caller wins; the rest get ErrAlreadyUsed.
func (m *Manager) Reserve(ctx context.Context, ref string) error {
	marker, err := json.Marshal(refMarker{State: "pending", ReservedAt: m.now().UnixMilli()})
	if err != nil {
		return err
	}
	won, err := m.Store.SetIfAbsent(ctx, NSPaymentRefs, ref, marker)
	if err != nil {
		return fmt.Errorf("ledger: reserve payment ref: %w", err)
	}
	if !won {
		return ErrAlreadyUsed
	}
	return nil
}

// Commit replaces the pending marker with the terminal used marker. Only
// called after the transfer is fully accepted; idempotent.
func (m *Manager) Commit(ctx context.Context, ref, contentID string) error {
	marker, err := json.Marshal(refMarker{
		State:     "used",
		ContentID: contentID,
		UsedAt:    m.now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	if err := m.Store.Set(ctx, NSPaymentRefs, ref, marker); err != nil {
		return fmt.Errorf("ledger: commit payment ref: %w", err)
	}
	return nil
}

// Release removes a pending reservation after a failed transfer. It must not
// be called once Commit has run.
func (m *Manager) Release(ctx context.Context, ref string) error {
	if err := m.Store.Delete(ctx, NSPaymentRefs, ref); err != nil {
		return fmt.Errorf("ledger: release payment ref: %w", err)
	}
	return nil
}

// Usage is one identity's free-transfer consumption for a month.
type Usage struct {
	MonthKey  string `json:"monthKey"`
	Used      int    `json:"used"`
	UpdatedAt int64  `json:"updatedAt"`
}

// MonthKey renders the UTC month bucket for t, e.g. "2026-08".
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// ReserveFreeAllowance consumes one unit of the identity's monthly free
// allowance. The counter resets implicitly when the stored month differs
// from the current one. After a successful reservation, used never exceeds
// the monthly limit.
func (m *Manager) ReserveFreeAllowance(ctx context.Context, identity string) error {
	identity = strings.ToLower(identity)
	lock := m.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	usage, err := m.loadUsage(ctx, identity)
	if err != nil {
		return err
	}
	month := MonthKey(m.now())
	if usage.MonthKey != month {
		usage = Usage{MonthKey: month}
	}
	if usage.Used >= m.MonthlyFreeLimit {
		return ErrAllowanceExhausted
	}
	usage.Used++
	usage.UpdatedAt = m.now().UnixMilli()
	return m.saveUsage(ctx, identity, usage)
}

// ReleaseFreeAllowance returns one unit after a failed transfer. Best effort:
// if the month rolled over in between, there is nothing to return.
func (m *Manager) ReleaseFreeAllowance(ctx context.Context, identity string) error {
	identity = strings.ToLower(identity)
	lock := m.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	usage, err := m.loadUsage(ctx, identity)
	if err != nil {
		return err
	}
	if usage.MonthKey != MonthKey(m.now()) || usage.Used == 0 {
		return nil
	}
	usage.Used--
	usage.UpdatedAt = m.now().UnixMilli()
	return m.saveUsage(ctx, identity, usage)
}

// FreeRemaining reports how many free transfers the identity has left this
// month.
func (m *Manager) FreeRemaining(ctx context.Context, identity string) (int, error) {
	usage, err := m.loadUsage(ctx, strings.ToLower(identity))
	if err != nil {
		return 0, err
	}
	if usage.MonthKey != MonthKey(m.now()) {
		return m.MonthlyFreeLimit, nil
	}
	remaining := m.MonthlyFreeLimit - usage.Used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (m *Manager) loadUsage(ctx context.Context, identity string) (Usage, error) {
	var usage Usage
	raw, ok, err := m.Store.Get(ctx, NSFreeUsage, identity)
	if err != nil {
		return usage, fmt.Errorf("ledger: load usage: %w", err)
	}
	if !ok {
		return usage, nil
	}
	if err := json.Unmarshal(raw, &usage); err != nil {
		return usage, fmt.Errorf("ledger: corrupt usage record for %s: %w", identity, err)
	}
	return usage, nil
}

func (m *Manager) saveUsage(ctx context.Context, identity string, usage Usage) error {
	raw, err := json.Marshal(usage)
	if err != nil {
		return err
	}
	if err := m.Store.Set(ctx, NSFreeUsage, identity, raw); err != nil {
		return fmt.Errorf("ledger: save usage: %w", err)
	}
	return nil
}

func (m *Manager) identityLock(identity string) *sync.Mutex {
	m.quotaMu.Lock()
	defer m.quotaMu.Unlock()
	if m.locks == nil {
		m.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := m.locks[identity]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[identity] = lock
	}
	return lock
}
