// Package sweep reclaims expired transfers: the sweeper walks the cleanup
// index, deletes expired blobs, and flips their entries to the deleted state.
package sweep

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"3send.xyz/send/blob"
	"3send.xyz/send/ledger"
)

// Sweeper performs one reclamation pass at a time.
type Sweeper struct {
	Ledger *ledger.Manager
	Blobs  blob.Store
	Logger *slog.Logger
	Now    func() time.Time
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// SweepOnce scans the whole cleanup index. Expired active entries have their
// blob deleted and are marked deleted; entries that fail to decode are logged
// and skipped so one bad row never wedges the sweep. Returns the number of
// entries examined and the number newly deleted.
func (s *Sweeper) SweepOnce(ctx context.Context) (processed, deleted int, err error) {
	entries, err := s.Ledger.CleanupEntries(ctx)
	if err != nil {
		return 0, 0, err
	}
	now := s.now().UnixMilli()
	for key, raw := range entries {
		if err := ctx.Err(); err != nil {
			return processed, deleted, err
		}
		processed++
		var e ledger.CleanupEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			s.logger().Warn("skipping malformed cleanup entry", "key", key, "error", err)
			continue
		}
		if e.State != ledger.CleanupActive || e.ExpiresAt > now {
			continue
		}
		if e.ContentID != "" {
			if err := s.Blobs.Delete(ctx, e.ContentID); err != nil {
				s.logger().Error("blob delete failed, will retry next sweep",
					"paymentRef", e.PaymentRef, "contentId", e.ContentID, "error", err)
				continue
			}
		}
		if err := s.Ledger.MarkCleanupDeleted(ctx, e.PaymentRef); err != nil {
			s.logger().Error("marking cleanup entry failed",
				"paymentRef", e.PaymentRef, "error", err)
			continue
		}
		deleted++
	}
	return processed, deleted, nil
}

// Runner drives a Sweeper on a fixed interval. Its lifecycle belongs to the
// caller; there is no package-level scheduler.
type Runner struct {
	Sweeper  *Sweeper
	Interval time.Duration
	Logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the sweep loop. The loop stops when ctx is canceled or Stop
// is called. Starting an already-started runner is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
}

// Stop cancels the loop and waits for the in-flight sweep to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed, deleted, err := r.Sweeper.SweepOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error("sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				log.Info("sweep complete", "processed", processed, "deleted", deleted)
			}
		}
	}
}
