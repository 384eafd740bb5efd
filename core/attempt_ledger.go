package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AttemptDecision is the ledger's answer to a login attempt.
// LockedUntil is the zero time unless the client is locked out.
type AttemptDecision struct {
	Allowed     bool
	Remaining   int
	LockedUntil time.Time
}

// RetryAfter is how long a locked-out client has to wait from now.
func (d AttemptDecision) RetryAfter(now time.Time) time.Duration {
	if d.LockedUntil.IsZero() || !now.Before(d.LockedUntil) {
		return 0
	}
	return d.LockedUntil.Sub(now)
}

// AttemptRecord is the per-client state kept by the ledger.
type AttemptRecord struct {
	Count         int
	LastAttemptAt time.Time
	LockedUntil   time.Time
}

func (r AttemptRecord) locked(now time.Time) bool {
	return !r.LockedUntil.IsZero() && now.Before(r.LockedUntil)
}

type ledgerEntry struct {
	mu      sync.Mutex
	rec     AttemptRecord
	removed bool
}

// AttemptLedger counts login attempts per client and locks clients out after
// too many. Calls for one client are serialised on that client's entry; calls
// for different clients do not contend.
//
// The ledger lives in process memory. Instances behind a load balancer each
// keep their own counts.
type AttemptLedger struct {
	entries sync.Map // clientID -> *ledgerEntry

	maxAttempts int
	lockout     time.Duration
	window      time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// LedgerOption customises an AttemptLedger.
type LedgerOption func(*AttemptLedger)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *AttemptLedger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLedgerLogger attaches a logger for lockout events.
func WithLedgerLogger(logger *zap.Logger) LedgerOption {
	return func(l *AttemptLedger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewAttemptLedger builds a ledger from the attempt settings in cfg.
func NewAttemptLedger(cfg SecurityConfig, opts ...LedgerOption) *AttemptLedger {
	l := &AttemptLedger{
		maxAttempts: cfg.MaxAttempts,
		lockout:     cfg.LockoutDuration,
		window:      cfg.ResetWindow,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordAttempt registers a login attempt from clientID and decides whether it may proceed.
func (l *AttemptLedger) RecordAttempt(clientID string) AttemptDecision {
	for {
		e := l.entry(clientID)
		e.mu.Lock()
		if e.removed {
			// Lost a race with Reset or Sweep; the map now holds (or will hold) a fresh entry.
			e.mu.Unlock()
			continue
		}
		d := l.apply(clientID, &e.rec)
		e.mu.Unlock()
		return d
	}
}

func (l *AttemptLedger) entry(clientID string) *ledgerEntry {
	if v, ok := l.entries.Load(clientID); ok {
		return v.(*ledgerEntry)
	}
	v, _ := l.entries.LoadOrStore(clientID, &ledgerEntry{})
	return v.(*ledgerEntry)
}

func (l *AttemptLedger) apply(clientID string, rec *AttemptRecord) AttemptDecision {
	now := l.now()

	switch {
	case rec.locked(now):
		return AttemptDecision{Allowed: false, Remaining: 0, LockedUntil: rec.LockedUntil}
	case !rec.LockedUntil.IsZero():
		// Lock served; this attempt opens a new series.
		*rec = AttemptRecord{}
	case rec.Count > 0 && now.Sub(rec.LastAttemptAt) > l.window:
		*rec = AttemptRecord{}
	}

	rec.Count++
	rec.LastAttemptAt = now
	if rec.Count >= l.maxAttempts {
		rec.LockedUntil = now.Add(l.lockout)
		metricLockouts.Inc()
		l.logger.Warn("login lockout engaged",
			zap.String("client_id", clientID),
			zap.Int("attempts", rec.Count),
			zap.Time("locked_until", rec.LockedUntil))
		return AttemptDecision{Allowed: false, Remaining: 0, LockedUntil: rec.LockedUntil}
	}
	return AttemptDecision{Allowed: true, Remaining: l.maxAttempts - rec.Count}
}

// Reset forgets everything recorded for clientID.
func (l *AttemptLedger) Reset(clientID string) {
	v, ok := l.entries.Load(clientID)
	if !ok {
		return
	}
	e := v.(*ledgerEntry)
	e.mu.Lock()
	e.removed = true
	l.entries.CompareAndDelete(clientID, e)
	e.mu.Unlock()
}

// Snapshot returns a copy of the record for clientID, if any.
func (l *AttemptLedger) Snapshot(clientID string) (AttemptRecord, bool) {
	v, ok := l.entries.Load(clientID)
	if !ok {
		return AttemptRecord{}, false
	}
	e := v.(*ledgerEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return AttemptRecord{}, false
	}
	return e.rec, true
}

// Sweep drops records that are neither locked nor inside the reset window
// and returns how many were removed. RecordAttempt treats such records as
// absent, so sweeping only bounds memory.
func (l *AttemptLedger) Sweep(now time.Time) int {
	removed := 0
	l.entries.Range(func(key, value any) bool {
		e := value.(*ledgerEntry)
		e.mu.Lock()
		if !e.removed && l.stale(e.rec, now) {
			e.removed = true
			l.entries.CompareAndDelete(key, e)
			removed++
		}
		e.mu.Unlock()
		return true
	})
	return removed
}

func (l *AttemptLedger) stale(rec AttemptRecord, now time.Time) bool {
	if rec.locked(now) {
		return false
	}
	if !rec.LockedUntil.IsZero() {
		return true
	}
	return now.Sub(rec.LastAttemptAt) > l.window
}

// Len returns the number of tracked clients.
func (l *AttemptLedger) Len() int {
	n := 0
	l.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// RunJanitor sweeps the ledger every interval until ctx is cancelled.
func (l *AttemptLedger) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(l.now()); n > 0 {
				l.logger.Debug("swept stale login attempt records", zap.Int("removed", n))
			}
			metricLedgerRecords.Set(float64(l.Len()))
		}
	}
}
