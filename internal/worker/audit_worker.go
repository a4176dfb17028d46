// Package worker consumes ledger events and checks that cached account
// balances still match the transactions behind them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wallet/internal/amqp"
	"wallet/internal/cache"
	"wallet/internal/core"
	applog "wallet/internal/log"
	"wallet/internal/sheets"
)

// Auditor recomputes balances from the ledger.
type Auditor interface {
	AuditAccount(ctx context.Context, id int64) (core.BalanceAudit, error)
	AuditAll(ctx context.Context) ([]core.BalanceAudit, error)
}

// SeriesReader provides the yearly series exported after each change.
type SeriesReader interface {
	YearlySeries(ctx context.Context, owner string, year int) (core.YearSeries, error)
}

// AuditWorker reacts to ledger events. Every touched account is audited and,
// when a report writer is configured, the owner's yearly series is exported.
// A periodic sweep audits all accounts as a backstop for lost messages.
type AuditWorker struct {
	auditor Auditor
	series  SeriesReader
	reports sheets.ReportWriter
	logger  *applog.Logger

	// Event IDs already handled, so redeliveries do not export twice.
	processed cache.Cache[time.Time]

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewAuditWorker creates a worker. reports may be nil to disable exports.
func NewAuditWorker(auditor Auditor, series SeriesReader, reports sheets.ReportWriter, logger *applog.Logger) *AuditWorker {
	if logger == nil {
		logger = applog.Discard()
	}
	return &AuditWorker{
		auditor: auditor,
		series:  series,
		reports: reports,
		logger:  logger.WithComponent(applog.ComponentWorker),
	}
}

// WithDeduplication remembers handled event IDs in c. Only successfully
// handled events are recorded.
func (w *AuditWorker) WithDeduplication(c cache.Cache[time.Time]) *AuditWorker {
	w.processed = c
	return w
}

// HandleLedgerEvent processes a single ledger event from AMQP. Returning an
// error makes the broker redeliver it.
func (w *AuditWorker) HandleLedgerEvent(ctx context.Context, event amqp.LedgerEvent) error {
	key := event.EventID.String()
	if w.processed != nil {
		if _, seen := w.processed.Get(key); seen {
			w.logger.DebugContext(ctx, "Duplicate ledger event, skipping",
				applog.FieldEventID, event.EventID)
			return nil
		}
	}

	ctx = applog.WithContext(ctx, w.logger.With(applog.FieldEventID, event.EventID))
	if err := w.handle(ctx, event); err != nil {
		return err
	}
	if w.processed != nil {
		w.processed.Set(key, time.Now())
	}
	return nil
}

func (w *AuditWorker) handle(ctx context.Context, event amqp.LedgerEvent) error {
	logger := w.log(ctx)
	logger.InfoContext(ctx, "Processing ledger event",
		applog.FieldEventKind, event.Kind,
		applog.FieldOwner, event.Owner)

	for _, id := range event.AccountIDs {
		audit, err := w.auditor.AuditAccount(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			// Deleted since the event was published, nothing left to check.
			logger.DebugContext(ctx, "Account gone, skipping audit",
				applog.FieldAccountID, id)
			continue
		}
		if err != nil {
			return fmt.Errorf("audit account %d: %w", id, err)
		}
		w.report(ctx, audit)
	}

	if event.Kind == amqp.EventAccountDeleted || w.reports == nil || event.Year <= 0 {
		return nil
	}
	return w.export(ctx, event.Owner, event.Year)
}

func (w *AuditWorker) export(ctx context.Context, owner string, year int) error {
	series, err := w.series.YearlySeries(ctx, owner, year)
	if err != nil {
		return fmt.Errorf("load yearly series: %w", err)
	}
	ref, err := w.reports.WriteYearlySeries(ctx, owner, series)
	if err != nil {
		w.log(ctx).ErrorContext(ctx, "Failed to export yearly series",
			applog.FieldOperation, applog.OpExport,
			applog.FieldOwner, owner,
			applog.FieldYear, year,
			applog.FieldError, err)
		return fmt.Errorf("export yearly series: %w", err)
	}
	w.log(ctx).DebugContext(ctx, "Yearly series exported",
		applog.FieldOperation, applog.OpExport,
		applog.FieldOwner, owner,
		applog.FieldYear, year,
		applog.FieldSheetsRef, ref)
	return nil
}

// report logs drift. Balances are never corrected automatically; a drifted
// account needs a human to look at it.
func (w *AuditWorker) report(ctx context.Context, audit core.BalanceAudit) bool {
	if audit.Consistent() {
		return false
	}
	w.log(ctx).ErrorContext(ctx, "Balance drift detected",
		applog.FieldOperation, applog.OpAudit,
		applog.FieldOwner, audit.Owner,
		applog.FieldAccountID, audit.AccountID,
		"cached_cents", audit.Cached.Cents,
		"expected_cents", audit.Expected.Cents,
		applog.FieldDriftCents, audit.Drift().Cents)
	return true
}

// log returns the event-scoped logger when ctx carries one.
func (w *AuditWorker) log(ctx context.Context) *applog.Logger {
	return applog.FromContextOr(ctx, w.logger)
}

// SweepAll audits every account and returns the ones that drifted.
func (w *AuditWorker) SweepAll(ctx context.Context) ([]core.BalanceAudit, error) {
	audits, err := w.auditor.AuditAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit all accounts: %w", err)
	}

	var drifted []core.BalanceAudit
	for _, a := range audits {
		if w.report(ctx, a) {
			drifted = append(drifted, a)
		}
	}

	w.logger.InfoContext(ctx, "Balance sweep completed",
		"accounts", len(audits),
		"drifted", len(drifted))
	return drifted, nil
}

// Start runs SweepAll immediately and then every interval. Returns an error
// if already running.
func (w *AuditWorker) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid sweep interval %s", interval)
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("audit worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	go w.runLoop(ctx, interval, stopCh, doneCh)

	w.logger.InfoContext(ctx, "Audit sweeps started", "interval", interval)
	return nil
}

// Stop waits for the sweep loop to exit or ctx to expire.
func (w *AuditWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.running = false
	w.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		w.logger.InfoContext(ctx, "Audit sweeps stopped")
		return nil
	case <-ctx.Done():
		w.logger.WarnContext(ctx, "Audit sweep stop timed out")
		return ctx.Err()
	}
}

func (w *AuditWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *AuditWorker) runLoop(ctx context.Context, interval time.Duration, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.sweep(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *AuditWorker) sweep(ctx context.Context) {
	if _, err := w.SweepAll(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Balance sweep failed", applog.FieldError, err)
	}
}
