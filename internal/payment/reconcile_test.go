package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memLedger struct {
	mu      sync.Mutex
	entries map[string]Transaction
	credits []Credit
	// skipLookup simulates a race where the pre-check misses a concurrent insert.
	skipLookup bool
	// missLookups makes only the next n lookups miss.
	missLookups int
	creditErr  error
	findErr    error
}

func newMemLedger() *memLedger {
	return &memLedger{entries: map[string]Transaction{}}
}

func (l *memLedger) FindTransaction(_ context.Context, id string) (Transaction, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.findErr != nil {
		return Transaction{}, false, l.findErr
	}
	if l.skipLookup {
		return Transaction{}, false, nil
	}
	if l.missLookups > 0 {
		l.missLookups--
		return Transaction{}, false, nil
	}
	tx, ok := l.entries[id]
	return tx, ok, nil
}

func (l *memLedger) Credit(_ context.Context, c Credit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.creditErr != nil {
		return l.creditErr
	}
	if _, ok := l.entries[c.TransactionID]; ok {
		return ErrDuplicateTransaction
	}
	l.entries[c.TransactionID] = Transaction{InvoiceID: c.InvoiceID, TransactionID: c.TransactionID, Amount: c.Amount}
	l.credits = append(l.credits, c)
	return nil
}

func (l *memLedger) creditCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.credits)
}

type recordingAuditor struct {
	mu      sync.Mutex
	records []AuditRecord
	ledger  *memLedger
	// creditsSeen captures how many credits existed when each record was written.
	creditsSeen []int
	err         error
}

func (a *recordingAuditor) RecordTransaction(_ context.Context, rec AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	if a.ledger != nil {
		a.creditsSeen = append(a.creditsSeen, a.ledger.creditCount())
	}
	return a.err
}

func completed(txID, amount string, invoiceID int64) VerificationResult {
	return VerificationResult{
		Status:        StatusCompleted,
		TransactionID: txID,
		Amount:        decimal.RequireFromString(amount),
		InvoiceID:     invoiceID,
		Metadata:      map[string]any{"invoice_id": invoiceID},
		Raw:           []byte(`{"status":"COMPLETED"}`),
	}
}

func invoice100() Invoice {
	return Invoice{ID: 100, Balance: decimal.RequireFromString("500.00"), Currency: "USD"}
}

func fixedNow() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

func TestReconcileCreditsThenReportsAlreadyCredited(t *testing.T) {
	ledger := newMemLedger()
	engine := &Engine{Ledger: ledger, Now: fixedNow}
	claim := Claim{Gateway: "uddoktapay", Trigger: TriggerVerify, Invoice: invoice100(), Verification: completed("TXN1", "500.00", 100)}

	first := engine.Reconcile(context.Background(), claim)
	require.Equal(t, OutcomeCredited, first.Outcome)
	require.True(t, first.Outcome.Settled())

	second := engine.Reconcile(context.Background(), claim)
	require.Equal(t, OutcomeAlreadyCredited, second.Outcome)
	require.True(t, second.Outcome.Settled())

	require.Len(t, ledger.credits, 1)
	credit := ledger.credits[0]
	require.Equal(t, int64(100), credit.InvoiceID)
	require.Equal(t, "TXN1", credit.TransactionID)
	require.True(t, credit.Amount.Equal(decimal.RequireFromString("500.00")))
	require.True(t, credit.Fee.IsZero())
	require.Equal(t, "uddoktapay", credit.Gateway)
	require.Equal(t, fixedNow(), credit.PaidAt)
}

func TestReconcileRejectsShortPayment(t *testing.T) {
	ledger := newMemLedger()
	auditor := &recordingAuditor{}
	engine := &Engine{Ledger: ledger, Auditor: auditor}

	res := engine.Reconcile(context.Background(), Claim{Invoice: invoice100(), Verification: completed("TXN2", "250.00", 100)})
	require.Equal(t, OutcomeAmountInsufficient, res.Outcome)
	require.Empty(t, ledger.credits)
	require.Empty(t, auditor.records)
}

func TestReconcileDuplicateWinsOverShortAmount(t *testing.T) {
	ledger := newMemLedger()
	ledger.entries["TXN3"] = Transaction{InvoiceID: 100, TransactionID: "TXN3"}
	engine := &Engine{Ledger: ledger}

	res := engine.Reconcile(context.Background(), Claim{Invoice: invoice100(), Verification: completed("TXN3", "1.00", 100)})
	require.Equal(t, OutcomeAlreadyCredited, res.Outcome)
	require.Empty(t, ledger.credits)
}

func TestReconcileReferenceRecordedForOtherInvoice(t *testing.T) {
	ledger := newMemLedger()
	ledger.entries["TXN9"] = Transaction{InvoiceID: 7, TransactionID: "TXN9"}
	engine := &Engine{Ledger: ledger}

	res := engine.Reconcile(context.Background(), Claim{Invoice: invoice100(), Verification: completed("TXN9", "500.00", 100)})
	require.Equal(t, OutcomeTransactionUsed, res.Outcome)
	require.False(t, res.Outcome.Settled())
	require.Empty(t, ledger.credits)
}

func TestReconcileOverpaymentCreditsBalance(t *testing.T) {
	ledger := newMemLedger()
	engine := &Engine{Ledger: ledger}

	res := engine.Reconcile(context.Background(), Claim{Invoice: invoice100(), Verification: completed("TXN4", "510.00", 100)})
	require.Equal(t, OutcomeCredited, res.Outcome)
	require.True(t, ledger.credits[0].Amount.Equal(decimal.RequireFromString("500.00")))
}

func TestReconcileAuditsBeforeLedgerMutation(t *testing.T) {
	ledger := newMemLedger()
	auditor := &recordingAuditor{ledger: ledger}
	engine := &Engine{Ledger: ledger, Auditor: auditor}
	req := RequestInfo{Method: "POST", Path: "/checkout/default", RemoteIP: "10.0.0.1"}

	res := engine.Reconcile(context.Background(), Claim{Trigger: TriggerNotify, Invoice: invoice100(), Verification: completed("TXN5", "500.00", 100), Request: req})
	require.Equal(t, OutcomeCredited, res.Outcome)
	require.Len(t, auditor.records, 1)
	require.Equal(t, []int{0}, auditor.creditsSeen)
	require.Equal(t, "TXN5", auditor.records[0].TransactionID)
	require.Equal(t, TriggerNotify, auditor.records[0].Trigger)
	require.Equal(t, req, auditor.records[0].Request)
	require.JSONEq(t, `{"status":"COMPLETED"}`, string(auditor.records[0].Payload))
}

func TestReconcileAuditFailureDoesNotBlockCredit(t *testing.T) {
	ledger := newMemLedger()
	engine := &Engine{Ledger: ledger, Auditor: &recordingAuditor{err: errors.New("disk full")}}

	res := engine.Reconcile(context.Background(), Claim{Invoice: invoice100(), Verification: completed("TXN6", "500.00", 100)})
	require.Equal(t, OutcomeCredited, res.Outcome)
}

func TestReconcileLedgerFailure(t *testing.T) {
	ledger := newMemLedger()
	ledger.creditErr = errors.New("connection reset")
	auditor := &recordingAuditor{}
	engine := &Engine{Ledger: ledger, Auditor: auditor}

	res := engine.Reconcile(context.Background(), Claim{Invoice: invoice100(), Verification: completed("TXN7", "500.00", 100)})
	require.Equal(t, OutcomeLedgerUpdateFailed, res.Outcome)
	var ledgerErr *LedgerError
	require.ErrorAs(t, res.Err, &ledgerErr)
	require.Equal(t, "credit", ledgerErr.Op)
	// failed mutations remain auditable
	require.Len(t, auditor.records, 1)
}

func TestReconcileLookupFailure(t *testing.T) {
	ledger := newMemLedger()
	ledger.findErr = errors.New("timeout")
	engine := &Engine{Ledger: ledger}

	res := engine.Reconcile(context.Background(), Claim{Invoice: invoice100(), Verification: completed("TXN8", "500.00", 100)})
	require.Equal(t, OutcomeLedgerUpdateFailed, res.Outcome)
	require.Empty(t, ledger.credits)
}

func TestReconcileInsertDuplicateMapsToAlreadyCredited(t *testing.T) {
	ledger := newMemLedger()
	ledger.entries["TXN10"] = Transaction{InvoiceID: 100, TransactionID: "TXN10"}
	ledger.missLookups = 1
	engine := &Engine{Ledger: ledger}

	res := engine.Reconcile(context.Background(), Claim{Invoice: invoice100(), Verification: completed("TXN10", "500.00", 100)})
	require.Equal(t, OutcomeAlreadyCredited, res.Outcome)
	require.Empty(t, ledger.credits)
}

func TestReconcileInsertDuplicateForOtherInvoiceIsTransactionUsed(t *testing.T) {
	ledger := newMemLedger()
	ledger.entries["TXN12"] = Transaction{InvoiceID: 200, TransactionID: "TXN12"}
	ledger.missLookups = 1
	engine := &Engine{Ledger: ledger}

	res := engine.Reconcile(context.Background(), Claim{Invoice: invoice100(), Verification: completed("TXN12", "500.00", 100)})
	require.Equal(t, OutcomeTransactionUsed, res.Outcome)
	require.Empty(t, ledger.credits)
	require.Equal(t, int64(200), ledger.entries["TXN12"].InvoiceID)
}

func TestReconcileConcurrentDeliveriesCreditOnce(t *testing.T) {
	ledger := newMemLedger()
	ledger.skipLookup = true
	engine := &Engine{Ledger: ledger}
	claim := Claim{Invoice: invoice100(), Verification: completed("TXN11", "500.00", 100)}

	var wg sync.WaitGroup
	outcomes := make(chan Outcome, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- engine.Reconcile(context.Background(), claim).Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[Outcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	require.Equal(t, 1, counts[OutcomeCredited])
	require.Equal(t, 7, counts[OutcomeAlreadyCredited])
	require.Equal(t, 1, ledger.creditCount())
}

func TestReconcileMissingTransactionID(t *testing.T) {
	engine := &Engine{Ledger: newMemLedger()}
	res := engine.Reconcile(context.Background(), Claim{Invoice: invoice100(), Verification: completed(" ", "500.00", 100)})
	require.Equal(t, OutcomeVerificationFailed, res.Outcome)
}

type stubLocker struct {
	keys []string
	err  error
}

func (s *stubLocker) WithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	s.keys = append(s.keys, key)
	if s.err != nil {
		return s.err
	}
	return fn(ctx)
}

func TestReconcileHoldsLockPerReference(t *testing.T) {
	locker := &stubLocker{}
	engine := &Engine{Ledger: newMemLedger(), Locker: locker}

	res := engine.Reconcile(context.Background(), Claim{Invoice: invoice100(), Verification: completed("TXN12", "500.00", 100)})
	require.Equal(t, OutcomeCredited, res.Outcome)
	require.Equal(t, []string{"payment:reconcile:TXN12"}, locker.keys)
}

func TestReconcileFallsBackWhenLockUnavailable(t *testing.T) {
	ledger := newMemLedger()
	engine := &Engine{Ledger: ledger, Locker: &stubLocker{err: errors.New("redis down")}}

	res := engine.Reconcile(context.Background(), Claim{Invoice: invoice100(), Verification: completed("TXN13", "500.00", 100)})
	require.Equal(t, OutcomeCredited, res.Outcome)
	require.Equal(t, 1, ledger.creditCount())
}
