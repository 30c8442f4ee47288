package payment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Trigger names the entry point that asked for verification.
type Trigger string

const (
	// TriggerVerify is the customer's browser returning from checkout.
	TriggerVerify Trigger = "verify"
	// TriggerNotify is the provider's server-to-server webhook.
	TriggerNotify Trigger = "notify"
)

// Invoice is the balance snapshot taken when the request started.
type Invoice struct {
	ID       int64
	Balance  decimal.Decimal
	Currency string
}

// Transaction is an entry already present in the ledger.
type Transaction struct {
	InvoiceID     int64
	TransactionID string
	Amount        decimal.Decimal
}

// Credit is a payment to apply against an invoice.
type Credit struct {
	InvoiceID     int64
	TransactionID string
	Amount        decimal.Decimal
	Fee           decimal.Decimal
	Gateway       string
	PaidAt        time.Time
}

// Ledger is the billing system's transaction store.
type Ledger interface {
	FindTransaction(ctx context.Context, transactionID string) (Transaction, bool, error)
	// Credit records the payment, returning ErrDuplicateTransaction when the
	// reference is already present.
	Credit(ctx context.Context, credit Credit) error
}

// RequestInfo describes the inbound HTTP request that triggered reconciliation.
type RequestInfo struct {
	Method    string
	Path      string
	Query     string
	RemoteIP  string
	UserAgent string
	RequestID string
}

// AuditRecord is written before every ledger mutation attempt.
type AuditRecord struct {
	Gateway       string
	Trigger       Trigger
	InvoiceID     int64
	TransactionID string
	Status        Status
	Amount        decimal.Decimal
	Payload       json.RawMessage
	Request       RequestInfo
	RecordedAt    time.Time
}

// Auditor persists AuditRecords.
type Auditor interface {
	RecordTransaction(ctx context.Context, rec AuditRecord) error
}

// Locker serialises work on a key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Claim is a completed verification ready to be applied to an invoice.
type Claim struct {
	Gateway      string
	Trigger      Trigger
	Invoice      Invoice
	Verification VerificationResult
	Request      RequestInfo
}

// Engine is the only component that mutates the ledger.
type Engine struct {
	Ledger  Ledger
	Auditor Auditor
	Locker  Locker
	LockTTL time.Duration
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Reconcile applies a completed payment to its invoice. The duplicate check
// runs before the amount check, so a redelivered short payment still reports
// OutcomeAlreadyCredited.
func (e *Engine) Reconcile(ctx context.Context, claim Claim) Result {
	ctx, span := otel.Tracer("payment.Engine").Start(ctx, "PaymentEngine.Reconcile")
	defer span.End()

	txID := strings.TrimSpace(claim.Verification.TransactionID)
	result := Result{
		InvoiceID:     claim.Invoice.ID,
		TransactionID: txID,
		Amount:        claim.Verification.Amount,
	}
	span.SetAttributes(
		attribute.Int64("invoice.id", claim.Invoice.ID),
		attribute.String("payment.transaction_id", txID),
		attribute.String("payment.trigger", string(claim.Trigger)),
	)
	defer func() {
		span.SetAttributes(attribute.String("payment.outcome", result.Outcome.String()))
	}()

	if e == nil || e.Ledger == nil {
		result.Outcome = OutcomeLedgerUpdateFailed
		result.Err = &LedgerError{Op: "configure", Err: errors.New("ledger not configured")}
		return result
	}
	if txID == "" {
		result.Outcome = OutcomeVerificationFailed
		result.Reason = "transaction id missing from verification"
		return result
	}
	if claim.Invoice.ID <= 0 {
		result.Outcome = OutcomeVerificationFailed
		result.Reason = "invoice id missing"
		return result
	}

	if e.Locker == nil {
		return e.apply(ctx, claim, result)
	}
	var locked Result
	err := e.Locker.WithLock(ctx, "payment:reconcile:"+txID, e.LockTTL, func(lockCtx context.Context) error {
		locked = e.apply(lockCtx, claim, result)
		return nil
	})
	if err == nil {
		result = locked
		return result
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.Outcome = OutcomeLedgerUpdateFailed
		result.Err = &LedgerError{Op: "lock", Err: ctxErr}
		return result
	}
	// the ledger's unique reference still guards against double credit
	e.logger(ctx).Warn().Err(err).Str("transaction_id", txID).Msg("reconcile_lock_unavailable")
	result = e.apply(ctx, claim, result)
	return result
}

func (e *Engine) apply(ctx context.Context, claim Claim, result Result) Result {
	logger := e.logger(ctx).With().
		Int64("invoice_id", claim.Invoice.ID).
		Str("transaction_id", result.TransactionID).
		Str("trigger", string(claim.Trigger)).
		Logger()

	existing, found, err := e.Ledger.FindTransaction(ctx, result.TransactionID)
	if err != nil {
		result.Outcome = OutcomeLedgerUpdateFailed
		result.Err = &LedgerError{Op: "find_transaction", Err: err}
		logger.Error().Err(err).Msg("ledger_lookup_failed")
		return result
	}
	if found {
		if existing.InvoiceID != claim.Invoice.ID {
			result.Outcome = OutcomeTransactionUsed
			result.Reason = "transaction recorded against another invoice"
			logger.Warn().Int64("recorded_invoice_id", existing.InvoiceID).Msg("transaction_reused")
			return result
		}
		result.Outcome = OutcomeAlreadyCredited
		logger.Info().Msg("payment_already_credited")
		return result
	}

	if claim.Verification.Amount.LessThan(claim.Invoice.Balance) {
		result.Outcome = OutcomeAmountInsufficient
		result.Reason = "paid " + claim.Verification.Amount.String() + " below balance " + claim.Invoice.Balance.String()
		logger.Warn().
			Str("paid", claim.Verification.Amount.String()).
			Str("balance", claim.Invoice.Balance.String()).
			Msg("payment_amount_insufficient")
		return result
	}

	now := e.now()
	if e.Auditor != nil {
		rec := AuditRecord{
			Gateway:       claim.Gateway,
			Trigger:       claim.Trigger,
			InvoiceID:     claim.Invoice.ID,
			TransactionID: result.TransactionID,
			Status:        claim.Verification.Status,
			Amount:        claim.Verification.Amount,
			Payload:       claim.Verification.Raw,
			Request:       claim.Request,
			RecordedAt:    now,
		}
		if err := e.Auditor.RecordTransaction(ctx, rec); err != nil {
			logger.Error().Err(err).Msg("payment_audit_failed")
		}
	}

	// credit the balance snapshot, the amount this invoice was owed
	credit := Credit{
		InvoiceID:     claim.Invoice.ID,
		TransactionID: result.TransactionID,
		Amount:        claim.Invoice.Balance,
		Fee:           decimal.Zero,
		Gateway:       claim.Gateway,
		PaidAt:        now,
	}
	if err := e.Ledger.Credit(ctx, credit); err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			// a concurrent insert won; it may belong to another invoice
			existing, found, findErr := e.Ledger.FindTransaction(ctx, result.TransactionID)
			if findErr == nil && found && existing.InvoiceID != claim.Invoice.ID {
				result.Outcome = OutcomeTransactionUsed
				result.Reason = "transaction recorded against another invoice"
				logger.Warn().Int64("recorded_invoice_id", existing.InvoiceID).Msg("transaction_reused_on_insert")
				return result
			}
			if findErr != nil {
				logger.Warn().Err(findErr).Msg("ledger_lookup_after_duplicate_failed")
			}
			result.Outcome = OutcomeAlreadyCredited
			logger.Info().Msg("payment_already_credited_on_insert")
			return result
		}
		result.Outcome = OutcomeLedgerUpdateFailed
		result.Err = &LedgerError{Op: "credit", Err: err}
		logger.Error().Err(err).Msg("ledger_credit_failed")
		return result
	}
	result.Amount = credit.Amount
	result.Outcome = OutcomeCredited
	logger.Info().Str("amount", credit.Amount.String()).Msg("payment_credited")
	return result
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &e.Logger
}
