package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ReferenceVerifier re-queries the provider for a payment reference.
type ReferenceVerifier interface {
	VerifyPayment(ctx context.Context, reference string) (VerificationResult, error)
}

// InvoiceSource loads the current balance of an invoice.
type InvoiceSource interface {
	InvoiceSnapshot(ctx context.Context, id int64) (Invoice, error)
}

// VerifyRequest asks for a payment reference to be checked and applied.
type VerifyRequest struct {
	Reference string
	// ExpectedInvoiceID, when set, must match the invoice id the provider echoes back.
	ExpectedInvoiceID int64
	Gateway           string
	Trigger           Trigger
	Request           RequestInfo
}

// Verifier is shared by the browser return and the webhook so both apply
// identical business rules.
type Verifier struct {
	Provider ReferenceVerifier
	Invoices InvoiceSource
	Engine   *Engine
	Logger   zerolog.Logger
}

// Verify re-confirms the reference with the provider and reconciles it. The
// returned error is set only when no outcome could be decided: the provider
// call or the invoice lookup failed.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) (Result, error) {
	ctx, span := otel.Tracer("payment.Verifier").Start(ctx, "PaymentVerifier.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("payment.trigger", string(req.Trigger)))

	if v == nil || v.Provider == nil || v.Invoices == nil || v.Engine == nil {
		return Result{}, errors.New("payment: verifier not configured")
	}

	verification, err := v.Provider.VerifyPayment(ctx, strings.TrimSpace(req.Reference))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	result, reconcile := v.Decide(verification, req.ExpectedInvoiceID)
	if !reconcile {
		v.Logger.Info().
			Str("trigger", string(req.Trigger)).
			Str("status", string(verification.Status)).
			Str("outcome", result.Outcome.String()).
			Str("reason", result.Reason).
			Msg("payment_not_reconciled")
		return result, nil
	}

	invoice, err := v.Invoices.InvoiceSnapshot(ctx, result.InvoiceID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("payment: load invoice %d: %w", result.InvoiceID, err)
	}

	return v.Engine.Reconcile(ctx, Claim{
		Gateway:      req.Gateway,
		Trigger:      req.Trigger,
		Invoice:      invoice,
		Verification: verification,
		Request:      req.Request,
	}), nil
}

// Decide dispatches on the verified status without touching the ledger. It
// reports true when the payment is COMPLETED for a usable invoice and must be
// handed to the Engine; otherwise Result holds the final outcome.
func (v *Verifier) Decide(verification VerificationResult, expectedInvoiceID int64) (Result, bool) {
	result := Result{
		InvoiceID:     verification.InvoiceID,
		TransactionID: verification.TransactionID,
		Amount:        verification.Amount,
	}
	invoiceID := verification.InvoiceID
	if invoiceID <= 0 {
		if id, ok := InvoiceIDFromMetadata(verification.Metadata); ok {
			invoiceID = id
		}
	}
	if invoiceID <= 0 {
		result.Outcome = OutcomeVerificationFailed
		result.Reason = "invoice id missing from verification metadata"
		return result, false
	}
	result.InvoiceID = invoiceID
	if expectedInvoiceID > 0 && expectedInvoiceID != invoiceID {
		result.Outcome = OutcomeVerificationFailed
		result.Reason = fmt.Sprintf("verification is for invoice %d, not %d", invoiceID, expectedInvoiceID)
		return result, false
	}

	switch verification.Status {
	case StatusCompleted:
		return result, true
	case StatusPending:
		result.Outcome = OutcomePending
	default:
		result.Outcome = OutcomeVerificationFailed
		result.Reason = fmt.Sprintf("unexpected payment status %q", verification.Status)
	}
	return result, false
}
