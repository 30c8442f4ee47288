package payment

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Status is the provider's verdict on a payment.
type Status string

const (
	// StatusCompleted means the provider has captured the funds.
	StatusCompleted Status = "COMPLETED"
	// StatusPending means the payment exists but awaits manual or network confirmation.
	StatusPending Status = "PENDING"
)

// VerificationResult is the provider's authoritative answer for one payment
// reference, as returned by its verify endpoint.
type VerificationResult struct {
	Status        Status
	TransactionID string
	Amount        decimal.Decimal
	// InvoiceID is the billing invoice id echoed back through metadata; zero
	// when the provider did not return a usable value.
	InvoiceID int64
	Metadata  map[string]any
	// Raw is the undecoded verify response, kept for the transaction log.
	Raw json.RawMessage
}
