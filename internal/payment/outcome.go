package payment

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrDuplicateTransaction is reported by a Ledger when the transaction
// reference already exists. Ledgers must enforce this on insert, not only on
// lookup, so concurrent deliveries cannot both credit.
var ErrDuplicateTransaction = errors.New("payment: transaction already recorded")

// Outcome is the terminal result of verifying and reconciling one payment.
type Outcome int

const (
	// OutcomeCredited means the ledger was updated by this call.
	OutcomeCredited Outcome = iota + 1
	// OutcomeAlreadyCredited means the reference was recorded earlier for the same invoice.
	OutcomeAlreadyCredited
	// OutcomePending means the provider has not settled the payment yet.
	OutcomePending
	// OutcomeAmountInsufficient means the paid amount is below the invoice balance.
	OutcomeAmountInsufficient
	// OutcomeVerificationFailed covers unknown statuses and unusable provider answers.
	OutcomeVerificationFailed
	// OutcomeLedgerUpdateFailed means the ledger refused or failed the credit.
	OutcomeLedgerUpdateFailed
	// OutcomeTransactionUsed means the reference is already recorded against another invoice.
	OutcomeTransactionUsed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCredited:
		return "credited"
	case OutcomeAlreadyCredited:
		return "already_credited"
	case OutcomePending:
		return "pending"
	case OutcomeAmountInsufficient:
		return "amount_insufficient"
	case OutcomeVerificationFailed:
		return "verification_failed"
	case OutcomeLedgerUpdateFailed:
		return "ledger_update_failed"
	case OutcomeTransactionUsed:
		return "transaction_used"
	default:
		return "unknown"
	}
}

// Settled reports whether the invoice is paid as far as this payment is concerned.
func (o Outcome) Settled() bool {
	return o == OutcomeCredited || o == OutcomeAlreadyCredited
}

// Result carries the outcome plus the facts it was decided on.
type Result struct {
	Outcome       Outcome
	InvoiceID     int64
	TransactionID string
	Amount        decimal.Decimal
	// Reason is a short internal explanation, never shown to payers.
	Reason string
	Err    error
}

// LedgerError wraps a failure reported by the ledger collaborator.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("payment: ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
