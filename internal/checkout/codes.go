package checkout

import (
	"errors"

	"github.com/noah-isme/uddoktapay-gateway/internal/payment"
	"github.com/noah-isme/uddoktapay-gateway/internal/uddoktapay"
)

// ErrorCode is the value carried in the invoice view's error query parameter.
type ErrorCode string

const (
	CodeCancelled           ErrorCode = "cancelled"
	CodeInvalidResponse     ErrorCode = "irs"
	CodeTransactionUsed     ErrorCode = "tau"
	CodeLowPaidAmount       ErrorCode = "lpa"
	CodePendingVerification ErrorCode = "pfv"
	CodeSomethingWrong      ErrorCode = "sww"
)

var codeMessages = map[ErrorCode]string{
	CodeCancelled:           "Payment has been cancelled.",
	CodeInvalidResponse:     "Invalid response from UddoktaPay API.",
	CodeTransactionUsed:     "This transaction has already been processed.",
	CodeLowPaidAmount:       "The paid amount is less than the required amount.",
	CodePendingVerification: "Your payment is pending verification.",
	CodeSomethingWrong:      "Something went wrong. Please try again.",
}

// Message returns the payer-facing text for a code. Unknown codes are
// returned unchanged.
func Message(code string) string {
	if msg, ok := codeMessages[ErrorCode(code)]; ok {
		return msg
	}
	return code
}

// Message returns the payer-facing text for c.
func (c ErrorCode) Message() string { return Message(string(c)) }

// CodeForOutcome maps an outcome to its error code. Settled outcomes report false.
func CodeForOutcome(o payment.Outcome) (ErrorCode, bool) {
	switch o {
	case payment.OutcomeCredited, payment.OutcomeAlreadyCredited:
		return "", false
	case payment.OutcomePending:
		return CodePendingVerification, true
	case payment.OutcomeAmountInsufficient:
		return CodeLowPaidAmount, true
	case payment.OutcomeVerificationFailed:
		return CodeInvalidResponse, true
	case payment.OutcomeTransactionUsed:
		return CodeTransactionUsed, true
	default:
		return CodeSomethingWrong, true
	}
}

// CodeForError maps a failure that produced no outcome to an error code.
func CodeForError(err error) ErrorCode {
	var (
		vErr *uddoktapay.ValidationError
		pErr *uddoktapay.ProviderError
		aErr *uddoktapay.AuthError
	)
	switch {
	case errors.As(err, &vErr), errors.As(err, &pErr), errors.As(err, &aErr):
		return CodeInvalidResponse
	default:
		return CodeSomethingWrong
	}
}
