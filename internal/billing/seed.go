package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SandboxInvoice describes a test invoice for exercising checkout against a
// provider sandbox.
type SandboxInvoice struct {
	Currency  string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Amount    decimal.Decimal
}

// SeedSandbox creates (or reuses) the currency, inserts a client and an
// unpaid invoice for Amount, and returns the invoice id.
func (s *Store) SeedSandbox(ctx context.Context, in SandboxInvoice) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreUnavailable
	}
	if !in.Amount.IsPositive() {
		return 0, errors.New("billing: sandbox amount must be positive")
	}
	if strings.TrimSpace(in.Email) == "" {
		return 0, errors.New("billing: sandbox email is required")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var currencyID int64
	if err := tx.QueryRow(ctx, `INSERT INTO currencies (code) VALUES ($1)
ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
RETURNING id`, strings.ToUpper(strings.TrimSpace(in.Currency))).Scan(&currencyID); err != nil {
		return 0, fmt.Errorf("billing: seed currency: %w", err)
	}

	var clientID int64
	if err := tx.QueryRow(ctx, `INSERT INTO clients (first_name, last_name, email, phone_number, currency_id)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		in.FirstName, in.LastName, in.Email, in.Phone, currencyID).Scan(&clientID); err != nil {
		return 0, fmt.Errorf("billing: seed client: %w", err)
	}

	var invoiceID int64
	if err := tx.QueryRow(ctx, `INSERT INTO invoices (client_id, total, balance)
VALUES ($1, $2::text::numeric, $2::text::numeric) RETURNING id`,
		clientID, in.Amount.StringFixed(2)).Scan(&invoiceID); err != nil {
		return 0, fmt.Errorf("billing: seed invoice: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return invoiceID, nil
}
