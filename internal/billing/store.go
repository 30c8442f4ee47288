package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/uddoktapay-gateway/internal/payment"
)

var (
	// ErrStoreUnavailable indicates the database dependency is not configured.
	ErrStoreUnavailable = errors.New("billing: store unavailable")
	// ErrInvoiceNotFound is returned when no invoice matches the id.
	ErrInvoiceNotFound = errors.New("billing: invoice not found")
	// ErrClientNotFound is returned when the invoice owner is missing.
	ErrClientNotFound = errors.New("billing: client not found")
	// ErrCurrencyNotFound is returned when the client currency is missing.
	ErrCurrencyNotFound = errors.New("billing: currency not found")
)

const uniqueViolation = "23505"

// InvoiceStatusPaid marks an invoice with no outstanding balance.
const InvoiceStatusPaid = "Paid"

// Invoice is a billing invoice.
type Invoice struct {
	ID       int64
	ClientID int64
	Status   string
	Total    decimal.Decimal
	Balance  decimal.Decimal
	DatePaid *time.Time
}

// Client is the invoice owner.
type Client struct {
	ID          int64
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber string
	CurrencyID  int64
}

// Currency is a billing currency.
type Currency struct {
	ID   int64
	Code string
}

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store reads invoices and records payments in Postgres.
type Store struct {
	db DB
}

// NewStore constructs a Store backed by a pgx pool.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Invoice fetches an invoice by id.
func (s *Store) Invoice(ctx context.Context, id int64) (Invoice, error) {
	if s == nil || s.db == nil {
		return Invoice{}, ErrStoreUnavailable
	}
	row := s.db.QueryRow(ctx, `SELECT id, client_id, status, total::text, balance::text, date_paid FROM invoices WHERE id = $1`, id)
	var (
		inv            Invoice
		total, balance string
	)
	if err := row.Scan(&inv.ID, &inv.ClientID, &inv.Status, &total, &balance, &inv.DatePaid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	var err error
	if inv.Total, err = decimal.NewFromString(total); err != nil {
		return Invoice{}, fmt.Errorf("billing: invoice %d total: %w", id, err)
	}
	if inv.Balance, err = decimal.NewFromString(balance); err != nil {
		return Invoice{}, fmt.Errorf("billing: invoice %d balance: %w", id, err)
	}
	return inv, nil
}

// InvoiceSnapshot returns the outstanding balance and currency of an invoice.
func (s *Store) InvoiceSnapshot(ctx context.Context, id int64) (payment.Invoice, error) {
	if s == nil || s.db == nil {
		return payment.Invoice{}, ErrStoreUnavailable
	}
	row := s.db.QueryRow(ctx, `SELECT i.id, i.balance::text, COALESCE(cur.code, '')
FROM invoices i
JOIN clients c ON c.id = i.client_id
LEFT JOIN currencies cur ON cur.id = c.currency_id
WHERE i.id = $1`, id)
	var (
		snap    payment.Invoice
		balance string
	)
	if err := row.Scan(&snap.ID, &balance, &snap.Currency); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payment.Invoice{}, ErrInvoiceNotFound
		}
		return payment.Invoice{}, err
	}
	parsed, err := decimal.NewFromString(balance)
	if err != nil {
		return payment.Invoice{}, fmt.Errorf("billing: invoice %d balance: %w", id, err)
	}
	snap.Balance = parsed
	return snap, nil
}

// Client fetches a client by id.
func (s *Store) Client(ctx context.Context, id int64) (Client, error) {
	if s == nil || s.db == nil {
		return Client{}, ErrStoreUnavailable
	}
	row := s.db.QueryRow(ctx, `SELECT id, first_name, last_name, email, phone_number, COALESCE(currency_id, 0) FROM clients WHERE id = $1`, id)
	var c Client
	if err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.PhoneNumber, &c.CurrencyID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, ErrClientNotFound
		}
		return Client{}, err
	}
	return c, nil
}

// Currency fetches a currency by id.
func (s *Store) Currency(ctx context.Context, id int64) (Currency, error) {
	if s == nil || s.db == nil {
		return Currency{}, ErrStoreUnavailable
	}
	row := s.db.QueryRow(ctx, `SELECT id, code FROM currencies WHERE id = $1`, id)
	var c Currency
	if err := row.Scan(&c.ID, &c.Code); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Currency{}, ErrCurrencyNotFound
		}
		return Currency{}, err
	}
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	return c, nil
}

// FindTransaction looks up a recorded payment by its provider reference.
func (s *Store) FindTransaction(ctx context.Context, transactionID string) (payment.Transaction, bool, error) {
	if s == nil || s.db == nil {
		return payment.Transaction{}, false, ErrStoreUnavailable
	}
	row := s.db.QueryRow(ctx, `SELECT invoice_id, trans_id, amount::text FROM invoice_transactions WHERE trans_id = $1`, transactionID)
	var (
		tx     payment.Transaction
		amount string
	)
	if err := row.Scan(&tx.InvoiceID, &tx.TransactionID, &amount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payment.Transaction{}, false, nil
		}
		return payment.Transaction{}, false, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return payment.Transaction{}, false, fmt.Errorf("billing: transaction %s amount: %w", transactionID, err)
	}
	tx.Amount = parsed
	return tx, true, nil
}

// Credit records the payment and lowers the invoice balance in one
// transaction. The unique constraint on trans_id rejects a second insert of
// the same reference with payment.ErrDuplicateTransaction.
func (s *Store) Credit(ctx context.Context, credit payment.Credit) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var balanceText string
	if err := tx.QueryRow(ctx, `SELECT balance::text FROM invoices WHERE id = $1 FOR UPDATE`, credit.InvoiceID).Scan(&balanceText); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvoiceNotFound
		}
		return err
	}
	balance, err := decimal.NewFromString(balanceText)
	if err != nil {
		return fmt.Errorf("billing: invoice %d balance: %w", credit.InvoiceID, err)
	}

	paidAt := credit.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, `INSERT INTO invoice_transactions (invoice_id, trans_id, gateway, amount, fee, paid_at)
VALUES ($1, $2, $3, $4::text::numeric, $5::text::numeric, $6)`,
		credit.InvoiceID, credit.TransactionID, credit.Gateway, credit.Amount.String(), credit.Fee.String(), paidAt)
	if err != nil {
		if isUniqueViolation(err) {
			return payment.ErrDuplicateTransaction
		}
		return err
	}

	remaining := balance.Sub(credit.Amount)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	if remaining.IsZero() {
		_, err = tx.Exec(ctx, `UPDATE invoices SET balance = $2::text::numeric, status = $3, date_paid = $4 WHERE id = $1`,
			credit.InvoiceID, remaining.String(), InvoiceStatusPaid, paidAt)
	} else {
		_, err = tx.Exec(ctx, `UPDATE invoices SET balance = $2::text::numeric WHERE id = $1`, credit.InvoiceID, remaining.String())
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
