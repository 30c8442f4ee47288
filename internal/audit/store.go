package audit

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrStoreUnavailable indicates the database dependency is not configured.
var ErrStoreUnavailable = errors.New("audit: store unavailable")

// Querier is the subset of pgxpool.Pool used by the log store.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// NewStore constructs a Store backed by Postgres.
func NewStore(db Querier) Store {
	return &pgStore{db: db}
}

type pgStore struct {
	db Querier
}

func (s *pgStore) InsertTransactionLog(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	_, err := s.db.Exec(ctx, `INSERT INTO gateway_transaction_log
(gateway, trigger, invoice_id, transaction_id, status, amount, payload, method, path, query, ip, user_agent, request_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7::jsonb, $8, $9, $10, $11, $12, $13, $14)`,
		e.Gateway, e.Trigger, e.InvoiceID, e.TransactionID, e.Status, e.Amount, string(e.Payload),
		e.Method, e.Path, e.Query, e.IP, e.UserAgent, e.RequestID, e.CreatedAt)
	return err
}

func (s *pgStore) ListTransactionLogs(ctx context.Context, f ListFilter) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []any
	)
	if f.InvoiceID > 0 {
		args = append(args, f.InvoiceID)
		where = append(where, "invoice_id = $"+strconv.Itoa(len(args)))
	}
	if tx := strings.TrimSpace(f.TransactionID); tx != "" {
		args = append(args, tx)
		where = append(where, "transaction_id = $"+strconv.Itoa(len(args)))
	}
	query := `SELECT id, gateway, trigger, invoice_id, transaction_id, status, amount::text, payload::text, method, path, query, ip, user_agent, request_id, created_at FROM gateway_transaction_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	query += " ORDER BY created_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e       Entry
			invoice sql.NullInt64
			payload string
		)
		if err := rows.Scan(&e.ID, &e.Gateway, &e.Trigger, &invoice, &e.TransactionID, &e.Status, &e.Amount, &payload,
			&e.Method, &e.Path, &e.Query, &e.IP, &e.UserAgent, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if invoice.Valid {
			id := invoice.Int64
			e.InvoiceID = &id
		}
		e.Payload = []byte(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
