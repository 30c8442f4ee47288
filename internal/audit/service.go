package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/noah-isme/uddoktapay-gateway/internal/common"
	"github.com/noah-isme/uddoktapay-gateway/internal/obs"
	"github.com/noah-isme/uddoktapay-gateway/internal/payment"
)

// Entry is one row of the gateway transaction log.
type Entry struct {
	ID            int64           `json:"id,omitempty"`
	Gateway       string          `json:"gateway"`
	Trigger       string          `json:"trigger"`
	InvoiceID     *int64          `json:"invoice_id,omitempty"`
	TransactionID *string         `json:"transaction_id,omitempty"`
	Status        string          `json:"status"`
	Amount        *string         `json:"amount,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Method        string          `json:"method"`
	Path          string          `json:"path"`
	Query         *string         `json:"query,omitempty"`
	IP            *string         `json:"ip,omitempty"`
	UserAgent     *string         `json:"user_agent,omitempty"`
	RequestID     *string         `json:"request_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ListFilter narrows ListTransactionLogs.
type ListFilter struct {
	InvoiceID     int64
	TransactionID string
	Limit         int
	Offset        int
}

// Store defines the database operations required for the transaction log.
type Store interface {
	InsertTransactionLog(ctx context.Context, entry Entry) error
	ListTransactionLogs(ctx context.Context, filter ListFilter) ([]Entry, error)
}

// Service persists gateway transaction log entries.
type Service struct {
	Store   Store
	Enabled bool
	Logger  zerolog.Logger
}

// RecordTransaction writes the verification payload ahead of a ledger mutation.
func (s Service) RecordTransaction(ctx context.Context, rec payment.AuditRecord) error {
	entry := Entry{
		Gateway:   rec.Gateway,
		Trigger:   string(rec.Trigger),
		Status:    string(rec.Status),
		Payload:   normalizePayload(rec.Payload),
		CreatedAt: rec.RecordedAt,
	}
	if rec.InvoiceID > 0 {
		id := rec.InvoiceID
		entry.InvoiceID = &id
	}
	entry.TransactionID = pointerOf(rec.TransactionID)
	if !rec.Amount.IsZero() {
		entry.Amount = pointerOf(rec.Amount.String())
	}
	applyRequest(&entry, rec.Request)
	return s.Record(ctx, entry)
}

// Record persists an entry when the log is enabled.
func (s Service) Record(ctx context.Context, entry Entry) error {
	if !s.Enabled {
		return nil
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}
	if strings.TrimSpace(entry.Status) == "" {
		entry.Status = "unknown"
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if len(entry.Payload) == 0 {
		entry.Payload = json.RawMessage(`{}`)
	}
	s.Logger.Info().
		Str("gateway", entry.Gateway).
		Str("trigger", entry.Trigger).
		Str("status", entry.Status).
		Str("transaction_id", deref(entry.TransactionID)).
		Msg("gateway_transaction_log")
	return s.Store.InsertTransactionLog(ctx, entry)
}

// RequestInfo captures the request fields kept alongside each log entry.
func RequestInfo(r *http.Request) payment.RequestInfo {
	if r == nil {
		return payment.RequestInfo{}
	}
	path := obs.RoutePatternFromContext(r.Context())
	if path == "" {
		path = r.URL.Path
	}
	reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if reqID == "" {
		reqID = middleware.GetReqID(r.Context())
	}
	return payment.RequestInfo{
		Method:    r.Method,
		Path:      path,
		Query:     r.URL.RawQuery,
		RemoteIP:  common.ClientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: reqID,
	}
}

func applyRequest(entry *Entry, info payment.RequestInfo) {
	entry.Method = strings.ToUpper(strings.TrimSpace(info.Method))
	entry.Path = strings.TrimSpace(info.Path)
	entry.Query = pointerOf(info.Query)
	entry.IP = pointerOf(info.RemoteIP)
	entry.UserAgent = pointerOf(info.UserAgent)
	entry.RequestID = pointerOf(info.RequestID)
}

func normalizePayload(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return raw
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(raw)})
	if err != nil {
		return nil
	}
	return wrapped
}

func pointerOf(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
