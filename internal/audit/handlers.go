package audit

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/noah-isme/uddoktapay-gateway/internal/common"
)

// Handler exposes HTTP endpoints for reading the transaction log.
type Handler struct {
	Store Store
}

// List returns a paginated, optionally filtered list of log entries.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "transaction log not configured", nil)
		return
	}
	q := r.URL.Query()
	limit := common.AtoiDefault(q.Get("limit"), 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := common.AtoiDefault(q.Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}
	filter := ListFilter{Limit: limit, Offset: offset, TransactionID: strings.TrimSpace(q.Get("transaction_id"))}
	if raw := strings.TrimSpace(q.Get("invoice_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invoice_id must be a positive integer", nil)
			return
		}
		filter.InvoiceID = id
	}

	rows, err := h.Store.ListTransactionLogs(r.Context(), filter)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch transaction log", nil)
		return
	}
	common.JSON(w, http.StatusOK, rows)
}
