package checkout

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/uddoktapay-gateway/internal/audit"
	"github.com/noah-isme/uddoktapay-gateway/internal/billing"
	"github.com/noah-isme/uddoktapay-gateway/internal/common"
	"github.com/noah-isme/uddoktapay-gateway/internal/gateway"
	"github.com/noah-isme/uddoktapay-gateway/internal/payment"
	"github.com/noah-isme/uddoktapay-gateway/internal/resilience"
	"github.com/noah-isme/uddoktapay-gateway/internal/uddoktapay"
)

// Actions accepted in the action query parameter.
const (
	ActionInit   = "init"
	ActionVerify = "verify"
	ActionNotify = "notify"
	ActionIPN    = "ipn"
)

const unavailableMessage = "The gateway is unavailable."

// Handler serves GET and POST /checkout/{variant}.
type Handler struct {
	Svc    *Service
	Logger zerolog.Logger
}

// Serve dispatches on the action query parameter. A missing or unknown
// action returns the payer to the invoice with error=sww. POST only
// carries notify and ipn.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	variant, err := gateway.Parse(chi.URLParam(r, "variant"))
	if err != nil || !h.Svc.Configured(variant) {
		common.Text(w, http.StatusNotFound, unavailableMessage)
		return
	}
	invoiceID, _ := parseInvoiceID(r.URL.Query().Get("id"))
	action := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("action")))

	// POST is reserved for provider webhooks
	if r.Method == http.MethodPost && action != ActionNotify && action != ActionIPN {
		w.Header().Set("Allow", http.MethodGet)
		common.Text(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	switch action {
	case ActionInit:
		h.init(w, r, variant, invoiceID)
	case ActionVerify:
		h.verify(w, r, variant, invoiceID)
	case ActionNotify, ActionIPN:
		h.notify(w, r, variant, invoiceID)
	default:
		h.redirect(w, r, invoiceID, CodeSomethingWrong)
	}
}

func (h *Handler) init(w http.ResponseWriter, r *http.Request, v gateway.Variant, invoiceID int64) {
	paymentURL, err := h.Svc.Init(r.Context(), v, invoiceID)
	switch {
	case err == nil:
		http.Redirect(w, r, paymentURL, http.StatusFound)
	case errors.Is(err, ErrInvoicePaid):
		h.redirect(w, r, invoiceID, "")
	default:
		h.Logger.Warn().Err(err).Str("variant", v.String()).Int64("invoice_id", invoiceID).Msg("checkout_init_redirect")
		h.redirect(w, r, invoiceID, CodeForError(err))
	}
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request, v gateway.Variant, invoiceID int64) {
	result, err := h.Svc.Verify(r.Context(), v, invoiceID, r.URL.Query().Get("invoice_id"), audit.RequestInfo(r))
	if err != nil {
		h.redirect(w, r, invoiceID, CodeForError(err))
		return
	}
	if invoiceID <= 0 && result.InvoiceID > 0 {
		invoiceID = result.InvoiceID
	}
	code, failed := CodeForOutcome(result.Outcome)
	if !failed {
		code = ""
	}
	h.redirect(w, r, invoiceID, code)
}

func (h *Handler) notify(w http.ResponseWriter, r *http.Request, v gateway.Variant, invoiceID int64) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		common.Text(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	result, err := h.Svc.Notify(r.Context(), v, invoiceID, r, audit.RequestInfo(r))
	if err != nil {
		status, body := WebhookErrorResponse(err)
		event := h.Logger.Warn().Err(err).Str("variant", v.String()).Int("status", status)
		var authErr *uddoktapay.AuthError
		if errors.As(err, &authErr) {
			event = event.Bool("security_event", true).Str("ip", common.ClientIP(r))
		}
		event.Msg("webhook_rejected")
		common.Text(w, status, body)
		return
	}
	status, body := WebhookResultResponse(result)
	common.Text(w, status, body)
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, invoiceID int64, code ErrorCode) {
	http.Redirect(w, r, h.Svc.URLs.Invoice(invoiceID, code), http.StatusFound)
}

// WebhookResultResponse maps a decided outcome to the webhook reply. Settled
// payments answer 200 so the provider stops retrying; ledger failures answer
// 500 so it retries.
func WebhookResultResponse(result payment.Result) (int, string) {
	code, failed := CodeForOutcome(result.Outcome)
	switch {
	case !failed:
		return http.StatusOK, "OK"
	case result.Outcome == payment.OutcomeLedgerUpdateFailed:
		return http.StatusInternalServerError, code.Message()
	default:
		return http.StatusBadRequest, code.Message()
	}
}

// WebhookErrorResponse maps a failure that produced no outcome to the webhook reply.
func WebhookErrorResponse(err error) (int, string) {
	var (
		authErr     *uddoktapay.AuthError
		validErr    *uddoktapay.ValidationError
		providerErr *uddoktapay.ProviderError
	)
	switch {
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, authErr.Reason
	case errors.As(err, &validErr):
		return http.StatusBadRequest, validErr.Message
	case errors.Is(err, resilience.ErrOpenCircuit):
		return http.StatusInternalServerError, CodeSomethingWrong.Message()
	case errors.As(err, &providerErr):
		if providerErr.Transport {
			return http.StatusInternalServerError, CodeInvalidResponse.Message()
		}
		return http.StatusBadRequest, CodeInvalidResponse.Message()
	case errors.Is(err, billing.ErrInvoiceNotFound):
		return http.StatusBadRequest, "Invoice not found"
	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusNotFound, unavailableMessage
	default:
		return http.StatusInternalServerError, CodeSomethingWrong.Message()
	}
}

func parseInvoiceID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
