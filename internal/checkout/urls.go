package checkout

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/noah-isme/uddoktapay-gateway/internal/gateway"
)

// URLs builds the browser and provider callback addresses.
type URLs struct {
	// SystemURL is the billing system's public base, e.g. https://billing.example.com.
	SystemURL string
	// InvoicePath is the invoice view relative to SystemURL.
	InvoicePath string
	// PublicURL is where this service's /checkout routes are reachable.
	PublicURL string
}

// Invoice returns the invoice view, with an error parameter when code is set.
func (u URLs) Invoice(invoiceID int64, code ErrorCode) string {
	q := url.Values{}
	if invoiceID > 0 {
		q.Set("id", strconv.FormatInt(invoiceID, 10))
	}
	if code != "" {
		q.Set("error", string(code))
	}
	return u.join(u.SystemURL, u.invoicePath(), q)
}

// Return is the URL the provider sends the customer back to.
func (u URLs) Return(v gateway.Variant, invoiceID int64) string {
	return u.checkout(v, invoiceID, "verify")
}

// Webhook is the URL the provider posts payment notifications to.
func (u URLs) Webhook(v gateway.Variant, invoiceID int64) string {
	return u.checkout(v, invoiceID, "notify")
}

// Cancel is the URL used when the customer abandons checkout.
func (u URLs) Cancel(invoiceID int64) string {
	return u.Invoice(invoiceID, CodeCancelled)
}

func (u URLs) checkout(v gateway.Variant, invoiceID int64, action string) string {
	q := url.Values{}
	q.Set("id", strconv.FormatInt(invoiceID, 10))
	q.Set("action", action)
	return u.join(u.PublicURL, "checkout/"+v.String(), q)
}

func (u URLs) invoicePath() string {
	if p := strings.TrimSpace(u.InvoicePath); p != "" {
		return p
	}
	return "viewinvoice.php"
}

func (u URLs) join(base, path string, q url.Values) string {
	out := strings.TrimRight(strings.TrimSpace(base), "/") + "/" + strings.TrimLeft(path, "/")
	if enc := q.Encode(); enc != "" {
		out += "?" + enc
	}
	return out
}
