package uddoktapay

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/noah-isme/uddoktapay-gateway/internal/obs"
)

// AuthenticateWebhook checks the shared-secret header and extracts the payment
// reference from the IPN body. The header is checked before the body is read,
// so unauthenticated requests never reach the JSON decoder.
func (c *Client) AuthenticateWebhook(r *http.Request) (string, error) {
	if r == nil {
		return "", &ValidationError{Message: "Empty IPN request"}
	}
	provided := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	if provided == "" {
		recordAuthFailure("missing_header")
		return "", &AuthError{Reason: "Missing API key in request header"}
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(c.apiKey)) != 1 {
		recordAuthFailure("key_mismatch")
		return "", &AuthError{Reason: "Invalid API key - Unauthorized"}
	}

	if r.Body == nil {
		return "", &ValidationError{Field: "body", Message: "Empty IPN response body"}
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", &ValidationError{Field: "body", Message: "IPN body too large"}
		}
		return "", &ValidationError{Field: "body", Message: "Unable to read IPN body: " + err.Error()}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", &ValidationError{Field: "body", Message: "Empty IPN response body"}
	}

	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return "", &ValidationError{Field: "body", Message: "Invalid JSON in IPN response: " + err.Error()}
	}
	reference := referenceFrom(payload["invoice_id"])
	if reference == "" {
		return "", &ValidationError{Field: "invoice_id", Message: "Invoice ID missing in IPN data"}
	}
	return reference, nil
}

func referenceFrom(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func recordAuthFailure(reason string) {
	if obs.WebhookAuthFailures != nil {
		obs.WebhookAuthFailures.WithLabelValues(reason).Inc()
	}
}
