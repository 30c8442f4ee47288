package uddoktapay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/uddoktapay-gateway/internal/gateway"
	"github.com/noah-isme/uddoktapay-gateway/internal/obs"
	"github.com/noah-isme/uddoktapay-gateway/internal/payment"
)

// HeaderAPIKey carries the shared secret on both outbound calls and inbound webhooks.
const HeaderAPIKey = "RT-UDDOKTAPAY-API-KEY"

const (
	verifyPath = "verify-payment"
	// cap on provider response bodies; verify payloads are a few hundred bytes
	maxResponseBytes = 1 << 20
)

// Doer sends a single HTTP request. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// CheckoutRequest is the outbound checkout creation input.
type CheckoutRequest struct {
	FullName    string          `json:"full_name" validate:"required"`
	Email       string          `json:"email" validate:"required,email"`
	Phone       string          `json:"phone,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency,omitempty"`
	Metadata    map[string]any  `json:"metadata"`
	RedirectURL string          `json:"redirect_url,omitempty" validate:"omitempty,url"`
	ReturnType  string          `json:"return_type,omitempty"`
	CancelURL   string          `json:"cancel_url,omitempty" validate:"omitempty,url"`
	WebhookURL  string          `json:"webhook_url,omitempty" validate:"omitempty,url"`
}

// checkoutPayload is the wire form; amount goes out as a bare JSON number.
type checkoutPayload struct {
	FullName    string         `json:"full_name"`
	Email       string         `json:"email"`
	Phone       string         `json:"phone,omitempty"`
	Amount      json.Number    `json:"amount"`
	Currency    string         `json:"currency,omitempty"`
	Metadata    map[string]any `json:"metadata"`
	RedirectURL string         `json:"redirect_url,omitempty"`
	ReturnType  string         `json:"return_type,omitempty"`
	CancelURL   string         `json:"cancel_url,omitempty"`
	WebhookURL  string         `json:"webhook_url,omitempty"`
}

// Client talks to the UddoktaPay API for one configured account.
type Client struct {
	apiKey   string
	baseURL  string
	doer     Doer
	validate *validator.Validate
	logger   zerolog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithLogger sets the logger used for provider call diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient validates credentials and normalises the API base URL.
func NewClient(apiKey, apiURL string, doer Doer, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("uddoktapay: api key is required")
	}
	if doer == nil {
		return nil, errors.New("uddoktapay: http doer is required")
	}
	base, err := NormalizeBaseURL(apiURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		apiKey:   apiKey,
		baseURL:  base,
		doer:     doer,
		validate: newValidator(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalised API base, always ending in /api.
func (c *Client) BaseURL() string { return c.baseURL }

// NormalizeBaseURL trims trailing slashes and cuts everything after the first
// /api path segment. A base without one gets /api appended.
func NormalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", errors.New("uddoktapay: api url is required")
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return "", fmt.Errorf("uddoktapay: invalid api url %q", raw)
	}
	path := strings.TrimRight(u.Path, "/")
	if idx := strings.Index(path+"/", "/api/"); idx >= 0 {
		path = path[:idx]
	}
	u.Path = path + "/api"
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// CreateCheckout opens a hosted checkout session for the variant and returns
// the URL the customer must be sent to. Invalid input fails before any
// network call.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest, variant gateway.Variant) (string, error) {
	ctx, span := otel.Tracer("uddoktapay.Client").Start(ctx, "UddoktaPay.CreateCheckout")
	defer span.End()
	span.SetAttributes(attribute.String("payment.variant", variant.String()))

	if !variant.Valid() {
		return "", &ValidationError{Field: "variant", Message: fmt.Sprintf("unknown gateway variant %q", variant)}
	}
	if err := c.ValidateCheckout(req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	payload := checkoutPayload{
		FullName:    strings.TrimSpace(req.FullName),
		Email:       strings.TrimSpace(req.Email),
		Phone:       req.Phone,
		Amount:      json.Number(req.Amount.String()),
		Currency:    req.Currency,
		Metadata:    req.Metadata,
		RedirectURL: req.RedirectURL,
		ReturnType:  req.ReturnType,
		CancelURL:   req.CancelURL,
		WebhookURL:  req.WebhookURL,
	}
	var out struct {
		PaymentURL string `json:"payment_url"`
		Message    string `json:"message"`
	}
	if _, err := c.post(ctx, "create_checkout", variant.CheckoutPath(), payload, &out); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	paymentURL := strings.TrimSpace(out.PaymentURL)
	if paymentURL == "" {
		msg := strings.TrimSpace(out.Message)
		if msg == "" {
			msg = "Payment URL not found in response"
		}
		err := &ProviderError{Operation: "create_checkout", Message: msg}
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return paymentURL, nil
}

// ValidateCheckout applies the local checks CreateCheckout runs before sending.
func (c *Client) ValidateCheckout(req CheckoutRequest) error {
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.TrimSpace(req.Email)
	if err := c.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return validationFromField(fieldErrs[0])
		}
		return &ValidationError{Message: err.Error()}
	}
	if req.Amount.Sign() <= 0 {
		return &ValidationError{Field: "amount", Message: "Amount must be greater than zero"}
	}
	if req.Metadata == nil {
		return &ValidationError{Field: "metadata", Message: "Required field missing: metadata"}
	}
	if id, ok := payment.InvoiceIDFromMetadata(req.Metadata); !ok || id <= 0 {
		return &ValidationError{Field: "metadata", Message: "Invoice ID missing in metadata"}
	}
	return nil
}

// VerifyPayment asks the provider for the authoritative state of a payment reference.
func (c *Client) VerifyPayment(ctx context.Context, reference string) (payment.VerificationResult, error) {
	ctx, span := otel.Tracer("uddoktapay.Client").Start(ctx, "UddoktaPay.VerifyPayment")
	defer span.End()

	reference = strings.TrimSpace(reference)
	if reference == "" {
		return payment.VerificationResult{}, &ValidationError{Field: "invoice_id", Message: "Required field missing: invoice_id"}
	}
	span.SetAttributes(attribute.String("payment.reference", reference))

	var out verifyResponse
	raw, err := c.post(ctx, "verify_payment", verifyPath, map[string]string{"invoice_id": reference}, &out)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return payment.VerificationResult{}, err
	}
	result, err := out.toResult(raw)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return payment.VerificationResult{}, err
	}
	span.SetAttributes(
		attribute.String("payment.status", string(result.Status)),
		attribute.String("payment.transaction_id", result.TransactionID),
	)
	return result, nil
}

type verifyResponse struct {
	Status        string         `json:"status"`
	TransactionID string         `json:"transaction_id"`
	Amount        any            `json:"amount"`
	Metadata      map[string]any `json:"metadata"`
}

func (v verifyResponse) toResult(raw []byte) (payment.VerificationResult, error) {
	result := payment.VerificationResult{
		Status:        payment.Status(strings.ToUpper(strings.TrimSpace(v.Status))),
		TransactionID: strings.TrimSpace(v.TransactionID),
		Metadata:      v.Metadata,
		Raw:           json.RawMessage(raw),
	}
	if v.Amount != nil {
		amount, err := decimalFrom(v.Amount)
		if err != nil {
			return payment.VerificationResult{}, &ProviderError{Operation: "verify_payment", Message: "Invalid amount in response", Err: err}
		}
		result.Amount = amount
	}
	if id, ok := payment.InvoiceIDFromMetadata(v.Metadata); ok {
		result.InvoiceID = id
	}
	return result, nil
}

func decimalFrom(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case json.Number:
		return decimal.NewFromString(t.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(t))
	case float64:
		return decimal.NewFromFloat(t), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount type %T", v)
	}
}

// post sends body as JSON and decodes a 2xx response into out. The raw body
// is returned alongside for audit purposes.
func (c *Client) post(ctx context.Context, operation, path string, body, out any) ([]byte, error) {
	start := time.Now()
	result := "error"
	defer func() {
		if obs.ProviderRequestDuration != nil {
			obs.ProviderRequestDuration.WithLabelValues(operation, result).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, &ValidationError{Message: "unable to encode request: " + err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(encoded))
	if err != nil {
		return nil, &ProviderError{Operation: operation, Message: err.Error(), Err: err}
	}
	req.Header.Set(HeaderAPIKey, c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		result = "transport_error"
		c.logger.Error().Err(err).Str("operation", operation).Msg("uddoktapay_request_failed")
		return nil, &ProviderError{Operation: operation, Message: "Connection failed: " + err.Error(), Transport: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		result = "transport_error"
		return nil, &ProviderError{Operation: operation, StatusCode: resp.StatusCode, Message: "Connection failed: " + err.Error(), Transport: true, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result = fmt.Sprintf("http_%d", resp.StatusCode)
		msg := fmt.Sprintf("Request failed with status %d", resp.StatusCode)
		var body struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &body) == nil && strings.TrimSpace(body.Message) != "" {
			msg = strings.TrimSpace(body.Message)
		}
		c.logger.Warn().Str("operation", operation).Int("status", resp.StatusCode).Str("message", msg).Msg("uddoktapay_request_rejected")
		return nil, &ProviderError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Message:    msg,
			Transport:  resp.StatusCode >= http.StatusInternalServerError,
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		result = "invalid_response"
		return nil, &ProviderError{Operation: operation, StatusCode: resp.StatusCode, Message: "Invalid JSON response: " + err.Error(), Err: err}
	}
	result = "ok"
	return raw, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationFromField(fe validator.FieldError) *ValidationError {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: field, Message: "Required field missing: " + field}
	case "email":
		return &ValidationError{Field: field, Message: "Invalid email address format"}
	case "url":
		return &ValidationError{Field: field, Message: fmt.Sprintf("Invalid %s format", humanize(field))}
	default:
		return &ValidationError{Field: field, Message: fmt.Sprintf("Invalid %s", field)}
	}
}

// humanize turns redirect_url into "Redirect Url".
func humanize(field string) string {
	parts := strings.Split(field, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
