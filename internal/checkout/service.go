package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/uddoktapay-gateway/internal/billing"
	"github.com/noah-isme/uddoktapay-gateway/internal/gateway"
	"github.com/noah-isme/uddoktapay-gateway/internal/obs"
	"github.com/noah-isme/uddoktapay-gateway/internal/payment"
	"github.com/noah-isme/uddoktapay-gateway/internal/uddoktapay"
)

var (
	// ErrGatewayUnavailable is returned for a variant that is unknown or not configured.
	ErrGatewayUnavailable = errors.New("checkout: gateway unavailable")
	// ErrInvalidInvoice is returned when the invoice id parameter is missing or malformed.
	ErrInvalidInvoice = errors.New("checkout: invalid invoice id")
	// ErrInvoicePaid is returned when checkout is requested for a settled invoice.
	ErrInvoicePaid = errors.New("checkout: invoice already paid")
)

// ProviderClient is the provider API surface used by one variant.
type ProviderClient interface {
	CreateCheckout(ctx context.Context, req uddoktapay.CheckoutRequest, variant gateway.Variant) (string, error)
	VerifyPayment(ctx context.Context, reference string) (payment.VerificationResult, error)
	AuthenticateWebhook(r *http.Request) (string, error)
}

// Billing reads the invoice data needed to open a checkout.
type Billing interface {
	Invoice(ctx context.Context, id int64) (billing.Invoice, error)
	Client(ctx context.Context, id int64) (billing.Client, error)
	Currency(ctx context.Context, id int64) (billing.Currency, error)
}

// Service drives the init, verify and notify flows for every configured variant.
type Service struct {
	Clients  map[gateway.Variant]ProviderClient
	Billing  Billing
	Invoices payment.InvoiceSource
	Engine   *payment.Engine
	URLs     URLs
	Logger   zerolog.Logger
}

// Configured reports whether v has a provider client.
func (s *Service) Configured(v gateway.Variant) bool {
	_, err := s.client(v)
	return err == nil
}

func (s *Service) client(v gateway.Variant) (ProviderClient, error) {
	if s == nil || !v.Valid() {
		return nil, ErrGatewayUnavailable
	}
	c, ok := s.Clients[v]
	if !ok || c == nil {
		return nil, ErrGatewayUnavailable
	}
	return c, nil
}

// Init opens a hosted checkout for the invoice balance and returns the
// provider's payment URL.
func (s *Service) Init(ctx context.Context, v gateway.Variant, invoiceID int64) (string, error) {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "CheckoutOrchestrator.Init")
	defer span.End()
	span.SetAttributes(attribute.String("gateway.variant", v.String()), attribute.Int64("invoice.id", invoiceID))

	paymentURL, err := s.init(ctx, v, invoiceID)
	result := "ok"
	if err != nil {
		result = string(CodeForError(err))
		span.SetStatus(codes.Error, err.Error())
	}
	if obs.CheckoutInitTotal != nil {
		obs.CheckoutInitTotal.WithLabelValues(v.String(), result).Inc()
	}
	return paymentURL, err
}

func (s *Service) init(ctx context.Context, v gateway.Variant, invoiceID int64) (string, error) {
	client, err := s.client(v)
	if err != nil {
		return "", err
	}
	logger := s.logger(v)
	if invoiceID <= 0 {
		return "", ErrInvalidInvoice
	}
	if s.Billing == nil {
		return "", errors.New("checkout: billing not configured")
	}

	inv, err := s.Billing.Invoice(ctx, invoiceID)
	if err != nil {
		return "", fmt.Errorf("load invoice %d: %w", invoiceID, err)
	}
	if strings.EqualFold(inv.Status, billing.InvoiceStatusPaid) || !inv.Balance.IsPositive() {
		return "", ErrInvoicePaid
	}
	owner, err := s.Billing.Client(ctx, inv.ClientID)
	if err != nil {
		return "", fmt.Errorf("load client %d: %w", inv.ClientID, err)
	}
	currency := ""
	if owner.CurrencyID > 0 {
		cur, err := s.Billing.Currency(ctx, owner.CurrencyID)
		if err != nil {
			return "", fmt.Errorf("load currency %d: %w", owner.CurrencyID, err)
		}
		currency = cur.Code
	}

	req := uddoktapay.CheckoutRequest{
		FullName:    strings.TrimSpace(owner.FirstName + " " + owner.LastName),
		Email:       strings.TrimSpace(owner.Email),
		Phone:       NormalizePhone(owner.PhoneNumber),
		Amount:      inv.Balance,
		Currency:    currency,
		Metadata:    map[string]any{payment.MetadataInvoiceKey: inv.ID},
		RedirectURL: s.URLs.Return(v, inv.ID),
		ReturnType:  "GET",
		CancelURL:   s.URLs.Cancel(inv.ID),
		WebhookURL:  s.URLs.Webhook(v, inv.ID),
	}
	paymentURL, err := client.CreateCheckout(ctx, req, v)
	if err != nil {
		logger.Warn().Err(err).Int64("invoice_id", inv.ID).Msg("checkout_init_failed")
		return "", err
	}
	logger.Info().Int64("invoice_id", inv.ID).Str("amount", inv.Balance.String()).Msg("checkout_init")
	return paymentURL, nil
}

// Verify handles the customer returning from the hosted page with the
// provider's reference.
func (s *Service) Verify(ctx context.Context, v gateway.Variant, invoiceID int64, reference string, info payment.RequestInfo) (payment.Result, error) {
	client, err := s.client(v)
	if err != nil {
		return payment.Result{}, err
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		s.observe(v, payment.TriggerVerify, "invalid")
		return payment.Result{}, &uddoktapay.ValidationError{Field: "invoice_id", Message: "Payment reference missing"}
	}
	return s.verify(ctx, client, v, payment.VerifyRequest{
		Reference:         reference,
		ExpectedInvoiceID: invoiceID,
		Trigger:           payment.TriggerVerify,
		Request:           info,
	})
}

// Notify authenticates a provider webhook and applies the payment it names.
func (s *Service) Notify(ctx context.Context, v gateway.Variant, invoiceID int64, r *http.Request, info payment.RequestInfo) (payment.Result, error) {
	client, err := s.client(v)
	if err != nil {
		return payment.Result{}, err
	}
	reference, err := client.AuthenticateWebhook(r)
	if err != nil {
		s.observe(v, payment.TriggerNotify, "rejected")
		return payment.Result{}, err
	}
	return s.verify(ctx, client, v, payment.VerifyRequest{
		Reference:         reference,
		ExpectedInvoiceID: invoiceID,
		Trigger:           payment.TriggerNotify,
		Request:           info,
	})
}

func (s *Service) verify(ctx context.Context, client ProviderClient, v gateway.Variant, req payment.VerifyRequest) (payment.Result, error) {
	req.Gateway = v.Section()
	logger := s.logger(v)
	verifier := &payment.Verifier{
		Provider: client,
		Invoices: s.Invoices,
		Engine:   s.Engine,
		Logger:   logger,
	}
	result, err := verifier.Verify(ctx, req)
	if err != nil {
		s.observe(v, req.Trigger, "error")
		logger.Warn().Err(err).
			Str("trigger", string(req.Trigger)).
			Str("reference", req.Reference).
			Msg("payment_verification_failed")
		return result, err
	}
	s.observe(v, req.Trigger, result.Outcome.String())
	return result, nil
}

// logger tags entries with the variant and the gateway name payers see.
func (s *Service) logger(v gateway.Variant) zerolog.Logger {
	return s.Logger.With().
		Str("variant", v.String()).
		Str("gateway_name", v.DisplayName()).
		Logger()
}

func (s *Service) observe(v gateway.Variant, trigger payment.Trigger, outcome string) {
	if obs.PaymentVerificationTotal != nil {
		obs.PaymentVerificationTotal.WithLabelValues(v.String(), string(trigger), outcome).Inc()
	}
}
