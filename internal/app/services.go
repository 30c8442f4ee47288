package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/uddoktapay-gateway/internal/audit"
	"github.com/noah-isme/uddoktapay-gateway/internal/billing"
	"github.com/noah-isme/uddoktapay-gateway/internal/checkout"
	"github.com/noah-isme/uddoktapay-gateway/internal/config"
	"github.com/noah-isme/uddoktapay-gateway/internal/gateway"
	"github.com/noah-isme/uddoktapay-gateway/internal/lock"
	"github.com/noah-isme/uddoktapay-gateway/internal/payment"
	"github.com/noah-isme/uddoktapay-gateway/internal/ratelimit"
	"github.com/noah-isme/uddoktapay-gateway/internal/resilience"
	"github.com/noah-isme/uddoktapay-gateway/internal/uddoktapay"
)

// Services is the wired component graph served by the router.
type Services struct {
	Checkout   *checkout.Service
	Audit      *audit.Service
	AuditStore audit.Store
	Limiter    ratelimit.Limiter

	// RejectLogLimiter caps transaction log rows for rejected webhooks per IP.
	RejectLogLimiter ratelimit.Limiter
}

// BuildServices wires provider clients, the ledger adapter, the transaction
// log and the reconciliation engine from cfg and deps.
func BuildServices(cfg *config.Config, deps *Dependencies, logger zerolog.Logger) (*Services, error) {
	if deps == nil || deps.DB == nil {
		return nil, errors.New("database pool not configured")
	}

	httpClient := resilience.NewTLSClient(cfg.ProviderConnectTimeout, cfg.ProviderTimeout)
	clients := make(map[gateway.Variant]checkout.ProviderClient, len(cfg.Gateways))
	for variant, creds := range cfg.Gateways {
		breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
			WithTarget("uddoktapay:" + variant.String()).
			WithLogger(logger)
		doer := resilience.HTTPClient{Client: httpClient, Breaker: breaker, Timeout: cfg.ProviderTimeout}
		client, err := uddoktapay.NewClient(creds.APIKey, creds.APIURL, doer,
			uddoktapay.WithLogger(logger.With().Str("variant", variant.String()).Logger()))
		if err != nil {
			return nil, fmt.Errorf("%s client: %w", variant.Section(), err)
		}
		clients[variant] = client
	}

	store := billing.NewStore(deps.DB)
	auditStore := audit.NewStore(deps.DB)
	auditSvc := &audit.Service{Store: auditStore, Enabled: cfg.AuditEnabled, Logger: logger}

	engine := &payment.Engine{
		Ledger:  store,
		Auditor: auditSvc,
		LockTTL: cfg.ReconcileLockTTL,
		Logger:  logger,
	}
	if deps.Redis != nil {
		engine.Locker = lock.Locker{
			R:            deps.Redis,
			Prefix:       "uddoktapay:lock:",
			RetryBackoff: 50 * time.Millisecond,
			MaxWait:      5 * time.Second,
		}
	}

	limiter, err := ratelimit.New(cfg.RateLimit, deps.Redis, "uddoktapay:ratelimit")
	if err != nil {
		return nil, err
	}
	rejectLimiter, err := ratelimit.New(cfg.RejectLogRate, deps.Redis, "uddoktapay:rejectlog")
	if err != nil {
		return nil, err
	}

	return &Services{
		Checkout: &checkout.Service{
			Clients:  clients,
			Billing:  store,
			Invoices: store,
			Engine:   engine,
			URLs: checkout.URLs{
				SystemURL:   cfg.BillingSystemURL,
				InvoicePath: cfg.BillingInvoicePath,
				PublicURL:   cfg.CheckoutPublicURL,
			},
			Logger: logger,
		},
		Audit:            auditSvc,
		AuditStore:       auditStore,
		Limiter:          limiter,
		RejectLogLimiter: rejectLimiter,
	}, nil
}
