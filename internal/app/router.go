package app

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/uddoktapay-gateway/internal/audit"
	"github.com/noah-isme/uddoktapay-gateway/internal/checkout"
	"github.com/noah-isme/uddoktapay-gateway/internal/common"
	"github.com/noah-isme/uddoktapay-gateway/internal/gateway"
	"github.com/noah-isme/uddoktapay-gateway/internal/health"
	"github.com/noah-isme/uddoktapay-gateway/internal/obs"
	"github.com/noah-isme/uddoktapay-gateway/internal/payment"
	"github.com/noah-isme/uddoktapay-gateway/internal/ratelimit"
	"github.com/noah-isme/uddoktapay-gateway/internal/security"
)

// RouterConfig carries the HTTP-surface settings.
type RouterConfig struct {
	Metrics         *obs.HTTPMetrics
	MetricsGatherer prometheus.Gatherer
	EnableTracing   bool
	SecurityHeaders security.Headers
	WebhookMaxBody  int64
	AdminAPIToken   string
	Pprof           PprofConfig
	Health          health.Handler
}

// PprofConfig mounts /debug/pprof behind basic auth when Enabled.
type PprofConfig struct {
	Enabled bool
	User    string
	Pass    string
}

// NewRouter assembles the chi router for every public and operator route.
func NewRouter(cfg RouterConfig, svcs *Services, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.EnableTracing {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: cfg.Metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cfg.SecurityHeaders.Middleware)

	if cfg.MetricsGatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	}
	if cfg.Pprof.Enabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.Pprof.User, cfg.Pprof.Pass))
	}
	r.Get("/health/live", cfg.Health.Live)
	r.Get("/health/ready", cfg.Health.Ready)

	checkoutHandler := &checkout.Handler{Svc: svcs.Checkout, Logger: logger}
	limited := ratelimit.Handler{
		Limiter: svcs.Limiter,
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}
	recorder := audit.HTTPRecorder{
		Service:       svcs.Audit,
		OnError:       func(err error) { logger.Error().Err(err).Msg("record webhook delivery") },
		RejectLimiter: svcs.RejectLogLimiter,
	}
	r.With(limited.Middleware).Get("/checkout/{variant}", checkoutHandler.Serve)
	r.With(
		recorder.Middleware(audit.HTTPConfig{
			Trigger:      string(payment.TriggerNotify),
			GatewayParam: "variant",
			GatewayFunc:  variantSection,
		}),
		security.BodyLimit{Max: cfg.WebhookMaxBody, Logger: logger}.Middleware,
	).Post("/checkout/{variant}", checkoutHandler.Serve)

	if token := strings.TrimSpace(cfg.AdminAPIToken); token != "" {
		auditHandler := audit.Handler{Store: svcs.AuditStore}
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(requireBearer(token))
			admin.Get("/gateway-log", auditHandler.List)
		})
	}
	return r
}

func variantSection(raw string) string {
	v, err := gateway.Parse(raw)
	if err != nil {
		return raw
	}
	return v.Section()
}

func requireBearer(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(provided)), expected) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid admin token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle("/"+name, pprof.Handler(name))
	}
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			common.Text(w, http.StatusNotFound, "404 page not found")
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			common.Text(w, http.StatusUnauthorized, "unauthorised")
			return
		}
		handler.ServeHTTP(w, r)
	})
}
