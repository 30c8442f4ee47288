package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/uddoktapay-gateway/internal/common"
	"github.com/noah-isme/uddoktapay-gateway/internal/obs"
	"github.com/noah-isme/uddoktapay-gateway/internal/ratelimit"
)

// HTTPRecorder logs every handled request on a route to the transaction
// log, including the ones rejected before any business logic ran.
type HTTPRecorder struct {
	Service *Service
	OnError func(error)

	// RejectLimiter caps, per client IP, how many deliveries rejected before
	// any business logic (401, 405, 413) are written to the store.
	RejectLimiter ratelimit.Limiter
}

// HTTPConfig customises how the entry is produced for a route.
type HTTPConfig struct {
	Trigger      string
	GatewayParam string
	GatewayFunc  func(string) string
}

// Middleware returns a chi-compatible middleware that records delivery entries.
func (r HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if r.Service == nil || !r.Service.Enabled {
				next.ServeHTTP(w, req)
				return
			}

			recorder := obs.NewStatusRecorder(w)
			next.ServeHTTP(recorder, req)
			if r.suppress(req, recorder.Status()) {
				return
			}

			gateway := ""
			if cfg.GatewayParam != "" {
				gateway = chi.URLParam(req, cfg.GatewayParam)
			}
			if cfg.GatewayFunc != nil {
				gateway = cfg.GatewayFunc(gateway)
			}
			trigger := cfg.Trigger
			if trigger == "" {
				trigger = "http"
			}

			entry := Entry{
				Gateway:   gateway,
				Trigger:   trigger,
				Status:    "HTTP " + strconv.Itoa(recorder.Status()),
				CreatedAt: time.Now().UTC(),
			}
			applyRequest(&entry, RequestInfo(req))
			if err := r.Service.Record(req.Context(), entry); err != nil && r.OnError != nil {
				r.OnError(err)
			}
		})
	}
}

func (r HTTPRecorder) suppress(req *http.Request, status int) bool {
	if r.RejectLimiter == nil || !rejectedEarly(status) {
		return false
	}
	ip := common.ClientIP(req)
	decision, err := r.RejectLimiter.Take(req.Context(), "rejected:"+ip)
	if err != nil || decision.Allowed {
		return false
	}
	r.Service.Logger.Debug().Int("status", status).Str("ip", ip).Msg("gateway_transaction_log_suppressed")
	return true
}

func rejectedEarly(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusMethodNotAllowed, http.StatusRequestEntityTooLarge:
		return true
	}
	return false
}
