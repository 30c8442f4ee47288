package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/uddoktapay-gateway/internal/common"
)

// DefaultWebhookBodyBytes bounds IPN payloads when no limit is configured.
const DefaultWebhookBodyBytes int64 = 64 << 10

// BodyLimit buffers request bodies up to Max bytes and answers 413 for
// anything larger, before the handler decodes a byte.
type BodyLimit struct {
	Max    int64
	Logger zerolog.Logger
}

// Middleware applies the limit to requests that carry a body.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	max := b.Max
	if max <= 0 {
		max = DefaultWebhookBodyBytes
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > max {
			b.reject(w, r, r.ContentLength)
			return
		}

		buf, err := io.ReadAll(http.MaxBytesReader(w, r.Body, max))
		_ = r.Body.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				b.reject(w, r, -1)
				return
			}
			common.Text(w, http.StatusBadRequest, "invalid request body")
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}

func (b BodyLimit) reject(w http.ResponseWriter, r *http.Request, size int64) {
	b.Logger.Warn().
		Str("path", r.URL.Path).
		Int64("content_length", size).
		Str("ip", common.ClientIP(r)).
		Msg("request_body_too_large")
	common.Text(w, http.StatusRequestEntityTooLarge, "request entity too large")
}
