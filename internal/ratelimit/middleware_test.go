package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareEnforcesLimitInMemory(t *testing.T) {
	l, err := New("1-M", nil, "test")
	require.NoError(t, err)

	h := Handler{Limiter: l}.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/checkout/default", nil)
	req.RemoteAddr = "203.0.113.7:5555"

	rr1 := httptest.NewRecorder()
	h.ServeHTTP(rr1, req)
	require.Equal(t, http.StatusOK, rr1.Code)
	require.Equal(t, "1", rr1.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rr1.Header().Get("X-RateLimit-Remaining"))

	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req)
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	require.NotEmpty(t, rr2.Header().Get("Retry-After"))

	other := httptest.NewRequest(http.MethodGet, "/checkout/default", nil)
	other.RemoteAddr = "198.51.100.1:5555"
	rr3 := httptest.NewRecorder()
	h.ServeHTTP(rr3, other)
	require.Equal(t, http.StatusOK, rr3.Code)
}

func TestMiddlewareEnforcesLimitWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := New("2-M", client, "rl")
	require.NoError(t, err)
	h := Handler{Limiter: l, Key: func(*http.Request) string { return "static" }}.Middleware(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rr.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

type failingLimiter struct{}

func (failingLimiter) Take(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("store down")
}

func TestMiddlewareFailsOpen(t *testing.T) {
	var reported error
	h := Handler{Limiter: failingLimiter{}, OnError: func(err error) { reported = err }}.Middleware(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualError(t, reported, "store down")
}

func TestNewRejectsBadRate(t *testing.T) {
	_, err := New("sixty per minute", nil, "")
	require.Error(t, err)
}
