package common

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:4000"
	require.Equal(t, "10.1.1.1", ClientIP(req))

	req.Header.Set("X-Real-IP", "172.16.0.9")
	require.Equal(t, "172.16.0.9", ClientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	require.Equal(t, "203.0.113.7", ClientIP(req))

	require.Empty(t, ClientIP(nil))
}

func TestText(t *testing.T) {
	rr := httptest.NewRecorder()
	Text(rr, http.StatusBadRequest, "Invoice ID missing")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Invoice ID missing", rr.Body.String())
	require.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
}

func TestAtoiDefault(t *testing.T) {
	require.Equal(t, 5, AtoiDefault("", 5))
	require.Equal(t, 5, AtoiDefault("x", 5))
	require.Equal(t, 12, AtoiDefault(" 12 ", 5))
}
