package resilience

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPClient wraps an http.Client with a per-call timeout and a circuit
// breaker. Every call is single-shot: failures are returned to the caller,
// never retried here.
type HTTPClient struct {
	Client  *http.Client
	Breaker *Breaker
	Timeout time.Duration
}

// Do sends req once. A 5xx response or transport error counts as a breaker
// failure; the response is still returned for 5xx so callers can decode the
// provider's message. When the breaker is open ErrOpenCircuit is returned
// without touching the network.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	if cl.Breaker != nil && !cl.Breaker.Allow(ctx) {
		if BreakerRejections != nil {
			BreakerRejections.WithLabelValues(cl.Breaker.targetLabel()).Inc()
		}
		return nil, ErrOpenCircuit
	}

	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	cancel := context.CancelFunc(func() {})
	callCtx := ctx
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	resp, err := cl.Client.Do(req.WithContext(callCtx))
	cl.report(ctx, resp, err)
	if err != nil {
		cancel()
		return nil, err
	}
	// the caller reads the body after Do returns; release the timer on Close
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (cl HTTPClient) report(ctx context.Context, resp *http.Response, err error) {
	if cl.Breaker == nil {
		return
	}
	cl.Breaker.Report(ctx, err == nil && resp != nil && resp.StatusCode < http.StatusInternalServerError)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// NewTLSClient builds an http.Client for outbound provider calls with a bounded
// connect phase and a bounded total duration. Certificate verification is
// always on.
func NewTLSClient(connectTimeout, totalTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	if totalTimeout <= 0 {
		totalTimeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		ResponseHeaderTimeout: totalTimeout,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{
		Timeout:   totalTimeout,
		Transport: otelhttp.NewTransport(transport),
	}
}
