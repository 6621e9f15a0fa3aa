package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrDispatcherBusy is returned when no upstream slot becomes available
// within the request's context.
var ErrDispatcherBusy = fmt.Errorf("upstream dispatcher at capacity")

// DispatcherConfig bounds the upstream client.
type DispatcherConfig struct {
	// MaxInFlight caps concurrent upstream calls. Zero means 256.
	MaxInFlight int64

	// RequestTimeout is the total per-call budget, headers through body.
	// Zero means 5 minutes; uploads of large objects need headroom.
	RequestTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for backend response headers.
	// Zero means 30 seconds.
	ResponseHeaderTimeout time.Duration

	// IdleConnTimeout bounds pooled connection idleness. Zero means 90s.
	IdleConnTimeout time.Duration
}

// Dispatcher issues upstream calls under a concurrency bound, keeping slow
// backends from starving request acceptance.
type Dispatcher struct {
	client  *http.Client
	slots   *semaphore.Weighted
	timeout time.Duration
}

// NewDispatcher creates a dispatcher with the given bounds.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 256
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	if cfg.ResponseHeaderTimeout <= 0 {
		cfg.ResponseHeaderTimeout = 30 * time.Second
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          int(cfg.MaxInFlight),
		MaxIdleConnsPerHost:   int(cfg.MaxInFlight),
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		// The proxy must not re-frame bodies it has signed.
		DisableCompression: true,
	}

	return &Dispatcher{
		client:  &http.Client{Transport: transport},
		slots:   semaphore.NewWeighted(cfg.MaxInFlight),
		timeout: cfg.RequestTimeout,
	}
}

// Do acquires an upstream slot and performs the call. The returned release
// function must be called after the response body is fully consumed.
func (d *Dispatcher) Do(ctx context.Context, req *http.Request) (*http.Response, func(), error) {
	if err := d.slots.Acquire(ctx, 1); err != nil {
		return nil, nil, ErrDispatcherBusy
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	release := func() {
		cancel()
		d.slots.Release(1)
	}

	resp, err := d.client.Do(req.WithContext(callCtx))
	if err != nil {
		release()
		return nil, nil, err
	}
	return resp, release, nil
}

// CloseIdleConnections releases pooled upstream connections.
func (d *Dispatcher) CloseIdleConnections() {
	d.client.CloseIdleConnections()
}
