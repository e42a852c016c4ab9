// Package httpc provides the shared HTTP client used for every upstream
// call: credential fetch, session minting, the SDP exchange. It exists so
// no code path falls back to http.DefaultClient, which has no timeouts.
package httpc

import (
	"net"
	"net/http"
	"time"
)

// Defaults applied to the shared client and to NewClient transports.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
)

// Client is the process-wide HTTP client. Callers that need a different
// overall timeout build their own with NewClient; everything else shares
// this one and its connection pool.
var Client = NewClient(DefaultTimeout)

// NewClient returns a client with the package's transport defaults and the
// given overall timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(),
	}
}

// newTransport sizes the pool for this module's profile: a handful of
// upstream hosts, never a fleet.
func newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultConnectTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
