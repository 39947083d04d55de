// Package httpclient configures the HTTP clients used to call tile storage
// and the routing service.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound creates a pooled outbound client. A zero timeout leaves
// requests unbounded; callers bound them through their context.
func NewOutbound(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if timeout < 0 {
		timeout = 0
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
