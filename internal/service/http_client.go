package service

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

type HTTPClientOptions struct {
	// Timeout bounds the whole round trip; zero means the caller's context decides.
	Timeout            time.Duration
	InsecureSkipVerify bool
	// HTTP2 must stay off for clients that perform WebSocket upgrades.
	HTTP2 bool
}

// CreateHTTPClient creates the outbound client used for upstream calls.
// Shared by HTTPProxy and the WebSocket target dialer.
func CreateHTTPClient(opts HTTPClientOptions) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
		ForceAttemptHTTP2:     opts.HTTP2,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// Accept-Encoding is set explicitly and bodies are decoded by ContentDecoder
		DisableCompression: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	}
}
