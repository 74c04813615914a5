package client

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/modelmux/modelmux/common/config"
)

// HTTPClient is the default outbound client shared by all adapters.
var HTTPClient *http.Client

// ImpatientHTTPClient is a short-timeout client for health probes and
// metadata requests.
var ImpatientHTTPClient *http.Client

var sharedTransport *http.Transport

// timeoutGrace is added on top of each adapter's configured timeout so the
// resilience pipeline's own timeout always fires first.
const timeoutGrace = 5 * time.Second

// Init builds the shared HTTP transport and clients. The transport pools
// connections per host and transparently decompresses gzip responses.
func Init() {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	maxPerHost := config.MaxIdleConnsPerHost
	if maxPerHost < 50 {
		maxPerHost = 50
	}
	if maxPerHost > 100 {
		maxPerHost = 100
	}

	sharedTransport = &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        maxPerHost * 2,
		MaxIdleConnsPerHost: maxPerHost,
		IdleConnTimeout:     5 * time.Minute,
		TLSClientConfig: &tls.Config{
			// Full certificate validation by default; the skip flag is an
			// explicit operator opt-out.
			InsecureSkipVerify: config.InsecureSkipVerify,
		},
	}

	HTTPClient = &http.Client{Transport: sharedTransport}
	ImpatientHTTPClient = &http.Client{
		Transport: sharedTransport,
		Timeout:   5 * time.Second,
	}
}

// ForTimeout returns a client bound to the shared transport whose hard
// timeout is the adapter's configured timeout plus a grace margin.
func ForTimeout(timeoutSeconds int) *http.Client {
	if sharedTransport == nil {
		Init()
	}
	if timeoutSeconds <= 0 {
		return HTTPClient
	}
	return &http.Client{
		Transport: sharedTransport,
		Timeout:   time.Duration(timeoutSeconds)*time.Second + timeoutGrace,
	}
}
