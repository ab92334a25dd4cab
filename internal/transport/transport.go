// Package transport builds the outbound HTTP clients used for backend calls.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// TLS modes for backend connections.
const (
	ModeStandard = "standard"
	ModeChrome   = "chrome"
)

// UserAgent identifies the service to backends. Some edge proxies reject
// requests without one.
const UserAgent = "storefront/1.0"

// NewClient returns an HTTP client for backend calls. ModeChrome presents a
// Chrome TLS fingerprint on https connections; anything else uses Go's
// standard transport.
func NewClient(mode string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: WithUserAgent(NewRoundTripper(mode, timeout), UserAgent),
	}
}

// NewRoundTripper returns the transport for mode.
func NewRoundTripper(mode string, timeout time.Duration) http.RoundTripper {
	std := http.DefaultTransport.(*http.Transport).Clone()
	std.TLSHandshakeTimeout = timeout
	if mode != ModeChrome {
		return std
	}
	return NewChromeTransport(timeout, std)
}

// NewChromeTransport presents Chrome's TLS fingerprint through uTLS and
// negotiates h2 or http/1.1 by ALPN. Plain http requests go to plain.
func NewChromeTransport(timeout time.Duration, plain http.RoundTripper) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}
	return &chromeTransport{
		h2: &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dialChromeTLS(ctx, dialer, network, addr)
			},
		},
		h1: &http.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialChromeTLS(ctx, dialer, network, addr)
			},
			ForceAttemptHTTP2: false,
		},
		plain: plain,
	}
}

type chromeTransport struct {
	h2    *http2.Transport
	h1    *http.Transport
	plain http.RoundTripper
}

func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.plain.RoundTrip(req)
	}
	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	// Servers without h2. The body may be gone after a failed attempt.
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, err
		}
		body, gerr := req.GetBody()
		if gerr != nil {
			return nil, err
		}
		req = req.Clone(req.Context())
		req.Body = body
	}
	return t.h1.RoundTrip(req)
}

func dialChromeTLS(ctx context.Context, dialer *net.Dialer, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}

// WithUserAgent sets the User-Agent header on requests that lack one.
func WithUserAgent(next http.RoundTripper, ua string) http.RoundTripper {
	return userAgentTransport{next: next, ua: ua}
}

type userAgentTransport struct {
	next http.RoundTripper
	ua   string
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.next.RoundTrip(req)
}
