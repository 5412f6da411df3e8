package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// NewHTTPClient returns the client used for remote inference calls. When
// socksAddr is set ("host:port" or "socks5://[user:pass@]host:port") every
// connection goes through that SOCKS5 proxy. Request deadlines are left to
// the caller's context.
func NewHTTPClient(socksAddr string) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil

	if socksAddr == "" {
		return &http.Client{Transport: transport}, nil
	}

	host, auth, err := parseSocks(socksAddr)
	if err != nil {
		return nil, err
	}

	forward := &net.Dialer{Timeout: 10 * time.Second}
	dialer, err := proxy.SOCKS5("tcp", host, auth, forward)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", host, err)
	}

	if cd, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = cd.DialContext
	} else {
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}

	return &http.Client{Transport: transport}, nil
}

func parseSocks(addr string) (string, *proxy.Auth, error) {
	if !strings.Contains(addr, "://") {
		return addr, nil, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", nil, fmt.Errorf("parse proxy %q: %w", addr, err)
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return "", nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", nil, fmt.Errorf("proxy %q has no host", addr)
	}

	var auth *proxy.Auth
	if u.User != nil {
		pass, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: pass}
	}
	return u.Host, auth, nil
}
