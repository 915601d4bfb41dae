package util

import (
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// ProxySettings names explicit proxies; empty fields fall back to the environment
type ProxySettings struct {
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// NewProxyFunc creates a proxy function based on configuration.
// If no proxy URLs are provided, falls back to environment variables.
func NewProxyFunc(settings ProxySettings) func(*http.Request) (*url.URL, error) {
	if settings.HTTPProxy == "" && settings.HTTPSProxy == "" {
		return http.ProxyFromEnvironment
	}

	env := httpproxy.FromEnvironment()
	cfg := &httpproxy.Config{
		HTTPProxy:  firstNonEmpty(settings.HTTPProxy, env.HTTPProxy),
		HTTPSProxy: firstNonEmpty(settings.HTTPSProxy, settings.HTTPProxy),
		NoProxy:    firstNonEmpty(settings.NoProxy, env.NoProxy),
	}
	proxyFor := cfg.ProxyFunc()

	return func(req *http.Request) (*url.URL, error) {
		return proxyFor(req.URL)
	}
}

// NewHTTPClient returns a client with the given timeout that routes through the configured proxies
func NewHTTPClient(timeout time.Duration, settings ProxySettings) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = NewProxyFunc(settings)
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
