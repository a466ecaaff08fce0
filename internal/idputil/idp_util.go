/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idputil

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/acronis/go-appkit/httpclient"
	"github.com/acronis/go-appkit/log"

	"github.com/acronis/go-dcrkit/internal/libinfo"
)

const (
	DefaultHTTPRequestTimeout          = 30 * time.Second
	DefaultHTTPRequestMaxRetryAttempts = 3
)

// MakeDefaultHTTPClient returns an HTTP client for idempotent calls to the IdP (key fetching, token exchange, introspection).
// Failed requests are retried.
func MakeDefaultHTTPClient(reqTimeout time.Duration, logger log.FieldLogger) *http.Client {
	return MakeHTTPClient(reqTimeout, DefaultHTTPRequestMaxRetryAttempts, logger)
}

// MakeHTTPClient returns an HTTP client with the given number of retry attempts.
// Zero attempts disables retries, which is required for requests that create resources on the IdP side.
func MakeHTTPClient(reqTimeout time.Duration, maxRetryAttempts int, logger log.FieldLogger) *http.Client {
	if reqTimeout == 0 {
		reqTimeout = DefaultHTTPRequestTimeout
	}
	var tr http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
	if maxRetryAttempts > 0 {
		tr, _ = httpclient.NewRetryableRoundTripperWithOpts(tr, httpclient.RetryableRoundTripperOpts{
			MaxRetryAttempts: maxRetryAttempts, Logger: logger}) // error is always nil
	}
	tr = httpclient.NewUserAgentRoundTripper(tr, libinfo.UserAgent())
	return &http.Client{Timeout: reqTimeout, Transport: tr}
}

func PrepareLogger(logger log.FieldLogger) log.FieldLogger {
	if logger == nil {
		return log.NewDisabledLogger()
	}
	return log.NewPrefixedLogger(logger, libinfo.LogPrefix())
}

// GetLoggerFromProvider returns a logger from the provider or a disabled one if nothing is available.
func GetLoggerFromProvider(ctx context.Context, provider func(ctx context.Context) log.FieldLogger) log.FieldLogger {
	if provider == nil {
		return log.NewDisabledLogger()
	}
	if logger := provider(ctx); logger != nil {
		return logger
	}
	return log.NewDisabledLogger()
}

// NormalizeBaseURL adds the https scheme to a bare domain and trims trailing slashes.
func NormalizeBaseURL(domain string) string {
	domain = strings.TrimRight(strings.TrimSpace(domain), "/")
	if domain == "" {
		return ""
	}
	if !strings.HasPrefix(domain, "https://") && !strings.HasPrefix(domain, "http://") {
		domain = "https://" + domain
	}
	return domain
}
