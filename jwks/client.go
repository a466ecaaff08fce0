/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package jwks

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/acronis/go-appkit/log"

	"github.com/acronis/go-dcrkit/internal/idputil"
	"github.com/acronis/go-dcrkit/internal/jwk"
	"github.com/acronis/go-dcrkit/internal/metrics"
)

// DefaultCacheMaxAge is the freshness window used when the keys endpoint does not send a usable max-age.
const DefaultCacheMaxAge = time.Hour

// MaxCacheMaxAge is the upper bound of the freshness window, larger max-age values are clamped to it.
const MaxCacheMaxAge = 24 * time.Hour

// KeySet is a set of public signing keys fetched from one keys URL.
type KeySet struct {
	// Keys maps key ID to the public key.
	Keys map[string]crypto.PublicKey

	// FetchedAt is the time the keys were received.
	FetchedAt time.Time

	// ExpiresAt is the time after which the set must be fetched again.
	ExpiresAt time.Time
}

// IsExpired reports whether the set should not be used at the given time.
func (ks *KeySet) IsExpired(now time.Time) bool {
	return !now.Before(ks.ExpiresAt)
}

// ClientOpts contains options for the keys client.
type ClientOpts struct {
	// HTTPClient is an HTTP client for making requests.
	HTTPClient *http.Client

	// Logger is a logger for the client.
	Logger log.FieldLogger

	// DefaultMaxAge is used as a freshness window when Cache-Control has no valid max-age.
	// Default: DefaultCacheMaxAge.
	DefaultMaxAge time.Duration

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	// It allows distinguishing metrics from different instances of the same library.
	PrometheusLibInstanceLabel string
}

// Client gets public signing keys from a remote endpoint.
// Two formats are understood: a JWKS document ({"keys": [...]}) and
// a map from key ID to PEM-encoded X.509 certificate (Google service account metadata endpoints).
// NOTE: CachingClient should be used in a typical service
// to avoid making HTTP requests on each statement verification.
type Client struct {
	httpClient    *http.Client
	logger        log.FieldLogger
	promMetrics   *metrics.PrometheusMetrics
	defaultMaxAge time.Duration
}

// NewClient returns a new Client.
func NewClient() *Client {
	return NewClientWithOpts(ClientOpts{})
}

// NewClientWithOpts returns a new Client with options.
func NewClientWithOpts(opts ClientOpts) *Client {
	promMetrics := metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, metrics.SourceKeysClient)
	opts.Logger = idputil.PrepareLogger(opts.Logger)
	if opts.HTTPClient == nil {
		opts.HTTPClient = idputil.MakeDefaultHTTPClient(idputil.DefaultHTTPRequestTimeout, opts.Logger)
	}
	if opts.DefaultMaxAge <= 0 {
		opts.DefaultMaxAge = DefaultCacheMaxAge
	}
	return &Client{
		httpClient:    opts.HTTPClient,
		logger:        opts.Logger,
		promMetrics:   promMetrics,
		defaultMaxAge: opts.DefaultMaxAge,
	}
}

// FetchKeys does one HTTP request to the keys URL and returns the parsed key set.
// The set expiration is computed from the Cache-Control header of the response.
func (c *Client) FetchKeys(ctx context.Context, keysURL string) (KeySet, error) {
	req, err := http.NewRequest(http.MethodGet, keysURL, http.NoBody)
	if err != nil {
		return KeySet{}, &KeyFetchError{Inner: fmt.Errorf("new request: %w", err), URL: keysURL}
	}
	req.Header.Set("Accept", idputil.ContentTypeJSON)

	resp, err := idputil.DoRequest(ctx, c.httpClient, req, c.logger, c.promMetrics)
	if err != nil {
		return KeySet{}, &KeyFetchError{Inner: err, URL: keysURL}
	}
	if resp.StatusCode != http.StatusOK {
		return KeySet{}, &KeyFetchError{Inner: resp.UnexpectedStatusError(req), URL: keysURL}
	}

	keys, err := c.parseKeys(resp.Body, keysURL)
	if err != nil {
		return KeySet{}, &KeyFetchError{Inner: err, URL: keysURL}
	}

	maxAge, ok := ParseMaxAge(resp.Header.Get("Cache-Control"))
	if !ok {
		maxAge = c.defaultMaxAge
	}
	now := time.Now()
	c.logger.Info(fmt.Sprintf("%d signing keys fetched (keys_url: %s, max_age: %s)", len(keys), keysURL, maxAge))
	return KeySet{Keys: keys, FetchedAt: now, ExpiresAt: now.Add(maxAge)}, nil
}

func (c *Client) parseKeys(body []byte, keysURL string) (map[string]crypto.PublicKey, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("decode response body json: %w", err)
	}
	if rawKeys, ok := probe["keys"]; ok && bytes.HasPrefix(bytes.TrimSpace(rawKeys), []byte("[")) {
		return c.parseJWKS(rawKeys, keysURL)
	}
	return c.parseCertificates(probe, keysURL), nil
}

func (c *Client) parseJWKS(rawKeys json.RawMessage, keysURL string) (map[string]crypto.PublicKey, error) {
	var jwkKeys []jwk.Key
	if err := json.Unmarshal(rawKeys, &jwkKeys); err != nil {
		return nil, fmt.Errorf("decode JWKS keys: %w", err)
	}
	pubKeys := make(map[string]crypto.PublicKey, len(jwkKeys))
	for i := range jwkKeys {
		pubKey, err := jwkKeys[i].DecodePublicKey()
		if err != nil {
			c.logger.Error(fmt.Sprintf("decoding JWK (kid: %s, keys_url: %s) to public key error",
				jwkKeys[i].Kid, keysURL), log.Error(err))
			continue
		}
		pubKeys[jwkKeys[i].Kid] = pubKey
	}
	return pubKeys, nil
}

func (c *Client) parseCertificates(rawCerts map[string]json.RawMessage, keysURL string) map[string]crypto.PublicKey {
	pubKeys := make(map[string]crypto.PublicKey, len(rawCerts))
	for kid, raw := range rawCerts {
		var pemData string
		if err := json.Unmarshal(raw, &pemData); err != nil {
			c.logger.Error(fmt.Sprintf("value for kid %s is not a string (keys_url: %s)", kid, keysURL), log.Error(err))
			continue
		}
		pubKey, err := ParsePEMPublicKey([]byte(pemData))
		if err != nil {
			c.logger.Error(fmt.Sprintf("decoding PEM (kid: %s, keys_url: %s) to public key error", kid, keysURL),
				log.Error(err))
			continue
		}
		pubKeys[kid] = pubKey
	}
	return pubKeys
}

// ParsePEMPublicKey extracts an RSA public key from a PEM-encoded X.509 certificate or PKIX public key.
func ParsePEMPublicKey(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	var pubKey interface{}
	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		pubKey = cert.PublicKey
	case "PUBLIC KEY":
		var err error
		if pubKey, err = x509.ParsePKIXPublicKey(block.Bytes); err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
	default:
		return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
	}
	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key of type %T is not RSA", pubKey)
	}
	return rsaPubKey, nil
}

// ParseMaxAge extracts the max-age directive from a Cache-Control header value.
// It returns false if the directive is absent, malformed or non-positive,
// or if the response must not be cached at all (no-store, no-cache).
func ParseMaxAge(cacheControl string) (time.Duration, bool) {
	var maxAge time.Duration
	found := false
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.ToLower(strings.TrimSpace(directive))
		switch {
		case directive == "no-store" || directive == "no-cache":
			return 0, false
		case strings.HasPrefix(directive, "max-age="):
			seconds, err := strconv.ParseInt(strings.Trim(strings.TrimPrefix(directive, "max-age="), `"`), 10, 64)
			if err != nil || seconds <= 0 {
				return 0, false
			}
			maxAge = MaxCacheMaxAge
			if seconds < int64(MaxCacheMaxAge/time.Second) {
				maxAge = time.Duration(seconds) * time.Second
			}
			found = true
		}
	}
	return maxAge, found
}
