/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptoken

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/acronis/go-appkit/log"

	"github.com/acronis/go-dcrkit/internal/idputil"
	"github.com/acronis/go-dcrkit/internal/metrics"
)

// TokenTypeHintAccessToken is sent with every introspection request.
const TokenTypeHintAccessToken = "access_token"

// IntrospectionEndpointURL returns the introspection endpoint of an Okta custom authorization server.
func IntrospectionEndpointURL(domain, authServerID string) string {
	if authServerID == "" {
		authServerID = "default"
	}
	return idputil.NormalizeBaseURL(domain) + "/oauth2/" + authServerID + "/v1/introspect"
}

// IntrospectionResult is a response of the RFC 7662 introspection endpoint.
type IntrospectionResult struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Subject   string `json:"sub,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Issuer    string `json:"iss,omitempty"`

	// Raw contains all fields of the response, including non-standard ones.
	Raw map[string]interface{} `json:"-"`
}

// Scopes returns the space separated scopes as a slice.
func (r *IntrospectionResult) Scopes() []string {
	return strings.Fields(r.Scope)
}

// HasScope reports whether the token is granted the scope.
func (r *IntrospectionResult) HasScope(scope string) bool {
	for _, s := range r.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}

// IntrospectorOpts is a set of options for creating Introspector.
type IntrospectorOpts struct {
	// HTTPClient is an HTTP client for making requests to the introspection endpoint.
	HTTPClient *http.Client

	// Logger is a logger for the Introspector.
	Logger log.FieldLogger

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	// It allows distinguishing metrics from different instances of the same library.
	PrometheusLibInstanceLabel string
}

// Introspector checks access tokens with the introspection endpoint of the authorization server.
// It authenticates with the resource server client credentials (HTTP basic auth).
type Introspector struct {
	endpointURL  string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       log.FieldLogger
	promMetrics  *metrics.PrometheusMetrics
}

// NewIntrospector creates a new Introspector.
func NewIntrospector(endpointURL, clientID, clientSecret string) *Introspector {
	return NewIntrospectorWithOpts(endpointURL, clientID, clientSecret, IntrospectorOpts{})
}

// NewIntrospectorWithOpts creates a new Introspector with options.
func NewIntrospectorWithOpts(endpointURL, clientID, clientSecret string, opts IntrospectorOpts) *Introspector {
	opts.Logger = idputil.PrepareLogger(opts.Logger)
	if opts.HTTPClient == nil {
		opts.HTTPClient = idputil.MakeDefaultHTTPClient(idputil.DefaultHTTPRequestTimeout, opts.Logger)
	}
	return &Introspector{
		endpointURL:  endpointURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   opts.HTTPClient,
		logger:       opts.Logger,
		promMetrics:  metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, metrics.SourceTokenIntrospector),
	}
}

// IntrospectToken sends the token to the introspection endpoint.
// An inactive token is not an error, check IntrospectionResult.Active.
func (i *Introspector) IntrospectToken(ctx context.Context, token string) (IntrospectionResult, error) {
	if i.clientID == "" || i.clientSecret == "" {
		return IntrospectionResult{}, ErrMissingCredentials
	}

	values := url.Values{}
	values.Add("token", token)
	values.Add("token_type_hint", TokenTypeHintAccessToken)
	req, err := http.NewRequest(http.MethodPost, i.endpointURL, strings.NewReader(values.Encode()))
	if err != nil {
		return IntrospectionResult{}, fmt.Errorf("new introspection request: %w", err)
	}
	req.SetBasicAuth(i.clientID, i.clientSecret)
	req.Header.Set("Content-Type", idputil.ContentTypeFormURLEncoded)
	req.Header.Set("Accept", idputil.ContentTypeJSON)

	resp, err := idputil.DoRequest(ctx, i.httpClient, req, i.logger, i.promMetrics)
	if err != nil {
		return IntrospectionResult{}, fmt.Errorf("introspect token: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return IntrospectionResult{}, resp.UnexpectedStatusError(req)
	}

	var res IntrospectionResult
	if err = resp.DecodeJSON(&res); err != nil {
		return IntrospectionResult{}, err
	}
	if err = json.Unmarshal(resp.Body, &res.Raw); err != nil {
		return IntrospectionResult{}, fmt.Errorf("decode introspection response fields: %w", err)
	}
	return res, nil
}
