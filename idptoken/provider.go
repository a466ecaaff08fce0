/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptoken

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/acronis/go-appkit/log"
	"golang.org/x/sync/singleflight"

	"github.com/acronis/go-dcrkit/internal/idputil"
	"github.com/acronis/go-dcrkit/internal/metrics"
	"github.com/acronis/go-dcrkit/internal/strutil"
)

const (
	// DefaultRefreshMargin is how long before the expiration the cached token is considered stale.
	DefaultRefreshMargin = time.Minute

	// DefaultExpiresIn is used when the token response has no expires_in field.
	DefaultExpiresIn = time.Hour

	// DefaultClientRegistrationScope is the Okta scope required for creating OAuth clients.
	DefaultClientRegistrationScope = "okta.clients.register"

	tokenEndpointPath = "/oauth2/v1/token"
)

// TokenURLForDomain returns the token endpoint of the Okta org authorization server.
func TokenURLForDomain(domain string) string {
	return idputil.NormalizeBaseURL(domain) + tokenEndpointPath
}

// Source describes the OAuth client used for the client credentials grant.
type Source struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// TokenData represents API-related token information
type TokenData struct {
	Data    string
	Scope   []string
	Expires time.Time
}

// ProviderOpts represents options for creating a new Provider.
type ProviderOpts struct {
	// HTTPClient is an HTTP client for making requests to the token endpoint.
	HTTPClient *http.Client

	// Logger is a logger for Provider.
	Logger log.FieldLogger

	// Scopes are requested for the token. Default: DefaultClientRegistrationScope.
	Scopes []string

	// RefreshMargin is subtracted from the token lifetime. Default: DefaultRefreshMargin.
	RefreshMargin time.Duration

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	// It allows distinguishing metrics from different instances of the same service.
	PrometheusLibInstanceLabel string
}

// Provider obtains access tokens with the client credentials grant and caches them
// until RefreshMargin before their expiration.
// Concurrent callers share one token request.
type Provider struct {
	httpClient    *http.Client
	source        Source
	scopes        []string
	refreshMargin time.Duration
	logger        log.FieldLogger
	promMetrics   *metrics.PrometheusMetrics

	mu      sync.RWMutex
	token   TokenData
	sfGroup singleflight.Group
	now     func() time.Time
}

var _ CredentialSource = (*Provider)(nil)

// NewProvider returns a new Provider.
func NewProvider(source Source) *Provider {
	return NewProviderWithOpts(source, ProviderOpts{})
}

// NewProviderWithOpts returns a new Provider with options.
func NewProviderWithOpts(source Source, opts ProviderOpts) *Provider {
	opts.Logger = idputil.PrepareLogger(opts.Logger)
	if opts.HTTPClient == nil {
		opts.HTTPClient = idputil.MakeDefaultHTTPClient(idputil.DefaultHTTPRequestTimeout, opts.Logger)
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = []string{DefaultClientRegistrationScope}
	}
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = DefaultRefreshMargin
	}
	return &Provider{
		httpClient:    opts.HTTPClient,
		source:        source,
		scopes:        opts.Scopes,
		refreshMargin: opts.RefreshMargin,
		logger:        opts.Logger,
		promMetrics:   metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, metrics.SourceTokenProvider),
		now:           time.Now,
	}
}

// GetToken returns a cached access token or requests a new one.
func (p *Provider) GetToken(ctx context.Context) (string, error) {
	if token, ok := p.cachedToken(); ok {
		return token, nil
	}
	res, err, _ := p.sfGroup.Do("token", func() (interface{}, error) {
		if token, ok := p.cachedToken(); ok {
			return token, nil
		}
		tokenData, issueErr := p.issueToken(ctx)
		if issueErr != nil {
			return "", issueErr
		}
		p.mu.Lock()
		p.token = tokenData
		p.mu.Unlock()
		return tokenData.Data, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// AuthorizationHeader implements CredentialSource.
func (p *Provider) AuthorizationHeader(ctx context.Context) (string, error) {
	token, err := p.GetToken(ctx)
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}

// Invalidate drops the cached token.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.token = TokenData{}
	p.mu.Unlock()
}

func (p *Provider) cachedToken() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token.Data == "" || !p.now().Add(p.refreshMargin).Before(p.token.Expires) {
		return "", false
	}
	return p.token.Data, true
}

type tokenResponseBody struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

func (p *Provider) issueToken(ctx context.Context) (TokenData, error) {
	if p.source.ClientID == "" || p.source.ClientSecret == "" {
		return TokenData{}, ErrMissingCredentials
	}
	values := url.Values{}
	values.Add("grant_type", "client_credentials")
	values.Add("scope", strings.Join(p.scopes, " "))
	values.Add("client_id", p.source.ClientID)
	values.Add("client_secret", p.source.ClientSecret)

	req, err := http.NewRequest(http.MethodPost, p.source.TokenURL, strings.NewReader(values.Encode()))
	if err != nil {
		return TokenData{}, fmt.Errorf("new token request: %w", err)
	}
	req.Header.Set("Content-Type", idputil.ContentTypeFormURLEncoded)
	req.Header.Set("Accept", idputil.ContentTypeJSON)

	resp, err := idputil.DoRequest(ctx, p.httpClient, req, p.logger, p.promMetrics)
	if err != nil {
		return TokenData{}, fmt.Errorf("(%s, %s): %w", p.source.TokenURL, p.source.ClientID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return TokenData{}, resp.UnexpectedStatusError(req)
	}
	var tokenResp tokenResponseBody
	if err = resp.DecodeJSON(&tokenResp); err != nil {
		return TokenData{}, fmt.Errorf("(%s, %s): %w", p.source.TokenURL, p.source.ClientID, err)
	}
	if tokenResp.AccessToken == "" {
		return TokenData{}, errors.New("token response has no access_token")
	}

	expiresIn := DefaultExpiresIn
	if tokenResp.ExpiresIn > 0 {
		expiresIn = time.Duration(tokenResp.ExpiresIn) * time.Second
	}
	expires := p.now().Add(expiresIn)
	p.logger.Info(fmt.Sprintf("(%s, %s): issued token %s, expires on %s",
		p.source.TokenURL, p.source.ClientID, strutil.MaskSecret(tokenResp.AccessToken), expires.UTC()))

	scope := p.scopes
	if tokenResp.Scope != "" {
		scope = strings.Fields(tokenResp.Scope)
	}
	return TokenData{Data: tokenResp.AccessToken, Scope: scope, Expires: expires}, nil
}
