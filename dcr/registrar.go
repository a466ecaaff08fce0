/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package dcr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/acronis/go-appkit/log"

	"github.com/acronis/go-dcrkit/idptoken"
	"github.com/acronis/go-dcrkit/internal/idputil"
	"github.com/acronis/go-dcrkit/internal/metrics"
	"github.com/acronis/go-dcrkit/registration"
)

const clientsEndpointPath = "/oauth2/v1/clients"

// maxErrorBodyLen limits the response body kept in RegistrationFailedError.
const maxErrorBodyLen = 4096

// ClientsEndpointURL returns the client registration endpoint of the Okta org.
func ClientsEndpointURL(domain string) string {
	return idputil.NormalizeBaseURL(domain) + clientsEndpointPath
}

// ClientCredentials are the credentials of a newly registered OAuth client.
type ClientCredentials struct {
	ClientID     string
	ClientSecret registration.Secret
}

// Registrar registers OAuth clients for orders.
type Registrar interface {
	Register(ctx context.Context, orderID string, redirectURIs []string) (ClientCredentials, error)
}

// ClientRequest is the client registration request body.
type ClientRequest struct {
	ClientName              string   `json:"client_name"`
	ApplicationType         string   `json:"application_type"`
	RedirectURIs            []string `json:"redirect_uris"`
	ResponseTypes           []string `json:"response_types"`
	GrantTypes              []string `json:"grant_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// NewClientRequest builds the registration request for the order.
func NewClientRequest(orderID string, redirectURIs []string) ClientRequest {
	return ClientRequest{
		ClientName:              "Client for Order " + orderID,
		ApplicationType:         "web",
		RedirectURIs:            redirectURIs,
		ResponseTypes:           []string{"code"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethod: "client_secret_post",
	}
}

type clientResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// ClientRegistrarOpts is a set of options for creating ClientRegistrar.
type ClientRegistrarOpts struct {
	// HTTPClient is an HTTP client for calls to the registration endpoint.
	// Registration is not idempotent, so the default client does not retry.
	HTTPClient *http.Client

	// RequestTimeout is used for the default HTTP client. Default: idputil.DefaultHTTPRequestTimeout.
	RequestTimeout time.Duration

	// Logger is a logger for the registrar.
	Logger log.FieldLogger

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	PrometheusLibInstanceLabel string
}

// ClientRegistrar is a Registrar that talks to an Okta-compatible management API.
type ClientRegistrar struct {
	endpointURL string
	credentials idptoken.CredentialSource
	httpClient  *http.Client
	logger      log.FieldLogger
	promMetrics *metrics.PrometheusMetrics
}

var _ Registrar = (*ClientRegistrar)(nil)

// NewClientRegistrar creates a new ClientRegistrar for the IdP domain.
func NewClientRegistrar(domain string, credentials idptoken.CredentialSource, opts ClientRegistrarOpts) *ClientRegistrar {
	opts.Logger = idputil.PrepareLogger(opts.Logger)
	if opts.HTTPClient == nil {
		opts.HTTPClient = idputil.MakeHTTPClient(opts.RequestTimeout, 0, opts.Logger)
	}
	return &ClientRegistrar{
		endpointURL: ClientsEndpointURL(domain),
		credentials: credentials,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		promMetrics: metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, metrics.SourceClientRegistrar),
	}
}

// Register creates a new OAuth client for the order.
// A 401 response drops the cached credentials and the request is sent once more.
func (r *ClientRegistrar) Register(
	ctx context.Context, orderID string, redirectURIs []string,
) (ClientCredentials, error) {
	body, err := json.Marshal(NewClientRequest(orderID, redirectURIs))
	if err != nil {
		return ClientCredentials{}, fmt.Errorf("encode client registration request: %w", err)
	}

	resp, err := r.send(ctx, body)
	if err != nil {
		return ClientCredentials{}, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		r.logger.Warn(fmt.Sprintf("client registration for order %s is unauthorized, refreshing IdP credentials", orderID))
		r.credentials.Invalidate()
		if resp, err = r.send(ctx, body); err != nil {
			return ClientCredentials{}, err
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ClientCredentials{}, &RegistrationFailedError{StatusCode: resp.StatusCode, Body: truncateBody(resp.Body)}
	}
	var clientResp clientResponse
	if err = resp.DecodeJSON(&clientResp); err != nil {
		return ClientCredentials{}, &RegistrationFailedError{
			StatusCode: resp.StatusCode, Body: truncateBody(resp.Body), Inner: err}
	}
	if clientResp.ClientID == "" || clientResp.ClientSecret == "" {
		return ClientCredentials{}, &RegistrationFailedError{
			StatusCode: resp.StatusCode,
			Body:       truncateBody(resp.Body),
			Inner:      errors.New("response has no client_id or client_secret"),
		}
	}

	creds := ClientCredentials{ClientID: clientResp.ClientID, ClientSecret: registration.Secret(clientResp.ClientSecret)}
	r.logger.Info(fmt.Sprintf("registered OAuth client %s (secret %s) for order %s",
		creds.ClientID, creds.ClientSecret, orderID))
	return creds, nil
}

func (r *ClientRegistrar) send(ctx context.Context, body []byte) (*idputil.Response, error) {
	authHeader, err := r.credentials.AuthorizationHeader(ctx)
	if err != nil {
		return nil, fmt.Errorf("get IdP authorization: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, r.endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new client registration request: %w", err)
	}
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("Content-Type", idputil.ContentTypeJSON)
	req.Header.Set("Accept", idputil.ContentTypeJSON)

	resp, err := idputil.DoRequest(ctx, r.httpClient, req, r.logger, r.promMetrics)
	if err != nil {
		return nil, &RegistrationFailedError{Inner: err}
	}
	return resp, nil
}

func truncateBody(body []byte) string {
	if len(body) > maxErrorBodyLen {
		return string(body[:maxErrorBodyLen]) + "..."
	}
	return string(body)
}
