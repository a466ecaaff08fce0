/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package dcr_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dcrkit/dcr"
	"github.com/acronis/go-dcrkit/idptest"
	"github.com/acronis/go-dcrkit/idptoken"
)

const (
	testAPIToken     = "00okta-api-token"
	testClientID     = "dcr-service"
	testClientSecret = "dcr-service-secret"
)

var testRedirectURIs = []string{"https://vertexaisearch.cloud.google.com/oauth-redirect"}

func startIDPServer(t *testing.T) *idptest.HTTPServer {
	t.Helper()
	tokenHandler := &idptest.TokenHandler{ClientID: testClientID, ClientSecret: testClientSecret}
	clientsHandler := &idptest.ClientsHandler{
		APIToken:              testAPIToken,
		ClientIDGenerator:     func(req idptest.ClientRegistrationRequest) string { return "client-" + req.ClientName },
		ClientSecretGenerator: func(idptest.ClientRegistrationRequest) string { return "generated-secret" },
	}
	idpSrv := idptest.NewHTTPServer(
		idptest.WithHTTPTokenHandler(tokenHandler),
		idptest.WithHTTPClientsHandler(clientsHandler),
	)
	require.NoError(t, idpSrv.StartAndWaitForReady(time.Second))
	t.Cleanup(func() { _ = idpSrv.Shutdown(context.Background()) })
	return idpSrv
}

func TestClientRegistrar_Register(t *testing.T) {
	t.Run("API token", func(t *testing.T) {
		idpSrv := startIDPServer(t)
		registrar := dcr.NewClientRegistrar(idpSrv.URL(), idptoken.StaticToken(testAPIToken), dcr.ClientRegistrarOpts{})

		creds, err := registrar.Register(context.Background(), "order-42", testRedirectURIs)
		require.NoError(t, err)
		require.Equal(t, "client-Client for Order order-42", creds.ClientID)
		require.Equal(t, "generated-secret", creds.ClientSecret.Reveal())

		reqs := idpSrv.ClientsHandler.Requests()
		require.Len(t, reqs, 1)
		require.Equal(t, idptest.ClientRegistrationRequest{
			ClientName:              "Client for Order order-42",
			ApplicationType:         "web",
			RedirectURIs:            testRedirectURIs,
			ResponseTypes:           []string{"code"},
			GrantTypes:              []string{"authorization_code", "refresh_token"},
			TokenEndpointAuthMethod: "client_secret_post",
		}, reqs[0])
	})

	t.Run("client credentials token", func(t *testing.T) {
		idpSrv := startIDPServer(t)
		provider := idptoken.NewProviderWithOpts(idptoken.Source{
			TokenURL:     idptoken.TokenURLForDomain(idpSrv.URL()),
			ClientID:     testClientID,
			ClientSecret: testClientSecret,
		}, idptoken.ProviderOpts{})
		registrar := dcr.NewClientRegistrar(idpSrv.URL(), provider, dcr.ClientRegistrarOpts{})

		for _, orderID := range []string{"order-1", "order-2"} {
			_, err := registrar.Register(context.Background(), orderID, testRedirectURIs)
			require.NoError(t, err)
		}
		require.EqualValues(t, 1, idpSrv.TokenHandler.ServedCount())
		require.Equal(t, []string{idptoken.DefaultClientRegistrationScope}, idpSrv.TokenHandler.LastScopes())
		require.Len(t, idpSrv.ClientsHandler.Requests(), 2)
	})

	t.Run("revoked token is refreshed once", func(t *testing.T) {
		idpSrv := startIDPServer(t)
		provider := idptoken.NewProviderWithOpts(idptoken.Source{
			TokenURL:     idptoken.TokenURLForDomain(idpSrv.URL()),
			ClientID:     testClientID,
			ClientSecret: testClientSecret,
		}, idptoken.ProviderOpts{})
		registrar := dcr.NewClientRegistrar(idpSrv.URL(), provider, dcr.ClientRegistrarOpts{})

		_, err := registrar.Register(context.Background(), "order-1", testRedirectURIs)
		require.NoError(t, err)

		idpSrv.TokenHandler.RevokeAll()
		_, err = registrar.Register(context.Background(), "order-2", testRedirectURIs)
		require.NoError(t, err)
		require.EqualValues(t, 2, idpSrv.TokenHandler.ServedCount())
		require.EqualValues(t, 3, idpSrv.ClientsHandler.ServedCount())
	})

	t.Run("invalid API token", func(t *testing.T) {
		idpSrv := startIDPServer(t)
		registrar := dcr.NewClientRegistrar(idpSrv.URL(), idptoken.StaticToken("wrong"), dcr.ClientRegistrarOpts{})

		_, err := registrar.Register(context.Background(), "order-42", testRedirectURIs)
		var regErr *dcr.RegistrationFailedError
		require.True(t, errors.As(err, &regErr))
		require.Equal(t, http.StatusUnauthorized, regErr.StatusCode)
		require.Contains(t, regErr.Body, "E0000011")
		require.EqualValues(t, 2, idpSrv.ClientsHandler.ServedCount())
	})

	t.Run("provider rejects request", func(t *testing.T) {
		idpSrv := startIDPServer(t)
		idpSrv.ClientsHandler.SetFailure(http.StatusBadRequest, `{"error":"invalid_redirect_uri"}`)
		registrar := dcr.NewClientRegistrar(idpSrv.URL(), idptoken.StaticToken(testAPIToken), dcr.ClientRegistrarOpts{})

		_, err := registrar.Register(context.Background(), "order-42", testRedirectURIs)
		var regErr *dcr.RegistrationFailedError
		require.True(t, errors.As(err, &regErr))
		require.Equal(t, http.StatusBadRequest, regErr.StatusCode)
		require.Equal(t, `{"error":"invalid_redirect_uri"}`, regErr.Body)
		require.EqualValues(t, 1, idpSrv.ClientsHandler.ServedCount())
	})

	t.Run("response without secret", func(t *testing.T) {
		idpSrv := startIDPServer(t)
		idpSrv.ClientsHandler.SetOmitSecret(true)
		registrar := dcr.NewClientRegistrar(idpSrv.URL(), idptoken.StaticToken(testAPIToken), dcr.ClientRegistrarOpts{})

		_, err := registrar.Register(context.Background(), "order-42", testRedirectURIs)
		var regErr *dcr.RegistrationFailedError
		require.True(t, errors.As(err, &regErr))
		require.Equal(t, http.StatusCreated, regErr.StatusCode)
	})

	t.Run("unreachable provider", func(t *testing.T) {
		registrar := dcr.NewClientRegistrar("http://127.0.0.1:1", idptoken.StaticToken(testAPIToken),
			dcr.ClientRegistrarOpts{RequestTimeout: time.Second})

		_, err := registrar.Register(context.Background(), "order-42", testRedirectURIs)
		var regErr *dcr.RegistrationFailedError
		require.True(t, errors.As(err, &regErr))
		require.Zero(t, regErr.StatusCode)
	})
}

func TestClientsEndpointURL(t *testing.T) {
	require.Equal(t, "https://dev-123.okta.com/oauth2/v1/clients", dcr.ClientsEndpointURL("dev-123.okta.com/"))
	require.Equal(t, "http://localhost:8081/oauth2/v1/clients", dcr.ClientsEndpointURL("http://localhost:8081"))
}
