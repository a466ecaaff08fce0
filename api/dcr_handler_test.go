/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package api_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jwtgo "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dcrkit/api"
	"github.com/acronis/go-dcrkit/dcr"
	"github.com/acronis/go-dcrkit/idptest"
	"github.com/acronis/go-dcrkit/idptoken"
	"github.com/acronis/go-dcrkit/jwks"
	"github.com/acronis/go-dcrkit/jwt"
	"github.com/acronis/go-dcrkit/marketplace"
	"github.com/acronis/go-dcrkit/provisioning"
	"github.com/acronis/go-dcrkit/registration"
	"github.com/acronis/go-dcrkit/registration/filestore"
)

const (
	testAudience = "https://google.com"
	testAPIToken = "00okta-api-token"
)

type testEnv struct {
	idpSrv  *idptest.HTTPServer
	store   registration.Store
	handler http.Handler
}

func newTestEnv(t *testing.T, requireKnownOrder bool) *testEnv {
	t.Helper()
	idpSrv := idptest.NewHTTPServer(idptest.WithHTTPClientsHandler(&idptest.ClientsHandler{APIToken: testAPIToken}))
	require.NoError(t, idpSrv.StartAndWaitForReady(time.Second))
	t.Cleanup(func() { _ = idpSrv.Shutdown(context.Background()) })

	keysClient, err := jwks.NewCachingClientWithOpts(jwks.CachingClientOpts{
		ClientOpts: jwks.ClientOpts{HTTPClient: &http.Client{Timeout: 5 * time.Second}},
	})
	require.NoError(t, err)
	validator, err := jwt.NewStatementValidator(keysClient, jwt.StatementValidatorOpts{
		Issuers: jwt.IssuerPolicy{
			ProductionIssuer: idpSrv.CertsURL(idptest.TestServiceAccount),
			CertBaseURL:      idpSrv.URL() + idptest.CertsEndpointPathPrefix,
		},
		ExpectedAudience: []string{testAudience},
	})
	require.NoError(t, err)

	store := filestore.New(filepath.Join(t.TempDir(), "clients_db.json"), filestore.Opts{})
	registrar := dcr.NewClientRegistrar(idpSrv.URL(), idptoken.StaticToken(testAPIToken), dcr.ClientRegistrarOpts{})
	orchestrator := provisioning.NewOrchestrator(validator, registrar, store,
		provisioning.OrchestratorOpts{RequireKnownOrder: requireKnownOrder})
	dcrHandler := api.NewDCRHandler(orchestrator, marketplace.NewAdapter(marketplace.AdapterOpts{}), api.DCRHandlerOpts{})

	return &testEnv{idpSrv: idpSrv, store: store, handler: api.NewRouter(dcrHandler)}
}

func (e *testEnv) statement(t *testing.T, orderID string, redirectURIs ...string) string {
	t.Helper()
	claims := &jwt.SoftwareStatementClaims{
		RegisteredClaims: jwtgo.RegisteredClaims{
			Issuer:    e.idpSrv.CertsURL(idptest.TestServiceAccount),
			Audience:  jwtgo.ClaimStrings{testAudience},
			IssuedAt:  jwtgo.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwtgo.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Google:              jwt.GoogleClaims{Order: orderID},
		AuthAppRedirectURIs: redirectURIs,
	}
	return idptest.MustMakeTokenStringSignedWithTestKey(claims)
}

func (e *testEnv) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/dcr", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	e.handler.ServeHTTP(resp, req)
	return resp
}

func statementBody(statement string) string {
	return fmt.Sprintf(`{"software_statement":%q}`, statement)
}

func pushMessage(payload string) string {
	return fmt.Sprintf(`{"message":{"data":%q,"messageId":"1"},"subscription":"s"}`,
		base64.StdEncoding.EncodeToString([]byte(payload)))
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.Contains(t, resp.Header().Get("Content-Type"), "application/json")
	require.NoError(t, json.NewDecoder(bytes.NewReader(resp.Body.Bytes())).Decode(dst))
}

func TestDCRHandler_Registration(t *testing.T) {
	redirectURI := "https://vertexaisearch.cloud.google.com/oauth-redirect"

	t.Run("registers once and returns the same credentials", func(t *testing.T) {
		env := newTestEnv(t, false)
		statement := env.statement(t, "order-42", redirectURI)

		resp := env.post(t, statementBody(statement))
		require.Equal(t, http.StatusOK, resp.Code)
		var first api.ClientResponse
		decodeBody(t, resp, &first)
		require.NotEmpty(t, first.ClientID)
		require.NotEmpty(t, first.ClientSecret)
		require.Zero(t, first.ClientSecretExpiresAt)
		require.Contains(t, resp.Body.String(), `"client_secret_expires_at":0`)

		resp = env.post(t, statementBody(statement))
		require.Equal(t, http.StatusOK, resp.Code)
		var second api.ClientResponse
		decodeBody(t, resp, &second)
		require.Equal(t, first, second)
		require.EqualValues(t, 1, env.idpSrv.ClientsHandler.ServedCount())

		reg, err := env.store.FindByOrderID(context.Background(), "order-42")
		require.NoError(t, err)
		require.Equal(t, first.ClientSecret, reg.ClientSecret.Reveal())
	})

	t.Run("existing registration is returned without provider calls", func(t *testing.T) {
		env := newTestEnv(t, false)
		require.NoError(t, env.store.Save(context.Background(), registration.Registration{
			OrderID: "order-42", ClientID: "c1", ClientSecret: "s1"}))

		resp := env.post(t, statementBody(env.statement(t, "order-42", redirectURI)))
		require.Equal(t, http.StatusOK, resp.Code)
		var clientResp api.ClientResponse
		decodeBody(t, resp, &clientResp)
		require.Equal(t, api.ClientResponse{ClientID: "c1", ClientSecret: "s1"}, clientResp)
		require.Zero(t, env.idpSrv.ClientsHandler.ServedCount())
	})

	tests := []struct {
		name       string
		body       func(env *testEnv) string
		wantStatus int
		wantError  string
		wantDetail string
	}{
		{
			name:       "invalid JSON",
			body:       func(*testEnv) string { return `{"software_statement":` },
			wantStatus: http.StatusBadRequest,
			wantError:  api.ErrMessageInvalidJSON,
		},
		{
			name:       "statement is not a string",
			body:       func(*testEnv) string { return `{"software_statement":42}` },
			wantStatus: http.StatusBadRequest,
			wantError:  api.ErrMessageInvalidStatement,
		},
		{
			name:       "malformed statement",
			body:       func(*testEnv) string { return statementBody("not-a-jwt") },
			wantStatus: http.StatusBadRequest,
			wantError:  api.ErrMessageInvalidStatement,
			wantDetail: "malformed",
		},
		{
			name:       "missing order",
			body:       func(env *testEnv) string { return statementBody(env.statement(t, "", redirectURI)) },
			wantStatus: http.StatusBadRequest,
			wantError:  api.ErrMessageMissingOrderID,
			wantDetail: "google.order",
		},
		{
			name:       "missing redirect uris",
			body:       func(env *testEnv) string { return statementBody(env.statement(t, "order-42")) },
			wantStatus: http.StatusBadRequest,
			wantError:  api.ErrMessageMissingRedirectURIs,
			wantDetail: "auth_app_redirect_uris",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			resp := env.post(t, tt.body(env))
			require.Equal(t, tt.wantStatus, resp.Code)
			var errResp api.ErrorResponse
			decodeBody(t, resp, &errResp)
			require.Equal(t, tt.wantError, errResp.Error)
			require.Contains(t, errResp.Detail, tt.wantDetail)
			require.Zero(t, env.idpSrv.ClientsHandler.ServedCount())
		})
	}

	t.Run("provider failure", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.idpSrv.ClientsHandler.SetFailure(http.StatusBadRequest, `{"errorCode":"E0000001"}`)

		resp := env.post(t, statementBody(env.statement(t, "order-42", redirectURI)))
		require.Equal(t, http.StatusInternalServerError, resp.Code)
		var errResp api.ErrorResponse
		decodeBody(t, resp, &errResp)
		require.Equal(t, api.ErrMessageRegistrationFailed, errResp.Error)
		require.Contains(t, errResp.Detail, "400")
		require.Contains(t, errResp.Detail, "E0000001")

		_, err := env.store.FindByOrderID(context.Background(), "order-42")
		require.ErrorIs(t, err, registration.ErrNotFound)
	})

	t.Run("signing keys unavailable", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.idpSrv.CertsHandler.SetStatusCode(http.StatusServiceUnavailable)

		resp := env.post(t, statementBody(env.statement(t, "order-42", redirectURI)))
		require.Equal(t, http.StatusInternalServerError, resp.Code)
		var errResp api.ErrorResponse
		decodeBody(t, resp, &errResp)
		require.Equal(t, api.ErrMessageKeysUnavailable, errResp.Error)
	})

	t.Run("unknown order is refused when known orders are required", func(t *testing.T) {
		env := newTestEnv(t, true)

		resp := env.post(t, statementBody(env.statement(t, "order-42", redirectURI)))
		require.Equal(t, http.StatusBadRequest, resp.Code)
		var errResp api.ErrorResponse
		decodeBody(t, resp, &errResp)
		require.Equal(t, api.ErrMessageOrderNotFound, errResp.Error)

		resp = env.post(t, pushMessage(`{"entitlement":{"orderId":"order-42"}}`))
		require.Equal(t, http.StatusOK, resp.Code)

		resp = env.post(t, statementBody(env.statement(t, "order-42", redirectURI)))
		require.Equal(t, http.StatusOK, resp.Code)
		require.EqualValues(t, 1, env.idpSrv.ClientsHandler.ServedCount())
	})
}

func TestDCRHandler_Event(t *testing.T) {
	t.Run("provisions the order with the default redirect uri", func(t *testing.T) {
		env := newTestEnv(t, false)

		for i := 0; i < 2; i++ {
			resp := env.post(t, pushMessage(`{"eventType":"ENTITLEMENT_CREATION_REQUESTED","entitlement":{"orderId":"order-7"}}`))
			require.Equal(t, http.StatusOK, resp.Code)
			var eventResp api.EventResponse
			decodeBody(t, resp, &eventResp)
			require.Equal(t, api.EventResponse{Status: api.EventStatusSuccess, OrderID: "order-7"}, eventResp)
		}

		reqs := env.idpSrv.ClientsHandler.Requests()
		require.Len(t, reqs, 1)
		require.Equal(t, []string{marketplace.DefaultRedirectURI}, reqs[0].RedirectURIs)
		require.Equal(t, "Client for Order order-7", reqs[0].ClientName)
	})

	t.Run("unknown format is ignored", func(t *testing.T) {
		env := newTestEnv(t, false)
		resp := env.post(t, `{"hello":"world"}`)
		require.Equal(t, http.StatusOK, resp.Code)
		var eventResp api.EventResponse
		decodeBody(t, resp, &eventResp)
		require.Equal(t, api.EventResponse{Status: api.EventStatusIgnored, Reason: "Unknown format"}, eventResp)
		require.Zero(t, env.idpSrv.ClientsHandler.ServedCount())
	})

	t.Run("undecodable data", func(t *testing.T) {
		env := newTestEnv(t, false)
		resp := env.post(t, `{"data":"!!!"}`)
		require.Equal(t, http.StatusInternalServerError, resp.Code)
		var errResp api.ErrorResponse
		decodeBody(t, resp, &errResp)
		require.Equal(t, api.ErrMessageEventFailed, errResp.Error)
	})

	t.Run("missing order id", func(t *testing.T) {
		env := newTestEnv(t, false)
		resp := env.post(t, pushMessage(`{"eventType":"ACCOUNT_ACTIVE"}`))
		require.Equal(t, http.StatusBadRequest, resp.Code)
		var errResp api.ErrorResponse
		decodeBody(t, resp, &errResp)
		require.Equal(t, api.ErrMessageMissingOrderID, errResp.Error)
	})
}

func TestDCRHandler_Method(t *testing.T) {
	env := newTestEnv(t, false)
	resp := httptest.NewRecorder()
	env.handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/dcr", http.NoBody))
	require.Equal(t, http.StatusMethodNotAllowed, resp.Code)
	require.Equal(t, http.MethodPost, resp.Header().Get("Allow"))
}

func TestHealthHandler(t *testing.T) {
	resp := httptest.NewRecorder()
	api.HealthHandler(resp, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}
