/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package idptest

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ClientRegistrationRequest is a request body of the client registration endpoint.
type ClientRegistrationRequest struct {
	ClientName              string   `json:"client_name"`
	ApplicationType         string   `json:"application_type"`
	RedirectURIs            []string `json:"redirect_uris"`
	ResponseTypes           []string `json:"response_types"`
	GrantTypes              []string `json:"grant_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// ClientRegistrationResponse is a response body of the client registration endpoint.
type ClientRegistrationResponse struct {
	ClientRegistrationRequest
	ClientID              string `json:"client_id,omitempty"`
	ClientSecret          string `json:"client_secret,omitempty"`
	ClientIDIssuedAt      int64  `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt int64  `json:"client_secret_expires_at"`
}

// ClientsHandler is an implementation of the Okta-like client registration endpoint (POST /oauth2/v1/clients).
// Requests are authorized either by the static API token ("SSWS <token>")
// or by an access token issued by TokenHandler ("Bearer <token>").
type ClientsHandler struct {
	servedCount atomic.Uint64

	// APIToken is an accepted static token. Empty value disables SSWS authorization.
	APIToken string

	// TokenHandler validates bearer tokens. Nil disables bearer authorization.
	TokenHandler *TokenHandler

	// ClientIDGenerator and ClientSecretGenerator produce credentials of new clients. Default: random UUIDs.
	ClientIDGenerator     func(req ClientRegistrationRequest) string
	ClientSecretGenerator func(req ClientRegistrationRequest) string

	mu            sync.RWMutex
	requests      []ClientRegistrationRequest
	failureStatus int
	failureBody   string
	omitSecret    bool
}

// SetFailure makes the handler respond with the given status code and body. Zero status restores normal behavior.
func (h *ClientsHandler) SetFailure(status int, body string) {
	h.mu.Lock()
	h.failureStatus, h.failureBody = status, body
	h.mu.Unlock()
}

// SetOmitSecret makes the handler respond with 201 but without client_secret.
func (h *ClientsHandler) SetOmitSecret(omit bool) {
	h.mu.Lock()
	h.omitSecret = omit
	h.mu.Unlock()
}

// Requests returns all registration requests that were accepted.
func (h *ClientsHandler) Requests() []ClientRegistrationRequest {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]ClientRegistrationRequest(nil), h.requests...)
}

func (h *ClientsHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	h.servedCount.Add(1)

	if !h.isAuthorized(r.Header.Get("Authorization")) {
		writeJSON(rw, http.StatusUnauthorized, map[string]string{
			"errorCode": "E0000011", "errorSummary": "Invalid token provided"})
		return
	}

	h.mu.RLock()
	failureStatus, failureBody, omitSecret := h.failureStatus, h.failureBody, h.omitSecret
	h.mu.RUnlock()
	if failureStatus != 0 {
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(failureStatus)
		_, _ = rw.Write([]byte(failureBody))
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(rw, http.StatusBadRequest, "invalid_client_metadata", err.Error())
		return
	}
	if len(req.RedirectURIs) == 0 {
		writeOAuthError(rw, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uris is required")
		return
	}

	h.mu.Lock()
	h.requests = append(h.requests, req)
	h.mu.Unlock()

	resp := ClientRegistrationResponse{ClientRegistrationRequest: req, ClientID: uuid.NewString()}
	if h.ClientIDGenerator != nil {
		resp.ClientID = h.ClientIDGenerator(req)
	}
	if !omitSecret {
		resp.ClientSecret = uuid.NewString()
		if h.ClientSecretGenerator != nil {
			resp.ClientSecret = h.ClientSecretGenerator(req)
		}
	}
	writeJSON(rw, http.StatusCreated, resp)
}

func (h *ClientsHandler) isAuthorized(authHeader string) bool {
	switch {
	case h.APIToken != "" && strings.HasPrefix(authHeader, "SSWS "):
		return strings.TrimPrefix(authHeader, "SSWS ") == h.APIToken
	case h.TokenHandler != nil && strings.HasPrefix(authHeader, "Bearer "):
		return h.TokenHandler.IsIssued(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return false
}

// ServedCount returns the number of times the handler has been served.
func (h *ClientsHandler) ServedCount() uint64 {
	return h.servedCount.Load()
}

// ResetServedCount resets the number of times the handler has been served.
func (h *ClientsHandler) ResetServedCount() {
	h.servedCount.Store(0)
}
