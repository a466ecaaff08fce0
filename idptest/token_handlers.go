/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultTokenExpiresIn is the default lifetime (in seconds) of access tokens issued by TokenHandler.
const DefaultTokenExpiresIn = 3600

// TokenHandler is an implementation of the client credentials grant of the token endpoint.
// Issued access tokens are opaque and remembered, so other handlers can check them with IsIssued.
type TokenHandler struct {
	servedCount atomic.Uint64

	// ClientID and ClientSecret are the only accepted credentials. Empty ClientID accepts any credentials.
	ClientID     string
	ClientSecret string

	// ExpiresIn is a lifetime of issued tokens in seconds. Default: DefaultTokenExpiresIn.
	ExpiresIn int64

	mu         sync.RWMutex
	issued     map[string]struct{}
	lastScopes []string
}

func (h *TokenHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	h.servedCount.Add(1)

	if err := r.ParseForm(); err != nil {
		writeOAuthError(rw, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if grantType := r.PostForm.Get("grant_type"); grantType != "client_credentials" {
		writeOAuthError(rw, http.StatusBadRequest, "unsupported_grant_type", fmt.Sprintf("grant type %q", grantType))
		return
	}
	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID, clientSecret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if h.ClientID != "" && (clientID != h.ClientID || clientSecret != h.ClientSecret) {
		writeOAuthError(rw, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	accessToken := "at-" + uuid.NewString()
	h.mu.Lock()
	if h.issued == nil {
		h.issued = make(map[string]struct{})
	}
	h.issued[accessToken] = struct{}{}
	h.lastScopes = strings.Fields(r.PostForm.Get("scope"))
	h.mu.Unlock()

	expiresIn := h.ExpiresIn
	if expiresIn == 0 {
		expiresIn = DefaultTokenExpiresIn
	}
	writeJSON(rw, http.StatusOK, TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		Scope:       r.PostForm.Get("scope"),
	})
}

// IsIssued reports whether the access token was issued by the handler.
func (h *TokenHandler) IsIssued(accessToken string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.issued[accessToken]
	return ok
}

// RevokeAll forgets all issued tokens.
func (h *TokenHandler) RevokeAll() {
	h.mu.Lock()
	h.issued = nil
	h.mu.Unlock()
}

// LastScopes returns the scopes of the last token request.
func (h *TokenHandler) LastScopes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastScopes
}

// ServedCount returns the number of times the handler has been served.
func (h *TokenHandler) ServedCount() uint64 {
	return h.servedCount.Load()
}

// ResetServedCount resets the number of times the handler has been served.
func (h *TokenHandler) ResetServedCount() {
	h.servedCount.Store(0)
}

// TokenResponse is a response of the token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// IntrospectionResponse is a response of the introspection endpoint (RFC 7662).
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Subject   string `json:"sub,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Issuer    string `json:"iss,omitempty"`
}

// TokenIntrospectionHandler is an implementation of the introspection endpoint.
// Callers authenticate with HTTP basic auth, tokens that were not added with SetToken are inactive.
type TokenIntrospectionHandler struct {
	servedCount atomic.Uint64

	// ClientID and ClientSecret are the credentials of the resource server allowed to introspect.
	ClientID     string
	ClientSecret string

	mu            sync.RWMutex
	tokens        map[string]IntrospectionResponse
	lastTypeHint  string
	failureStatus int
}

// SetToken registers the introspection response for the token.
func (h *TokenIntrospectionHandler) SetToken(token string, resp IntrospectionResponse) {
	h.mu.Lock()
	if h.tokens == nil {
		h.tokens = make(map[string]IntrospectionResponse)
	}
	h.tokens[token] = resp
	h.mu.Unlock()
}

// SetFailureStatus makes the handler respond with the given status code. Zero restores normal behavior.
func (h *TokenIntrospectionHandler) SetFailureStatus(code int) {
	h.mu.Lock()
	h.failureStatus = code
	h.mu.Unlock()
}

// LastTokenTypeHint returns the token_type_hint of the last request.
func (h *TokenIntrospectionHandler) LastTokenTypeHint() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastTypeHint
}

func (h *TokenIntrospectionHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	h.servedCount.Add(1)

	h.mu.RLock()
	failureStatus := h.failureStatus
	h.mu.RUnlock()
	if failureStatus != 0 {
		http.Error(rw, http.StatusText(failureStatus), failureStatus)
		return
	}

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok || (h.ClientID != "" && (clientID != h.ClientID || clientSecret != h.ClientSecret)) {
		writeOAuthError(rw, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(rw, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	token := r.PostForm.Get("token")
	if token == "" {
		writeOAuthError(rw, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}

	h.mu.Lock()
	h.lastTypeHint = r.PostForm.Get("token_type_hint")
	resp, found := h.tokens[token]
	h.mu.Unlock()
	if !found {
		resp = IntrospectionResponse{Active: false}
	}
	writeJSON(rw, http.StatusOK, resp)
}

// ServedCount returns the number of times the handler has been served.
func (h *TokenIntrospectionHandler) ServedCount() uint64 {
	return h.servedCount.Load()
}

// ResetServedCount resets the number of times the handler has been served.
func (h *TokenIntrospectionHandler) ResetServedCount() {
	h.servedCount.Store(0)
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeOAuthError(rw http.ResponseWriter, status int, code, description string) {
	writeJSON(rw, status, map[string]string{"error": code, "error_description": description})
}
