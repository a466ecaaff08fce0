/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptest

import (
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/acronis/go-appkit/testutil"
)

const (
	CertsEndpointPathPrefix        = "/service_accounts/v1/metadata/x509/"
	JWKSEndpointPath               = "/oauth2/v1/keys"
	TokenEndpointPath              = "/oauth2/v1/token"
	ClientsEndpointPath            = "/oauth2/v1/clients"
	TokenIntrospectionEndpointPath = "/oauth2/default/v1/introspect" // nolint:gosec // This server is used for testing purposes only.
)

// TestServiceAccount is a service account whose certificates URL is used as a trusted issuer in tests.
const TestServiceAccount = "cloud-agentspace@system.gserviceaccount.com"

const localhostWithDynamicPortAddr = "127.0.0.1:0"

// HTTPServerOption is an option for HTTPServer.
type HTTPServerOption func(s *HTTPServer)

// WithHTTPAddress is an option to set HTTP server address.
func WithHTTPAddress(addr string) HTTPServerOption {
	return func(s *HTTPServer) {
		s.addr.Store(addr)
	}
}

// WithHTTPCertsHandler is an option to set a handler for GET /service_accounts/v1/metadata/x509/{account}.
func WithHTTPCertsHandler(handler *KeysHandler) HTTPServerOption {
	return func(s *HTTPServer) {
		s.CertsHandler = handler
	}
}

// WithHTTPJWKSHandler is an option to set a handler for GET /oauth2/v1/keys.
func WithHTTPJWKSHandler(handler *KeysHandler) HTTPServerOption {
	return func(s *HTTPServer) {
		s.JWKSHandler = handler
	}
}

// WithHTTPTokenHandler is an option to set a handler for POST /oauth2/v1/token.
func WithHTTPTokenHandler(handler *TokenHandler) HTTPServerOption {
	return func(s *HTTPServer) {
		s.TokenHandler = handler
	}
}

// WithHTTPClientsHandler is an option to set a handler for POST /oauth2/v1/clients.
func WithHTTPClientsHandler(handler *ClientsHandler) HTTPServerOption {
	return func(s *HTTPServer) {
		s.ClientsHandler = handler
	}
}

// WithHTTPTokenIntrospectionHandler is an option to set a handler for POST /oauth2/default/v1/introspect.
func WithHTTPTokenIntrospectionHandler(handler *TokenIntrospectionHandler) HTTPServerOption {
	return func(s *HTTPServer) {
		s.TokenIntrospectionHandler = handler
	}
}

// WithHTTPMiddleware is an option to wrap the router of the server.
func WithHTTPMiddleware(mw func(http.Handler) http.Handler) HTTPServerOption {
	return func(s *HTTPServer) {
		s.middleware = mw
	}
}

// HTTPServer is a mock IDP server for testing purposes.
// It publishes signing keys (X.509 certificates map and JWKS), issues client credentials tokens,
// introspects tokens and registers OAuth clients.
type HTTPServer struct {
	*http.Server
	addr                      atomic.Value
	middleware                func(http.Handler) http.Handler
	CertsHandler              *KeysHandler
	JWKSHandler               *KeysHandler
	TokenHandler              *TokenHandler
	ClientsHandler            *ClientsHandler
	TokenIntrospectionHandler *TokenIntrospectionHandler
	Router                    *http.ServeMux
}

// NewHTTPServer creates a new mock IDP server with provided options.
func NewHTTPServer(options ...HTTPServerOption) *HTTPServer {
	s := &HTTPServer{}
	for _, opt := range options {
		opt(s)
	}

	if s.CertsHandler == nil {
		s.CertsHandler = NewKeysHandler(KeysFormatX509)
	}
	if s.JWKSHandler == nil {
		s.JWKSHandler = NewKeysHandler(KeysFormatJWKS)
	}
	if s.TokenHandler == nil {
		s.TokenHandler = &TokenHandler{}
	}
	if s.ClientsHandler == nil {
		s.ClientsHandler = &ClientsHandler{}
	}
	if s.ClientsHandler.TokenHandler == nil {
		s.ClientsHandler.TokenHandler = s.TokenHandler
	}
	if s.TokenIntrospectionHandler == nil {
		s.TokenIntrospectionHandler = &TokenIntrospectionHandler{}
	}

	s.Router = http.NewServeMux()
	s.Router.Handle(CertsEndpointPathPrefix, s.CertsHandler)
	s.Router.Handle(JWKSEndpointPath, s.JWKSHandler)
	s.Router.Handle(TokenEndpointPath, s.TokenHandler)
	s.Router.Handle(ClientsEndpointPath, s.ClientsHandler)
	s.Router.Handle(TokenIntrospectionEndpointPath, s.TokenIntrospectionHandler)

	// nolint:gosec // This server is used for testing purposes only.
	s.Server = &http.Server{Handler: s.Router}
	if s.middleware != nil {
		s.Server.Handler = s.middleware(s.Router)
	}

	return s
}

// URL method returns the URL of the server.
func (s *HTTPServer) URL() string {
	if srvURL := s.addr.Load(); srvURL != nil {
		return "http://" + srvURL.(string)
	}
	return ""
}

// CertsURL returns the URL of the certificates of the service account.
// It is also the issuer of the statements signed by this service account.
func (s *HTTPServer) CertsURL(serviceAccount string) string {
	return s.URL() + CertsEndpointPathPrefix + serviceAccount
}

// JWKSURL returns the URL of the JWKS endpoint.
func (s *HTTPServer) JWKSURL() string {
	return s.URL() + JWKSEndpointPath
}

// IntrospectionURL returns the URL of the introspection endpoint.
func (s *HTTPServer) IntrospectionURL() string {
	return s.URL() + TokenIntrospectionEndpointPath
}

// Start starts the HTTPServer.
func (s *HTTPServer) Start() error {
	addr, ok := s.addr.Load().(string)
	if !ok {
		addr = localhostWithDynamicPortAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}
	s.addr.Store(ln.Addr().String())

	go func() { _ = s.Server.Serve(ln) }()

	return nil
}

// StartAndWaitForReady starts the server waits for the server to start listening.
func (s *HTTPServer) StartAndWaitForReady(timeout time.Duration) error {
	if err := s.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	return testutil.WaitListeningServer(s.addr.Load().(string), timeout)
}
