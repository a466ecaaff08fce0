/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package dcrkit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"

	"github.com/acronis/go-dcrkit/dcr"
	"github.com/acronis/go-dcrkit/idptoken"
	"github.com/acronis/go-dcrkit/internal/idputil"
	"github.com/acronis/go-dcrkit/jwks"
	"github.com/acronis/go-dcrkit/jwt"
	"github.com/acronis/go-dcrkit/marketplace"
	"github.com/acronis/go-dcrkit/provisioning"
	"github.com/acronis/go-dcrkit/registration"
	"github.com/acronis/go-dcrkit/registration/filestore"
	"github.com/acronis/go-dcrkit/registration/redisstore"
	"github.com/acronis/go-dcrkit/registration/sqlstore"
)

type options struct {
	logger                     log.FieldLogger
	loggerProvider             func(ctx context.Context) log.FieldLogger
	prometheusLibInstanceLabel string
}

// Option is an option for the component constructors of this package.
type Option func(options *options)

// WithLogger sets the logger used outside of HTTP requests (startup, background refreshes).
func WithLogger(logger log.FieldLogger) Option {
	return func(options *options) {
		options.logger = logger
	}
}

// WithLoggerProvider sets the provider of the request-scoped logger.
// Default: middleware.GetLoggerFromContext.
func WithLoggerProvider(loggerProvider func(ctx context.Context) log.FieldLogger) Option {
	return func(options *options) {
		options.loggerProvider = loggerProvider
	}
}

// WithPrometheusLibInstanceLabel sets the Prometheus lib instance label for all components.
func WithPrometheusLibInstanceLabel(label string) Option {
	return func(options *options) {
		options.prometheusLibInstanceLabel = label
	}
}

func makeOptions(opts []Option) options {
	o := options{loggerProvider: middleware.GetLoggerFromContext}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewKeyResolver creates a caching client of the signing keys published by the statement issuers.
func NewKeyResolver(cfg *Config, opts ...Option) (*jwks.CachingClient, error) {
	o := makeOptions(opts)
	return jwks.NewCachingClientWithOpts(jwks.CachingClientOpts{
		ClientOpts: jwks.ClientOpts{
			HTTPClient:                 idputil.MakeDefaultHTTPClient(time.Duration(cfg.HTTPClient.RequestTimeout), o.logger),
			Logger:                     o.logger,
			DefaultMaxAge:              time.Duration(cfg.JWKS.Cache.DefaultMaxAge),
			PrometheusLibInstanceLabel: o.prometheusLibInstanceLabel,
		},
		CacheMaxEntries:    cfg.JWKS.Cache.MaxEntries,
		RefetchMinInterval: time.Duration(cfg.JWKS.Cache.RefetchMinInterval),
	})
}

// NewStatementValidator creates a validator of software statements.
func NewStatementValidator(cfg *Config, keyResolver jwt.KeyResolver, opts ...Option) (*jwt.StatementValidator, error) {
	o := makeOptions(opts)
	validator, err := jwt.NewStatementValidator(keyResolver, jwt.StatementValidatorOpts{
		Issuers:                    cfg.Statement.IssuerPolicy(),
		ExpectedAudience:           []string{cfg.Statement.Audience},
		Leeway:                     time.Duration(cfg.Statement.Leeway),
		Logger:                     o.logger,
		LoggerProvider:             o.loggerProvider,
		PrometheusLibInstanceLabel: o.prometheusLibInstanceLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("new statement validator: %w", err)
	}
	if cfg.Statement.AllowTestIssuer && cfg.Statement.TestServiceAccount == "" {
		idputil.PrepareLogger(o.logger).Warn("test issuer is allowed, but no test service account is configured")
	}
	return validator, nil
}

// NewRegistrationStore opens the registration store selected by cfg.Store.Type.
// The returned function releases the store resources.
func NewRegistrationStore(ctx context.Context, cfg *Config, opts ...Option) (registration.Store, func() error, error) {
	o := makeOptions(opts)
	noopClose := func() error { return nil }
	switch cfg.Store.Type {
	case StoreTypeFile, "":
		return filestore.New(cfg.Store.File.Path, filestore.Opts{Logger: o.logger}), noopClose, nil
	case StoreTypeSQLite:
		store, err := sqlstore.Open(ctx, cfg.Store.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite registration store: %w", err)
		}
		return store, store.Close, nil
	case StoreTypeRedis:
		store, err := redisstore.New(ctx, cfg.Store.Redis, o.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis registration store: %w", err)
		}
		return store, store.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
}

// NewClientRegistrar creates a registrar of OAuth clients in the IdP.
// The credential mode (API token or client credentials) is taken from cfg.IDP.
func NewClientRegistrar(cfg *Config, opts ...Option) *dcr.ClientRegistrar {
	o := makeOptions(opts)
	credentials := cfg.IDP.NewCredentialSource(idptoken.ProviderOpts{
		HTTPClient:                 idputil.MakeDefaultHTTPClient(time.Duration(cfg.HTTPClient.RequestTimeout), o.logger),
		Logger:                     o.logger,
		PrometheusLibInstanceLabel: o.prometheusLibInstanceLabel,
	})
	return dcr.NewClientRegistrar(cfg.IDP.Domain, credentials, dcr.ClientRegistrarOpts{
		RequestTimeout:             time.Duration(cfg.HTTPClient.RequestTimeout),
		Logger:                     o.logger,
		PrometheusLibInstanceLabel: o.prometheusLibInstanceLabel,
	})
}

// NewTokenIntrospector creates a token introspector for the gateway.
// If cfg.Introspection.ClaimsCache.Enabled or cfg.Introspection.NegativeCache.Enabled is true,
// then idptoken.CachingIntrospector created, otherwise - idptoken.Introspector.
func NewTokenIntrospector(cfg *Config, opts ...Option) (idptoken.TokenIntrospector, error) {
	o := makeOptions(opts)
	introspectorOpts := idptoken.IntrospectorOpts{
		HTTPClient:                 idputil.MakeDefaultHTTPClient(time.Duration(cfg.HTTPClient.RequestTimeout), o.logger),
		Logger:                     o.logger,
		PrometheusLibInstanceLabel: o.prometheusLibInstanceLabel,
	}
	endpoint := cfg.Introspection.Endpoint
	if endpoint == "" {
		endpoint = idptoken.IntrospectionEndpointURL(cfg.IDP.Domain, cfg.IDP.AuthServerID)
	}
	if !cfg.Introspection.ClaimsCache.Enabled && !cfg.Introspection.NegativeCache.Enabled {
		return idptoken.NewIntrospectorWithOpts(
			endpoint, cfg.Introspection.ClientID, cfg.Introspection.ClientSecret, introspectorOpts), nil
	}
	introspector, err := idptoken.NewCachingIntrospectorWithOpts(
		endpoint, cfg.Introspection.ClientID, cfg.Introspection.ClientSecret, idptoken.CachingIntrospectorOpts{
			IntrospectorOpts: introspectorOpts,
			ClaimsCache: idptoken.CachingIntrospectorCacheOpts{
				Enabled:    cfg.Introspection.ClaimsCache.Enabled,
				MaxEntries: cfg.Introspection.ClaimsCache.MaxEntries,
				TTL:        time.Duration(cfg.Introspection.ClaimsCache.TTL),
			},
			NegativeCache: idptoken.CachingIntrospectorCacheOpts{
				Enabled:    cfg.Introspection.NegativeCache.Enabled,
				MaxEntries: cfg.Introspection.NegativeCache.MaxEntries,
				TTL:        time.Duration(cfg.Introspection.NegativeCache.TTL),
			},
		})
	if err != nil {
		return nil, fmt.Errorf("new caching token introspector: %w", err)
	}
	return introspector, nil
}

// NewGatewayMiddleware creates the middleware that protects cfg.Gateway.PathPrefix with token introspection.
func NewGatewayMiddleware(cfg *Config, introspector idptoken.TokenIntrospector, opts ...Option) func(next http.Handler) http.Handler {
	o := makeOptions(opts)
	return IntrospectionMiddleware(cfg.Gateway.PathPrefix, introspector,
		WithIntrospectionMiddlewarePublicPaths(cfg.Gateway.PublicPaths),
		WithIntrospectionMiddlewareRequiredScope(cfg.Gateway.RequiredScope),
		WithIntrospectionMiddlewareExposeErrorDetail(cfg.Gateway.ExposeErrorDetail),
		WithIntrospectionMiddlewareLoggerProvider(o.loggerProvider),
		WithIntrospectionMiddlewarePrometheusLibInstanceLabel(o.prometheusLibInstanceLabel),
	)
}

// NewEventAdapter creates an adapter of marketplace push messages.
func NewEventAdapter(cfg *Config) *marketplace.Adapter {
	var defaultRedirectURIs []string
	if cfg.Provisioning.DefaultRedirectURI != "" {
		defaultRedirectURIs = []string{cfg.Provisioning.DefaultRedirectURI}
	}
	return marketplace.NewAdapter(marketplace.AdapterOpts{DefaultRedirectURIs: defaultRedirectURIs})
}

// Service contains all components of the DCR service built from one Config.
type Service struct {
	KeyResolver  *jwks.CachingClient
	Validator    *jwt.StatementValidator
	Store        registration.Store
	Registrar    *dcr.ClientRegistrar
	Orchestrator *provisioning.Orchestrator
	EventAdapter *marketplace.Adapter

	// Introspector is nil when the gateway is disabled.
	Introspector idptoken.TokenIntrospector

	closeStore func() error
}

// NewService creates all components of the DCR service.
// Close must be called to release the registration store.
func NewService(ctx context.Context, cfg *Config, opts ...Option) (*Service, error) {
	o := makeOptions(opts)

	keyResolver, err := NewKeyResolver(cfg, opts...)
	if err != nil {
		return nil, err
	}
	validator, err := NewStatementValidator(cfg, keyResolver, opts...)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := NewRegistrationStore(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	registrar := NewClientRegistrar(cfg, opts...)

	var introspector idptoken.TokenIntrospector
	if cfg.Gateway.Enabled {
		if introspector, err = NewTokenIntrospector(cfg, opts...); err != nil {
			_ = closeStore()
			return nil, err
		}
	}

	orchestrator := provisioning.NewOrchestrator(validator, registrar, store, provisioning.OrchestratorOpts{
		RequireKnownOrder:          cfg.Provisioning.RequireKnownOrder,
		Logger:                     o.logger,
		LoggerProvider:             o.loggerProvider,
		PrometheusLibInstanceLabel: o.prometheusLibInstanceLabel,
	})

	return &Service{
		KeyResolver:  keyResolver,
		Validator:    validator,
		Store:        store,
		Registrar:    registrar,
		Orchestrator: orchestrator,
		EventAdapter: NewEventAdapter(cfg),
		Introspector: introspector,
		closeStore:   closeStore,
	}, nil
}

// Close releases the registration store.
func (s *Service) Close() error {
	if s.closeStore == nil {
		return nil
	}
	return s.closeStore()
}
