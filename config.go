/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package dcrkit

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/acronis/go-appkit/config"

	"github.com/acronis/go-dcrkit/idptoken"
	"github.com/acronis/go-dcrkit/internal/idputil"
	"github.com/acronis/go-dcrkit/jwks"
	"github.com/acronis/go-dcrkit/jwt"
	"github.com/acronis/go-dcrkit/marketplace"
	"github.com/acronis/go-dcrkit/registration/filestore"
	"github.com/acronis/go-dcrkit/registration/redisstore"
	"github.com/acronis/go-dcrkit/registration/sqlstore"
)

const cfgDefaultKeyPrefix = "dcr"

const (
	cfgKeyHTTPClientRequestTimeout             = "httpClient.requestTimeout"
	cfgKeyStatementAudience                    = "statement.audience"
	cfgKeyStatementTrustedIssuerURL            = "statement.trustedIssuerUrl"
	cfgKeyStatementCertBaseURL                 = "statement.certBaseUrl"
	cfgKeyStatementAllowTestIssuer             = "statement.allowTestIssuer"
	cfgKeyStatementTestServiceAccount          = "statement.testServiceAccount"
	cfgKeyStatementLeeway                      = "statement.leeway"
	cfgKeyJWKSCacheDefaultMaxAge               = "jwks.cache.defaultMaxAge"
	cfgKeyJWKSCacheMaxEntries                  = "jwks.cache.maxEntries"
	cfgKeyJWKSCacheRefetchMinInterval          = "jwks.cache.refetchMinInterval"
	cfgKeyIntrospectionEndpoint                = "introspection.endpoint"
	cfgKeyIntrospectionClientID                = "introspection.clientId"
	cfgKeyIntrospectionClientSecret            = "introspection.clientSecret"
	cfgKeyIntrospectionClaimsCacheEnabled      = "introspection.claimsCache.enabled"
	cfgKeyIntrospectionClaimsCacheMaxEntries   = "introspection.claimsCache.maxEntries"
	cfgKeyIntrospectionClaimsCacheTTL          = "introspection.claimsCache.ttl"
	cfgKeyIntrospectionNegativeCacheEnabled    = "introspection.negativeCache.enabled"
	cfgKeyIntrospectionNegativeCacheMaxEntries = "introspection.negativeCache.maxEntries"
	cfgKeyIntrospectionNegativeCacheTTL        = "introspection.negativeCache.ttl"
	cfgKeyGatewayEnabled                       = "gateway.enabled"
	cfgKeyGatewayPathPrefix                    = "gateway.pathPrefix"
	cfgKeyGatewayPublicPaths                   = "gateway.publicPaths"
	cfgKeyGatewayRequiredScope                 = "gateway.requiredScope"
	cfgKeyGatewayExposeErrorDetail             = "gateway.exposeErrorDetail"
	cfgKeyGatewayUpstreamURL                   = "gateway.upstreamUrl"
	cfgKeyProvisioningDefaultRedirectURI       = "provisioning.defaultRedirectUri"
	cfgKeyProvisioningRequireKnownOrder        = "provisioning.requireKnownOrder"
	cfgKeyStoreType                            = "store.type"
	cfgKeyStoreFilePath                        = "store.file.path"
	cfgKeyStoreSQLitePath                      = "store.sqlite.path"
	cfgKeyStoreRedisAddr                       = "store.redis.addr"
	cfgKeyStoreRedisPassword                   = "store.redis.password"
	cfgKeyStoreRedisDB                         = "store.redis.db"
	cfgKeyStoreRedisKeyPrefix                  = "store.redis.keyPrefix"
)

// Default values of the gateway configuration.
const (
	DefaultGatewayPathPrefix    = "/a2a/remote_time_agent"
	DefaultGatewayRequiredScope = "agent:time"
	DefaultRedisAddr            = "localhost:6379"
)

// DefaultGatewayPublicPaths are glob patterns of the agent discovery documents served without authentication.
var DefaultGatewayPublicPaths = []string{"*/.well-known/agent.json", "*/agent.json"}

// Store types.
const (
	StoreTypeFile   = "file"
	StoreTypeSQLite = "sqlite"
	StoreTypeRedis  = "redis"
)

// Config represents a set of configuration parameters of the DCR service.
type Config struct {
	HTTPClient    HTTPClientConfig    `mapstructure:"httpClient" yaml:"httpClient" json:"httpClient"`
	Statement     StatementConfig     `mapstructure:"statement" yaml:"statement" json:"statement"`
	JWKS          JWKSConfig          `mapstructure:"jwks" yaml:"jwks" json:"jwks"`
	IDP           idptoken.Config     `mapstructure:"idp" yaml:"idp" json:"idp"`
	Introspection IntrospectionConfig `mapstructure:"introspection" yaml:"introspection" json:"introspection"`
	Gateway       GatewayConfig       `mapstructure:"gateway" yaml:"gateway" json:"gateway"`
	Provisioning  ProvisioningConfig  `mapstructure:"provisioning" yaml:"provisioning" json:"provisioning"`
	Store         StoreConfig         `mapstructure:"store" yaml:"store" json:"store"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	var opts = configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyHTTPClientRequestTimeout, idputil.DefaultHTTPRequestTimeout.String())

	dp.SetDefault(cfgKeyStatementAudience, jwt.DefaultExpectedAudience)
	dp.SetDefault(cfgKeyStatementTrustedIssuerURL, jwt.DefaultProductionIssuer)
	dp.SetDefault(cfgKeyStatementCertBaseURL, jwt.DefaultCertBaseURL)
	dp.SetDefault(cfgKeyStatementLeeway, "0s")

	dp.SetDefault(cfgKeyJWKSCacheDefaultMaxAge, jwks.DefaultCacheMaxAge.String())
	dp.SetDefault(cfgKeyJWKSCacheMaxEntries, jwks.DefaultCacheMaxEntries)
	dp.SetDefault(cfgKeyJWKSCacheRefetchMinInterval, "0s")

	c.IDP.SetProviderDefaults(dp)

	dp.SetDefault(cfgKeyIntrospectionClaimsCacheMaxEntries, idptoken.DefaultIntrospectionClaimsCacheMaxEntries)
	dp.SetDefault(cfgKeyIntrospectionClaimsCacheTTL, idptoken.DefaultIntrospectionClaimsCacheTTL.String())
	dp.SetDefault(cfgKeyIntrospectionNegativeCacheMaxEntries, idptoken.DefaultIntrospectionNegativeCacheMaxEntries)
	dp.SetDefault(cfgKeyIntrospectionNegativeCacheTTL, idptoken.DefaultIntrospectionNegativeCacheTTL.String())

	dp.SetDefault(cfgKeyGatewayPathPrefix, DefaultGatewayPathPrefix)
	dp.SetDefault(cfgKeyGatewayPublicPaths, DefaultGatewayPublicPaths)
	dp.SetDefault(cfgKeyGatewayRequiredScope, DefaultGatewayRequiredScope)

	dp.SetDefault(cfgKeyProvisioningDefaultRedirectURI, marketplace.DefaultRedirectURI)

	dp.SetDefault(cfgKeyStoreType, StoreTypeFile)
	dp.SetDefault(cfgKeyStoreFilePath, filestore.DefaultPath)
	dp.SetDefault(cfgKeyStoreSQLitePath, sqlstore.DefaultPath)
	dp.SetDefault(cfgKeyStoreRedisAddr, DefaultRedisAddr)
	dp.SetDefault(cfgKeyStoreRedisKeyPrefix, redisstore.DefaultKeyPrefix)
}

type HTTPClientConfig struct {
	RequestTimeout config.TimeDuration `mapstructure:"requestTimeout" yaml:"requestTimeout" json:"requestTimeout"`
}

// StatementConfig is a configuration of how software statements are verified.
type StatementConfig struct {
	Audience           string              `mapstructure:"audience" yaml:"audience" json:"audience"`
	TrustedIssuerURL   string              `mapstructure:"trustedIssuerUrl" yaml:"trustedIssuerUrl" json:"trustedIssuerUrl"`
	CertBaseURL        string              `mapstructure:"certBaseUrl" yaml:"certBaseUrl" json:"certBaseUrl"`
	AllowTestIssuer    bool                `mapstructure:"allowTestIssuer" yaml:"allowTestIssuer" json:"allowTestIssuer"`
	TestServiceAccount string              `mapstructure:"testServiceAccount" yaml:"testServiceAccount" json:"testServiceAccount"`
	Leeway             config.TimeDuration `mapstructure:"leeway" yaml:"leeway" json:"leeway"`
}

// IssuerPolicy converts the configuration into the issuer allow-list policy.
func (c StatementConfig) IssuerPolicy() jwt.IssuerPolicy {
	return jwt.IssuerPolicy{
		ProductionIssuer:   c.TrustedIssuerURL,
		CertBaseURL:        c.CertBaseURL,
		AllowTestIssuer:    c.AllowTestIssuer,
		TestServiceAccount: c.TestServiceAccount,
	}
}

// JWKSConfig is a configuration of how signing keys are cached.
type JWKSConfig struct {
	Cache JWKSCacheConfig `mapstructure:"cache" yaml:"cache" json:"cache"`
}

type JWKSCacheConfig struct {
	DefaultMaxAge      config.TimeDuration `mapstructure:"defaultMaxAge" yaml:"defaultMaxAge" json:"defaultMaxAge"`
	MaxEntries         int                 `mapstructure:"maxEntries" yaml:"maxEntries" json:"maxEntries"`
	RefetchMinInterval config.TimeDuration `mapstructure:"refetchMinInterval" yaml:"refetchMinInterval" json:"refetchMinInterval"`
}

// IntrospectionConfig is a configuration of how the gateway introspects bearer tokens.
type IntrospectionConfig struct {
	// Endpoint defaults to the introspection endpoint of the IdP authorization server.
	Endpoint     string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	ClientID     string `mapstructure:"clientId" yaml:"clientId" json:"clientId"`
	ClientSecret string `mapstructure:"clientSecret" yaml:"clientSecret" json:"-"`

	ClaimsCache   IntrospectionCacheConfig `mapstructure:"claimsCache" yaml:"claimsCache" json:"claimsCache"`
	NegativeCache IntrospectionCacheConfig `mapstructure:"negativeCache" yaml:"negativeCache" json:"negativeCache"`
}

// IntrospectionCacheConfig is a configuration of one of the introspection result caches.
type IntrospectionCacheConfig struct {
	Enabled    bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MaxEntries int                 `mapstructure:"maxEntries" yaml:"maxEntries" json:"maxEntries"`
	TTL        config.TimeDuration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
}

// GatewayConfig is a configuration of the protected agent resource.
type GatewayConfig struct {
	Enabled           bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	PathPrefix        string   `mapstructure:"pathPrefix" yaml:"pathPrefix" json:"pathPrefix"`
	PublicPaths       []string `mapstructure:"publicPaths" yaml:"publicPaths" json:"publicPaths"`
	RequiredScope     string   `mapstructure:"requiredScope" yaml:"requiredScope" json:"requiredScope"`
	ExposeErrorDetail bool     `mapstructure:"exposeErrorDetail" yaml:"exposeErrorDetail" json:"exposeErrorDetail"`
	UpstreamURL       string   `mapstructure:"upstreamUrl" yaml:"upstreamUrl" json:"upstreamUrl"`
}

// ProvisioningConfig is a configuration of the provisioning flows.
type ProvisioningConfig struct {
	DefaultRedirectURI string `mapstructure:"defaultRedirectUri" yaml:"defaultRedirectUri" json:"defaultRedirectUri"`
	RequireKnownOrder  bool   `mapstructure:"requireKnownOrder" yaml:"requireKnownOrder" json:"requireKnownOrder"`
}

// StoreConfig is a configuration of the registration store.
type StoreConfig struct {
	Type   string            `mapstructure:"type" yaml:"type" json:"type"`
	File   FileStoreConfig   `mapstructure:"file" yaml:"file" json:"file"`
	SQLite SQLiteStoreConfig `mapstructure:"sqlite" yaml:"sqlite" json:"sqlite"`
	Redis  redisstore.Config `mapstructure:"redis" yaml:"redis" json:"redis"`
}

type FileStoreConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

type SQLiteStoreConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	var reqDuration time.Duration
	if reqDuration, err = dp.GetDuration(cfgKeyHTTPClientRequestTimeout); err != nil {
		return err
	}
	c.HTTPClient.RequestTimeout = config.TimeDuration(reqDuration)

	if err = c.setStatementConfig(dp); err != nil {
		return err
	}
	if err = c.setJWKSConfig(dp); err != nil {
		return err
	}
	if err = c.IDP.Set(dp); err != nil {
		return err
	}
	if err = c.setIntrospectionConfig(dp); err != nil {
		return err
	}
	if err = c.setGatewayConfig(dp); err != nil {
		return err
	}
	if err = c.setProvisioningConfig(dp); err != nil {
		return err
	}
	if err = c.setStoreConfig(dp); err != nil {
		return err
	}

	return nil
}

func (c *Config) setStatementConfig(dp config.DataProvider) error {
	var err error

	if c.Statement.Audience, err = dp.GetString(cfgKeyStatementAudience); err != nil {
		return err
	}
	if c.Statement.Audience == "" {
		return dp.WrapKeyErr(cfgKeyStatementAudience, fmt.Errorf("audience is required"))
	}
	if c.Statement.TrustedIssuerURL, err = dp.GetString(cfgKeyStatementTrustedIssuerURL); err != nil {
		return err
	}
	if err = validateAbsoluteURL(c.Statement.TrustedIssuerURL); err != nil {
		return dp.WrapKeyErr(cfgKeyStatementTrustedIssuerURL, err)
	}
	if c.Statement.CertBaseURL, err = dp.GetString(cfgKeyStatementCertBaseURL); err != nil {
		return err
	}
	if err = validateAbsoluteURL(c.Statement.CertBaseURL); err != nil {
		return dp.WrapKeyErr(cfgKeyStatementCertBaseURL, err)
	}
	if c.Statement.AllowTestIssuer, err = dp.GetBool(cfgKeyStatementAllowTestIssuer); err != nil {
		return err
	}
	if c.Statement.TestServiceAccount, err = dp.GetString(cfgKeyStatementTestServiceAccount); err != nil {
		return err
	}
	var leeway time.Duration
	if leeway, err = dp.GetDuration(cfgKeyStatementLeeway); err != nil {
		return err
	}
	if leeway < 0 {
		return dp.WrapKeyErr(cfgKeyStatementLeeway, fmt.Errorf("leeway should be non-negative"))
	}
	c.Statement.Leeway = config.TimeDuration(leeway)

	return nil
}

func (c *Config) setJWKSConfig(dp config.DataProvider) error {
	var err error

	var maxAge time.Duration
	if maxAge, err = dp.GetDuration(cfgKeyJWKSCacheDefaultMaxAge); err != nil {
		return err
	}
	c.JWKS.Cache.DefaultMaxAge = config.TimeDuration(maxAge)
	if c.JWKS.Cache.MaxEntries, err = dp.GetInt(cfgKeyJWKSCacheMaxEntries); err != nil {
		return err
	}
	if c.JWKS.Cache.MaxEntries < 0 {
		return dp.WrapKeyErr(cfgKeyJWKSCacheMaxEntries, fmt.Errorf("max entries should be non-negative"))
	}
	var refetchMinInterval time.Duration
	if refetchMinInterval, err = dp.GetDuration(cfgKeyJWKSCacheRefetchMinInterval); err != nil {
		return err
	}
	c.JWKS.Cache.RefetchMinInterval = config.TimeDuration(refetchMinInterval)

	return nil
}

func (c *Config) setIntrospectionConfig(dp config.DataProvider) error {
	var err error

	if c.Introspection.Endpoint, err = dp.GetString(cfgKeyIntrospectionEndpoint); err != nil {
		return err
	}
	if c.Introspection.Endpoint == "" {
		c.Introspection.Endpoint = idptoken.IntrospectionEndpointURL(c.IDP.Domain, c.IDP.AuthServerID)
	}
	if _, err = url.Parse(c.Introspection.Endpoint); err != nil {
		return dp.WrapKeyErr(cfgKeyIntrospectionEndpoint, err)
	}
	if c.Introspection.ClientID, err = dp.GetString(cfgKeyIntrospectionClientID); err != nil {
		return err
	}
	if c.Introspection.ClientSecret, err = dp.GetString(cfgKeyIntrospectionClientSecret); err != nil {
		return err
	}

	// Claims cache
	if c.Introspection.ClaimsCache.Enabled, err = dp.GetBool(cfgKeyIntrospectionClaimsCacheEnabled); err != nil {
		return err
	}
	if c.Introspection.ClaimsCache.MaxEntries, err = dp.GetInt(cfgKeyIntrospectionClaimsCacheMaxEntries); err != nil {
		return err
	}
	if c.Introspection.ClaimsCache.MaxEntries < 0 {
		return dp.WrapKeyErr(cfgKeyIntrospectionClaimsCacheMaxEntries, fmt.Errorf("max entries should be non-negative"))
	}
	var cacheTTL time.Duration
	if cacheTTL, err = dp.GetDuration(cfgKeyIntrospectionClaimsCacheTTL); err != nil {
		return err
	}
	c.Introspection.ClaimsCache.TTL = config.TimeDuration(cacheTTL)

	// Negative cache
	if c.Introspection.NegativeCache.Enabled, err = dp.GetBool(cfgKeyIntrospectionNegativeCacheEnabled); err != nil {
		return err
	}
	if c.Introspection.NegativeCache.MaxEntries, err = dp.GetInt(cfgKeyIntrospectionNegativeCacheMaxEntries); err != nil {
		return err
	}
	if c.Introspection.NegativeCache.MaxEntries < 0 {
		return dp.WrapKeyErr(cfgKeyIntrospectionNegativeCacheMaxEntries, fmt.Errorf("max entries should be non-negative"))
	}
	if cacheTTL, err = dp.GetDuration(cfgKeyIntrospectionNegativeCacheTTL); err != nil {
		return err
	}
	c.Introspection.NegativeCache.TTL = config.TimeDuration(cacheTTL)

	return nil
}

func (c *Config) setGatewayConfig(dp config.DataProvider) error {
	var err error

	if c.Gateway.Enabled, err = dp.GetBool(cfgKeyGatewayEnabled); err != nil {
		return err
	}
	if c.Gateway.PathPrefix, err = dp.GetString(cfgKeyGatewayPathPrefix); err != nil {
		return err
	}
	if !strings.HasPrefix(c.Gateway.PathPrefix, "/") {
		return dp.WrapKeyErr(cfgKeyGatewayPathPrefix, fmt.Errorf("path prefix should start with /"))
	}
	if c.Gateway.PublicPaths, err = dp.GetStringSlice(cfgKeyGatewayPublicPaths); err != nil {
		return err
	}
	if c.Gateway.RequiredScope, err = dp.GetString(cfgKeyGatewayRequiredScope); err != nil {
		return err
	}
	if c.Gateway.ExposeErrorDetail, err = dp.GetBool(cfgKeyGatewayExposeErrorDetail); err != nil {
		return err
	}
	if c.Gateway.UpstreamURL, err = dp.GetString(cfgKeyGatewayUpstreamURL); err != nil {
		return err
	}
	if c.Gateway.UpstreamURL != "" {
		if err = validateAbsoluteURL(c.Gateway.UpstreamURL); err != nil {
			return dp.WrapKeyErr(cfgKeyGatewayUpstreamURL, err)
		}
	}
	if c.Gateway.Enabled && (c.Introspection.ClientID == "" || c.Introspection.ClientSecret == "") {
		return dp.WrapKeyErr(cfgKeyIntrospectionClientID,
			fmt.Errorf("introspection client ID and secret are required when the gateway is enabled"))
	}

	return nil
}

func (c *Config) setProvisioningConfig(dp config.DataProvider) error {
	var err error

	if c.Provisioning.DefaultRedirectURI, err = dp.GetString(cfgKeyProvisioningDefaultRedirectURI); err != nil {
		return err
	}
	if err = validateAbsoluteURL(c.Provisioning.DefaultRedirectURI); err != nil {
		return dp.WrapKeyErr(cfgKeyProvisioningDefaultRedirectURI, err)
	}
	if c.Provisioning.RequireKnownOrder, err = dp.GetBool(cfgKeyProvisioningRequireKnownOrder); err != nil {
		return err
	}

	return nil
}

func (c *Config) setStoreConfig(dp config.DataProvider) error {
	var err error

	if c.Store.Type, err = dp.GetString(cfgKeyStoreType); err != nil {
		return err
	}
	switch c.Store.Type {
	case StoreTypeFile, StoreTypeSQLite, StoreTypeRedis:
	default:
		return dp.WrapKeyErr(cfgKeyStoreType, fmt.Errorf("unknown store type %q, should be one of: %s, %s, %s",
			c.Store.Type, StoreTypeFile, StoreTypeSQLite, StoreTypeRedis))
	}
	if c.Store.File.Path, err = dp.GetString(cfgKeyStoreFilePath); err != nil {
		return err
	}
	if c.Store.SQLite.Path, err = dp.GetString(cfgKeyStoreSQLitePath); err != nil {
		return err
	}
	if c.Store.Redis.Addr, err = dp.GetString(cfgKeyStoreRedisAddr); err != nil {
		return err
	}
	if c.Store.Redis.Password, err = dp.GetString(cfgKeyStoreRedisPassword); err != nil {
		return err
	}
	if c.Store.Redis.DB, err = dp.GetInt(cfgKeyStoreRedisDB); err != nil {
		return err
	}
	if c.Store.Redis.DB < 0 {
		return dp.WrapKeyErr(cfgKeyStoreRedisDB, fmt.Errorf("redis db should be non-negative"))
	}
	if c.Store.Redis.KeyPrefix, err = dp.GetString(cfgKeyStoreRedisKeyPrefix); err != nil {
		return err
	}

	return nil
}

func validateAbsoluteURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("absolute URL is required, got %q", rawURL)
	}
	return nil
}
