/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptoken

import (
	"fmt"

	"github.com/acronis/go-appkit/config"
)

const (
	cfgKeyIDPDomain       = "idp.domain"
	cfgKeyIDPAPIToken     = "idp.apiToken" // nolint:gosec // false positive
	cfgKeyIDPClientID     = "idp.clientId"
	cfgKeyIDPClientSecret = "idp.clientSecret"
	cfgKeyIDPTokenScopes  = "idp.tokenScopes"
	cfgKeyIDPAuthServerID = "idp.authServerId"
)

// Config is a configuration of the identity provider (Okta org) the OAuth clients are registered in.
// Exactly one of APIToken or ClientID+ClientSecret must be set.
type Config struct {
	Domain       string   `mapstructure:"domain" yaml:"domain" json:"domain"`
	APIToken     string   `mapstructure:"apiToken" yaml:"apiToken" json:"-"`
	ClientID     string   `mapstructure:"clientId" yaml:"clientId" json:"clientId"`
	ClientSecret string   `mapstructure:"clientSecret" yaml:"clientSecret" json:"-"`
	TokenScopes  []string `mapstructure:"tokenScopes" yaml:"tokenScopes" json:"tokenScopes"`
	AuthServerID string   `mapstructure:"authServerId" yaml:"authServerId" json:"authServerId"`
}

var _ config.Config = (*Config)(nil)

// NewConfig creates a new configuration for IDP token source.
func NewConfig() *Config {
	return &Config{}
}

// SetProviderDefaults sets the default values for the configuration.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyIDPTokenScopes, []string{DefaultClientRegistrationScope})
	dp.SetDefault(cfgKeyIDPAuthServerID, "default")
}

// Set sets the configuration from the given data provider.
func (c *Config) Set(dp config.DataProvider) (err error) {
	if c.Domain, err = dp.GetString(cfgKeyIDPDomain); err != nil {
		return err
	}
	if c.Domain == "" {
		return dp.WrapKeyErr(cfgKeyIDPDomain, fmt.Errorf("IDP domain is required"))
	}
	if c.APIToken, err = dp.GetString(cfgKeyIDPAPIToken); err != nil {
		return err
	}
	if c.ClientID, err = dp.GetString(cfgKeyIDPClientID); err != nil {
		return err
	}
	if c.ClientSecret, err = dp.GetString(cfgKeyIDPClientSecret); err != nil {
		return err
	}
	switch {
	case c.APIToken != "" && (c.ClientID != "" || c.ClientSecret != ""):
		return dp.WrapKeyErr(cfgKeyIDPAPIToken, fmt.Errorf("API token and client credentials are mutually exclusive"))
	case c.APIToken == "" && c.ClientID == "":
		return dp.WrapKeyErr(cfgKeyIDPClientID, fmt.Errorf("either API token or client ID and secret are required"))
	case c.APIToken == "" && c.ClientSecret == "":
		return dp.WrapKeyErr(cfgKeyIDPClientSecret, fmt.Errorf("IDP client secret is required"))
	}
	if c.TokenScopes, err = dp.GetStringSlice(cfgKeyIDPTokenScopes); err != nil {
		return err
	}
	if c.AuthServerID, err = dp.GetString(cfgKeyIDPAuthServerID); err != nil {
		return err
	}
	return nil
}

// UsesAPIToken reports whether the static API token mode is configured.
func (c *Config) UsesAPIToken() bool {
	return c.APIToken != ""
}

// NewCredentialSource builds the credential source for the configured mode.
func (c *Config) NewCredentialSource(opts ProviderOpts) CredentialSource {
	if c.UsesAPIToken() {
		return StaticToken(c.APIToken)
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = c.TokenScopes
	}
	return NewProviderWithOpts(Source{
		TokenURL:     TokenURLForDomain(c.Domain),
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
	}, opts)
}
