/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptoken_test

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/acronis/go-appkit/config"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dcrkit/idptest"
	"github.com/acronis/go-dcrkit/idptoken"
)

func TestConfig(t *testing.T) {
	type testCase struct {
		name      string
		cfgData   string
		expectErr bool
		errMsg    string
		setupEnv  map[string]string
		apiToken  bool
	}

	testCases := []testCase{
		{
			name: "valid config with API token",
			cfgData: `
idp:
  domain: dev-123.okta.com
  apiToken: 00abc
`,
			apiToken: true,
		},
		{
			name: "valid config with client credentials",
			cfgData: `
idp:
  domain: dev-123.okta.com
  clientId: client-id
  clientSecret: client-secret
`,
		},
		{
			name: "missing domain",
			cfgData: `
idp:
  apiToken: 00abc
`,
			expectErr: true,
			errMsg:    `idp.domain: IDP domain is required`,
		},
		{
			name: "both modes",
			cfgData: `
idp:
  domain: dev-123.okta.com
  apiToken: 00abc
  clientId: client-id
  clientSecret: client-secret
`,
			expectErr: true,
			errMsg:    `idp.apiToken: API token and client credentials are mutually exclusive`,
		},
		{
			name: "no credentials",
			cfgData: `
idp:
  domain: dev-123.okta.com
`,
			expectErr: true,
			errMsg:    `idp.clientId: either API token or client ID and secret are required`,
		},
		{
			name: "missing client secret",
			cfgData: `
idp:
  domain: dev-123.okta.com
  clientId: client-id
`,
			expectErr: true,
			errMsg:    `idp.clientSecret: IDP client secret is required`,
		},
		{
			name: "API token from Env",
			cfgData: `
idp:
  domain: dev-123.okta.com
`,
			setupEnv: map[string]string{"IDP_APITOKEN": "00abc"},
			apiToken: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.setupEnv {
				t.Setenv(k, v)
			}

			cfg := idptoken.NewConfig()
			err := config.NewDefaultLoader("").LoadFromReader(bytes.NewBufferString(tc.cfgData), config.DataTypeYAML, cfg)
			if tc.expectErr {
				require.EqualError(t, err, tc.errMsg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.apiToken, cfg.UsesAPIToken())
			require.Equal(t, []string{idptoken.DefaultClientRegistrationScope}, cfg.TokenScopes)
			require.Equal(t, "default", cfg.AuthServerID)
		})
	}
}

func TestConfig_NewCredentialSource(t *testing.T) {
	t.Run("API token", func(t *testing.T) {
		cfg := &idptoken.Config{Domain: "dev-123.okta.com", APIToken: "00abc"}
		source := cfg.NewCredentialSource(idptoken.ProviderOpts{})
		header, err := source.AuthorizationHeader(t.Context())
		require.NoError(t, err)
		require.Equal(t, "SSWS 00abc", header)
	})

	t.Run("client credentials", func(t *testing.T) {
		tokenHandler := &idptest.TokenHandler{ClientID: "client-id", ClientSecret: "client-secret"}
		server := httptest.NewServer(tokenHandler)
		defer server.Close()

		cfg := &idptoken.Config{
			Domain:       server.URL,
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			TokenScopes:  []string{"okta.clients.read"},
		}
		source := cfg.NewCredentialSource(idptoken.ProviderOpts{})
		_, ok := source.(*idptoken.Provider)
		require.True(t, ok)

		header, err := source.AuthorizationHeader(t.Context())
		require.NoError(t, err)
		require.Contains(t, header, "Bearer ")
		require.Equal(t, []string{"okta.clients.read"}, tokenHandler.LastScopes())
	})
}
