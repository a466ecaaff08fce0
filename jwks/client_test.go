/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package jwks_test

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dcrkit/idptest"
	"github.com/acronis/go-dcrkit/jwks"
)

func TestClient_FetchKeys(t *testing.T) {
	testPubKey := &idptest.GetTestRSAPrivateKey().PublicKey

	t.Run("x509 certificates map", func(t *testing.T) {
		keysHandler := idptest.NewKeysHandler(idptest.KeysFormatX509)
		keysServer := httptest.NewServer(keysHandler)
		defer keysServer.Close()

		client := jwks.NewClient()
		beforeFetch := time.Now()
		keySet, err := client.FetchKeys(context.Background(), keysServer.URL)
		require.NoError(t, err)
		require.Len(t, keySet.Keys, 1)
		require.IsType(t, &rsa.PublicKey{}, keySet.Keys[idptest.TestKeyID])
		require.True(t, testPubKey.Equal(keySet.Keys[idptest.TestKeyID]))
		require.WithinDuration(t, beforeFetch.Add(time.Hour), keySet.ExpiresAt, 5*time.Second)
		require.EqualValues(t, 1, keysHandler.ServedCount())
	})

	t.Run("jwks document", func(t *testing.T) {
		keysHandler := idptest.NewKeysHandler(idptest.KeysFormatJWKS)
		keysServer := httptest.NewServer(keysHandler)
		defer keysServer.Close()

		keySet, err := jwks.NewClient().FetchKeys(context.Background(), keysServer.URL)
		require.NoError(t, err)
		require.Len(t, keySet.Keys, 1)
		require.True(t, testPubKey.Equal(keySet.Keys[idptest.TestKeyID]))
	})

	t.Run("max-age from Cache-Control", func(t *testing.T) {
		keysHandler := idptest.NewKeysHandler(idptest.KeysFormatX509)
		keysHandler.SetCacheControl("public, max-age=120")
		keysServer := httptest.NewServer(keysHandler)
		defer keysServer.Close()

		beforeFetch := time.Now()
		keySet, err := jwks.NewClient().FetchKeys(context.Background(), keysServer.URL)
		require.NoError(t, err)
		require.WithinDuration(t, beforeFetch.Add(2*time.Minute), keySet.ExpiresAt, 5*time.Second)
	})

	t.Run("default max-age when Cache-Control is absent", func(t *testing.T) {
		keysHandler := idptest.NewKeysHandler(idptest.KeysFormatX509)
		keysHandler.SetCacheControl("")
		keysServer := httptest.NewServer(keysHandler)
		defer keysServer.Close()

		client := jwks.NewClientWithOpts(jwks.ClientOpts{DefaultMaxAge: 10 * time.Minute})
		beforeFetch := time.Now()
		keySet, err := client.FetchKeys(context.Background(), keysServer.URL)
		require.NoError(t, err)
		require.WithinDuration(t, beforeFetch.Add(10*time.Minute), keySet.ExpiresAt, 5*time.Second)
	})

	t.Run("unexpected status code", func(t *testing.T) {
		keysHandler := idptest.NewKeysHandler(idptest.KeysFormatX509)
		keysHandler.SetStatusCode(http.StatusNotFound)
		keysServer := httptest.NewServer(keysHandler)
		defer keysServer.Close()

		_, err := jwks.NewClient().FetchKeys(context.Background(), keysServer.URL)
		var fetchErr *jwks.KeyFetchError
		require.True(t, errors.As(err, &fetchErr))
		require.Equal(t, keysServer.URL, fetchErr.URL)
		require.Equal(t, http.StatusNotFound, fetchErr.StatusCode())
	})

	t.Run("malformed body", func(t *testing.T) {
		keysServer := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			_, _ = rw.Write([]byte("<html>not json</html>"))
		}))
		defer keysServer.Close()

		_, err := jwks.NewClient().FetchKeys(context.Background(), keysServer.URL)
		var fetchErr *jwks.KeyFetchError
		require.True(t, errors.As(err, &fetchErr))
		require.Equal(t, 0, fetchErr.StatusCode())
	})

	t.Run("broken keys are skipped", func(t *testing.T) {
		keysServer := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			rw.Header().Set("Content-Type", "application/json")
			_, _ = rw.Write([]byte(`{"broken":"-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n",` +
				`"not-a-string":42,"` + idptest.TestKeyID + `":` + jsonString(idptest.GetTestCertificatePEM()) + `}`))
		}))
		defer keysServer.Close()

		keySet, err := jwks.NewClient().FetchKeys(context.Background(), keysServer.URL)
		require.NoError(t, err)
		require.Len(t, keySet.Keys, 1)
		require.Contains(t, keySet.Keys, idptest.TestKeyID)
	})
}

func TestParseMaxAge(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    time.Duration
		wantOK  bool
	}{
		{name: "empty", header: "", wantOK: false},
		{name: "google style", header: "public, max-age=19766, must-revalidate, no-transform", want: 19766 * time.Second, wantOK: true},
		{name: "upper case", header: "MAX-AGE=60", want: time.Minute, wantOK: true},
		{name: "quoted", header: `max-age="60"`, want: time.Minute, wantOK: true},
		{name: "malformed", header: "max-age=abc", wantOK: false},
		{name: "zero", header: "max-age=0", wantOK: false},
		{name: "negative", header: "max-age=-5", wantOK: false},
		{name: "no-store", header: "no-store, max-age=60", wantOK: false},
		{name: "clamped", header: "max-age=99999999999", want: jwks.MaxCacheMaxAge, wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := jwks.ParseMaxAge(tt.header)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				require.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParsePEMPublicKey(t *testing.T) {
	pubKey, err := jwks.ParsePEMPublicKey([]byte(idptest.GetTestCertificatePEM()))
	require.NoError(t, err)
	require.True(t, idptest.GetTestRSAPrivateKey().PublicKey.Equal(pubKey))

	_, err = jwks.ParsePEMPublicKey([]byte("garbage"))
	require.ErrorContains(t, err, "no PEM block")
}
