/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package jwt_test

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtgo "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dcrkit/idptest"
	"github.com/acronis/go-dcrkit/jwks"
	"github.com/acronis/go-dcrkit/jwt"
)

const (
	testAudience       = "https://provider.example.com"
	testProdSA         = "cloud-agentspace@system.gserviceaccount.com"
	testServiceAccount = "tester@project.iam.gserviceaccount.com"
)

type validatorEnv struct {
	keysHandler *idptest.KeysHandler
	server      *httptest.Server
	validator   *jwt.StatementValidator
}

func (e *validatorEnv) certBaseURL() string {
	return e.server.URL + idptest.CertsEndpointPathPrefix
}

func (e *validatorEnv) prodIssuer() string {
	return e.certBaseURL() + testProdSA
}

func (e *validatorEnv) testIssuer() string {
	return e.certBaseURL() + testServiceAccount
}

func newValidatorEnv(t *testing.T, allowTestIssuer bool, testSA string) *validatorEnv {
	t.Helper()
	env := &validatorEnv{keysHandler: idptest.NewKeysHandler(idptest.KeysFormatX509)}
	env.server = httptest.NewServer(env.keysHandler)
	t.Cleanup(env.server.Close)

	keysClient, err := jwks.NewCachingClient()
	require.NoError(t, err)
	env.validator, err = jwt.NewStatementValidator(keysClient, jwt.StatementValidatorOpts{
		Issuers: jwt.IssuerPolicy{
			ProductionIssuer:   env.prodIssuer(),
			CertBaseURL:        env.certBaseURL(),
			AllowTestIssuer:    allowTestIssuer,
			TestServiceAccount: testSA,
		},
		ExpectedAudience: []string{testAudience},
	})
	require.NoError(t, err)
	return env
}

func makeClaims(issuer string) *jwt.SoftwareStatementClaims {
	return &jwt.SoftwareStatementClaims{
		RegisteredClaims: jwtgo.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "procurement-account-1",
			Audience:  jwtgo.ClaimStrings{testAudience},
			IssuedAt:  jwtgo.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwtgo.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Google:              jwt.GoogleClaims{Order: "order-42"},
		AuthAppRedirectURIs: []string{"https://vertexaisearch.cloud.google.com/oauth-redirect"},
	}
}

func requireValidationErr(t *testing.T, err error, kind error) {
	t.Helper()
	require.Error(t, err)
	var validationErr *jwt.ValidationError
	require.True(t, errors.As(err, &validationErr), "unexpected error type %T: %v", err, err)
	require.ErrorIs(t, err, kind)
}

func TestStatementValidator_Validate(t *testing.T) {
	t.Run("valid statement", func(t *testing.T) {
		env := newValidatorEnv(t, false, "")
		token := idptest.MustMakeTokenStringSignedWithTestKey(makeClaims(env.prodIssuer()))

		claims, err := env.validator.Validate(context.Background(), token)
		require.NoError(t, err)
		require.Equal(t, "order-42", claims.OrderID())
		require.Equal(t, idptest.TestKeyID, claims.KeyID)
		require.Equal(t, env.prodIssuer(), claims.Issuer)
		require.Equal(t, []string{"https://vertexaisearch.cloud.google.com/oauth-redirect"}, claims.AuthAppRedirectURIs)
		require.EqualValues(t, 1, env.keysHandler.ServedCount())

		// Keys are cached.
		_, err = env.validator.Validate(context.Background(), token)
		require.NoError(t, err)
		require.EqualValues(t, 1, env.keysHandler.ServedCount())
	})

	t.Run("malformed tokens", func(t *testing.T) {
		env := newValidatorEnv(t, false, "")

		_, err := env.validator.Validate(context.Background(), "not-a-jwt")
		requireValidationErr(t, err, jwt.ErrMalformedToken)

		noKidToken := idptest.MustMakeTokenString(makeClaims(env.prodIssuer()), "", idptest.GetTestRSAPrivateKey())
		_, err = env.validator.Validate(context.Background(), noKidToken)
		requireValidationErr(t, err, jwt.ErrMalformedToken)

		noIssToken := idptest.MustMakeTokenStringSignedWithTestKey(makeClaims(""))
		_, err = env.validator.Validate(context.Background(), noIssToken)
		requireValidationErr(t, err, jwt.ErrMalformedToken)

		noExpClaims := makeClaims(env.prodIssuer())
		noExpClaims.ExpiresAt = nil
		_, err = env.validator.Validate(context.Background(), idptest.MustMakeTokenStringSignedWithTestKey(noExpClaims))
		requireValidationErr(t, err, jwt.ErrMalformedToken)
	})

	t.Run("untrusted issuer is rejected without fetching keys", func(t *testing.T) {
		env := newValidatorEnv(t, false, "")
		token := idptest.MustMakeTokenStringSignedWithTestKey(makeClaims("https://evil.example.com/certs"))

		_, err := env.validator.Validate(context.Background(), token)
		requireValidationErr(t, err, jwt.ErrUntrustedIssuer)
		require.EqualValues(t, 0, env.keysHandler.ServedCount())
	})

	t.Run("test issuer", func(t *testing.T) {
		disabledEnv := newValidatorEnv(t, false, testServiceAccount)
		token := idptest.MustMakeTokenStringSignedWithTestKey(makeClaims(disabledEnv.testIssuer()))
		_, err := disabledEnv.validator.Validate(context.Background(), token)
		requireValidationErr(t, err, jwt.ErrUntrustedIssuer)

		noPrincipalEnv := newValidatorEnv(t, true, "")
		token = idptest.MustMakeTokenStringSignedWithTestKey(makeClaims(noPrincipalEnv.certBaseURL()))
		_, err = noPrincipalEnv.validator.Validate(context.Background(), token)
		requireValidationErr(t, err, jwt.ErrUntrustedIssuer)
		require.Equal(t, []string{noPrincipalEnv.prodIssuer()}, noPrincipalEnv.validator.TrustedIssuers())

		enabledEnv := newValidatorEnv(t, true, testServiceAccount)
		token = idptest.MustMakeTokenStringSignedWithTestKey(makeClaims(enabledEnv.testIssuer()))
		claims, err := enabledEnv.validator.Validate(context.Background(), token)
		require.NoError(t, err)
		require.Equal(t, enabledEnv.testIssuer(), claims.Issuer)
	})

	t.Run("unknown key id refetches keys exactly once", func(t *testing.T) {
		env := newValidatorEnv(t, false, "")
		otherKey := idptest.MustGenerateRSAPrivateKey()
		token := idptest.MustMakeTokenString(makeClaims(env.prodIssuer()), "unknown-kid", otherKey)

		_, err := env.validator.Validate(context.Background(), token)
		requireValidationErr(t, err, jwt.ErrUnknownKeyID)
		var notFoundErr *jwks.KeyNotFoundError
		require.True(t, errors.As(err, &notFoundErr))
		require.Equal(t, "unknown-kid", notFoundErr.KeyID)
		require.EqualValues(t, 2, env.keysHandler.ServedCount())
	})

	t.Run("rotated key is picked up", func(t *testing.T) {
		env := newValidatorEnv(t, false, "")
		_, err := env.validator.Validate(context.Background(),
			idptest.MustMakeTokenStringSignedWithTestKey(makeClaims(env.prodIssuer())))
		require.NoError(t, err)

		rotatedKey := idptest.MustGenerateRSAPrivateKey()
		env.keysHandler.SetKeys(map[string]*rsa.PrivateKey{"rotated-kid": rotatedKey})
		token := idptest.MustMakeTokenString(makeClaims(env.prodIssuer()), "rotated-kid", rotatedKey)
		claims, err := env.validator.Validate(context.Background(), token)
		require.NoError(t, err)
		require.Equal(t, "rotated-kid", claims.KeyID)
		require.EqualValues(t, 2, env.keysHandler.ServedCount())
	})

	t.Run("signature invalid", func(t *testing.T) {
		env := newValidatorEnv(t, false, "")
		otherKey := idptest.MustGenerateRSAPrivateKey()
		token := idptest.MustMakeTokenString(makeClaims(env.prodIssuer()), idptest.TestKeyID, otherKey)

		_, err := env.validator.Validate(context.Background(), token)
		requireValidationErr(t, err, jwt.ErrSignatureInvalid)
	})

	t.Run("hmac signed token is rejected", func(t *testing.T) {
		env := newValidatorEnv(t, false, "")
		hsToken := jwtgo.NewWithClaims(jwtgo.SigningMethodHS256, makeClaims(env.prodIssuer()))
		hsToken.Header["kid"] = idptest.TestKeyID
		token, err := hsToken.SignedString([]byte("shared-secret"))
		require.NoError(t, err)

		_, err = env.validator.Validate(context.Background(), token)
		requireValidationErr(t, err, jwt.ErrSignatureInvalid)
	})

	t.Run("expired", func(t *testing.T) {
		env := newValidatorEnv(t, false, "")
		claims := makeClaims(env.prodIssuer())
		claims.IssuedAt = jwtgo.NewNumericDate(time.Now().Add(-2 * time.Hour))
		claims.ExpiresAt = jwtgo.NewNumericDate(time.Now().Add(-time.Hour))

		_, err := env.validator.Validate(context.Background(), idptest.MustMakeTokenStringSignedWithTestKey(claims))
		requireValidationErr(t, err, jwt.ErrTokenExpired)
	})

	t.Run("audience mismatch even for trusted issuer", func(t *testing.T) {
		env := newValidatorEnv(t, false, "")

		wrongAudClaims := makeClaims(env.prodIssuer())
		wrongAudClaims.Audience = jwtgo.ClaimStrings{"https://other-provider.example.com"}
		_, err := env.validator.Validate(context.Background(), idptest.MustMakeTokenStringSignedWithTestKey(wrongAudClaims))
		requireValidationErr(t, err, jwt.ErrAudienceMismatch)

		noAudClaims := makeClaims(env.prodIssuer())
		noAudClaims.Audience = nil
		_, err = env.validator.Validate(context.Background(), idptest.MustMakeTokenStringSignedWithTestKey(noAudClaims))
		requireValidationErr(t, err, jwt.ErrAudienceMismatch)
	})

	t.Run("key fetch failure is not a validation error", func(t *testing.T) {
		env := newValidatorEnv(t, false, "")
		env.keysHandler.SetStatusCode(http.StatusBadGateway)
		token := idptest.MustMakeTokenStringSignedWithTestKey(makeClaims(env.prodIssuer()))

		_, err := env.validator.Validate(context.Background(), token)
		var fetchErr *jwks.KeyFetchError
		require.True(t, errors.As(err, &fetchErr))
		require.Equal(t, http.StatusBadGateway, fetchErr.StatusCode())
		var validationErr *jwt.ValidationError
		require.False(t, errors.As(err, &validationErr))
	})
}

func TestIssuerPolicy_TrustedIssuers(t *testing.T) {
	require.Equal(t, []string{jwt.DefaultProductionIssuer},
		jwt.IssuerPolicy{ProductionIssuer: jwt.DefaultProductionIssuer}.TrustedIssuers())
	require.Equal(t, []string{jwt.DefaultProductionIssuer},
		jwt.IssuerPolicy{ProductionIssuer: jwt.DefaultProductionIssuer, AllowTestIssuer: true}.TrustedIssuers())
	require.Equal(t, []string{jwt.DefaultProductionIssuer},
		jwt.IssuerPolicy{ProductionIssuer: jwt.DefaultProductionIssuer, TestServiceAccount: testServiceAccount}.TrustedIssuers())
	require.Equal(t, []string{jwt.DefaultProductionIssuer, jwt.DefaultCertBaseURL + testServiceAccount},
		jwt.IssuerPolicy{
			ProductionIssuer:   jwt.DefaultProductionIssuer,
			AllowTestIssuer:    true,
			TestServiceAccount: testServiceAccount,
		}.TrustedIssuers())
}
