/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptest

import (
	"time"

	jwtgo "github.com/golang-jwt/jwt/v5"

	"github.com/acronis/go-dcrkit/jwt"
)

// MakeTokenString creates a token with claims signed by RS256.
// Empty kid leaves the "kid" header out.
func MakeTokenString(claims jwtgo.Claims, kid string, rsaPrivateKey interface{}) (string, error) {
	token := jwtgo.NewWithClaims(jwtgo.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	return token.SignedString(rsaPrivateKey)
}

// MustMakeTokenString creates a token with claims signed by RS256.
// It panics if error occurs.
func MustMakeTokenString(claims jwtgo.Claims, kid string, rsaPrivateKey interface{}) string {
	token, err := MakeTokenString(claims, kid, rsaPrivateKey)
	if err != nil {
		panic(err)
	}
	return token
}

// MakeTokenStringSignedWithTestKey creates a token signed with the pre-defined private key (TestKeyID).
func MakeTokenStringSignedWithTestKey(claims jwtgo.Claims) (string, error) {
	return MakeTokenString(claims, TestKeyID, GetTestRSAPrivateKey())
}

// MustMakeTokenStringSignedWithTestKey creates a token signed with the pre-defined private key (TestKeyID).
// It panics if error occurs.
func MustMakeTokenStringSignedWithTestKey(claims jwtgo.Claims) string {
	return MustMakeTokenString(claims, TestKeyID, GetTestRSAPrivateKey())
}

// NewSoftwareStatementClaims returns claims of a software statement for the order.
// The statement is issued a minute ago and expires in validFor.
func NewSoftwareStatementClaims(
	issuer, audience, orderID string, validFor time.Duration, redirectURIs ...string,
) *jwt.SoftwareStatementClaims {
	now := time.Now()
	return &jwt.SoftwareStatementClaims{
		RegisteredClaims: jwtgo.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwtgo.ClaimStrings{audience},
			IssuedAt:  jwtgo.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwtgo.NewNumericDate(now.Add(validFor)),
		},
		Google:              jwt.GoogleClaims{Order: orderID},
		AuthAppRedirectURIs: redirectURIs,
	}
}

// MustMakeSoftwareStatement creates a software statement for the order signed with the pre-defined private key.
// It is valid for an hour. It panics if error occurs.
func MustMakeSoftwareStatement(issuer, audience, orderID string, redirectURIs ...string) string {
	return MustMakeTokenStringSignedWithTestKey(NewSoftwareStatementClaims(issuer, audience, orderID, time.Hour, redirectURIs...))
}
