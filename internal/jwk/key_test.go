/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package jwk_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dcrkit/internal/jwk"
)

func encodeBigIntToBase64URL(n *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(n.Bytes())
}

func TestKey_DecodePublicKey(t *testing.T) {
	p := big.NewInt(61)
	q := big.NewInt(53)
	n := new(big.Int).Mul(p, q)
	e := big.NewInt(65537)

	key := &jwk.Key{Kty: "RSA", N: encodeBigIntToBase64URL(n), E: encodeBigIntToBase64URL(e)}

	pubKey, err := key.DecodePublicKey()
	require.NoError(t, err)
	require.Equal(t, n, pubKey.N)
	require.Equal(t, 65537, pubKey.E)
}

func TestKey_DecodePublicKeyFails(t *testing.T) {
	tests := []struct {
		name       string
		key        jwk.Key
		errContain string
	}{
		{name: "unsupported type", key: jwk.Key{Kty: "EC", N: "AQAB", E: "AQAB"}, errContain: "unsupported key type"},
		{name: "missing N and E", key: jwk.Key{Kty: "RSA"}, errContain: "missing N or E"},
		{name: "invalid E", key: jwk.Key{Kty: "RSA", N: "AQAB", E: "!!invalid!!"}, errContain: "exponent"},
		{name: "invalid N", key: jwk.Key{Kty: "RSA", N: "!!invalid!!", E: "AQAB"}, errContain: "modulus"},
		{name: "too small E", key: jwk.Key{Kty: "RSA", N: "AQAB", E: "AQ"}, errContain: "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pubKey, err := tt.key.DecodePublicKey()
			require.ErrorContains(t, err, tt.errContain)
			require.Nil(t, pubKey)
		})
	}
}

func TestKey_RoundTrip(t *testing.T) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubJWK := jwk.NewPublicKey("kid-1", &privKey.PublicKey)
	require.Equal(t, "kid-1", pubJWK.Kid)
	require.Equal(t, "AQAB", pubJWK.E)

	decodedPub, err := pubJWK.DecodePublicKey()
	require.NoError(t, err)
	require.True(t, privKey.PublicKey.Equal(decodedPub))

	privJWK := pubJWK
	privJWK.D = encodeBigIntToBase64URL(privKey.D)
	privJWK.P = encodeBigIntToBase64URL(privKey.Primes[0])
	privJWK.Q = encodeBigIntToBase64URL(privKey.Primes[1])
	privJWK.DP = encodeBigIntToBase64URL(privKey.Precomputed.Dp)
	privJWK.DQ = encodeBigIntToBase64URL(privKey.Precomputed.Dq)
	privJWK.QI = encodeBigIntToBase64URL(privKey.Precomputed.Qinv)

	decodedPriv, err := privJWK.DecodePrivateKey()
	require.NoError(t, err)
	require.True(t, privKey.Equal(decodedPriv))

	privJWK.QI = ""
	_, err = privJWK.DecodePrivateKey()
	require.ErrorContains(t, err, "private key component")
}
