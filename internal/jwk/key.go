/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package jwk decodes RSA JSON Web Keys (RFC 7517) into Go crypto keys.
package jwk

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

const KeyTypeRSA = "RSA"

// ErrUnsupportedKeyType is returned for keys that are not RSA.
var ErrUnsupportedKeyType = errors.New("unsupported key type")

// Key defines the subset of JSON Web Key fields used by RSA keys.
type Key struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`

	N string `json:"n"`
	E string `json:"e"`

	D  string `json:"d,omitempty"`
	P  string `json:"p,omitempty"`
	Q  string `json:"q,omitempty"`
	DP string `json:"dp,omitempty"`
	DQ string `json:"dq,omitempty"`
	QI string `json:"qi,omitempty"`
}

// Set is a JSON Web Key Set document.
type Set struct {
	Keys []Key `json:"keys"`
}

// DecodePublicKey decodes Key to RSA public key.
func (k *Key) DecodePublicKey() (*rsa.PublicKey, error) {
	if k.Kty != KeyTypeRSA {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedKeyType, k.Kty)
	}
	if k.N == "" || k.E == "" {
		return nil, errors.New("malformed JWK RSA key: missing N or E")
	}
	n, err := decodeBase64URLToBigInt(k.N)
	if err != nil {
		return nil, fmt.Errorf("malformed JWK RSA key modulus: %w", err)
	}
	e, err := decodeBase64URLToBigInt(k.E)
	if err != nil {
		return nil, fmt.Errorf("malformed JWK RSA key exponent: %w", err)
	}
	if !e.IsInt64() || e.Int64() < 2 || e.Int64() > 1<<31-1 {
		return nil, errors.New("malformed JWK RSA key exponent: out of range")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// DecodePrivateKey decodes Key to RSA private key. All CRT components are required.
func (k *Key) DecodePrivateKey() (*rsa.PrivateKey, error) {
	pubKey, err := k.DecodePublicKey()
	if err != nil {
		return nil, err
	}
	if k.D == "" {
		return nil, errors.New("malformed JWK RSA key: missing private exponent")
	}

	components := []string{k.D, k.P, k.Q, k.DP, k.DQ, k.QI}
	decoded := make([]*big.Int, len(components))
	for i, component := range components {
		if decoded[i], err = decodeBase64URLToBigInt(component); err != nil {
			return nil, fmt.Errorf("malformed JWK RSA private key component: %w", err)
		}
	}

	privKey := &rsa.PrivateKey{
		PublicKey: *pubKey,
		D:         decoded[0],
		Primes:    []*big.Int{decoded[1], decoded[2]},
		Precomputed: rsa.PrecomputedValues{
			Dp:   decoded[3],
			Dq:   decoded[4],
			Qinv: decoded[5],
		},
	}
	privKey.Precompute()
	if err = privKey.Validate(); err != nil {
		return nil, fmt.Errorf("invalid RSA private key: %w", err)
	}
	return privKey, nil
}

// NewPublicKey encodes an RSA public key as JWK.
func NewPublicKey(kid string, pubKey *rsa.PublicKey) Key {
	return Key{
		Kid: kid,
		Kty: KeyTypeRSA,
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(pubKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pubKey.E)).Bytes()),
	}
}

// decodeBase64URLToBigInt decodes base64url without padding.
func decodeBase64URLToBigInt(encoded string) (*big.Int, error) {
	if encoded == "" {
		return nil, errors.New("empty value")
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64url: %w", err)
	}
	return new(big.Int).SetBytes(data), nil
}
