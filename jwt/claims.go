/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package jwt

import (
	jwtgo "github.com/golang-jwt/jwt/v5"
)

// GoogleClaims is the "google" claim of a software statement.
type GoogleClaims struct {
	// Order is the marketplace order identifier.
	Order string `json:"order"`
}

// SoftwareStatementClaims is the verified claim set of a software statement.
type SoftwareStatementClaims struct {
	jwtgo.RegisteredClaims

	Google              GoogleClaims `json:"google"`
	AuthAppRedirectURIs []string     `json:"auth_app_redirect_uris,omitempty"`

	// KeyID is the "kid" header of the token the claims were verified with.
	KeyID string `json:"-"`
}

// OrderID returns the marketplace order identifier ("google.order" claim).
func (c *SoftwareStatementClaims) OrderID() string {
	return c.Google.Order
}
