/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package idptoken

import (
	"context"
	"errors"
)

// CredentialSource provides the Authorization header for calls to the IdP management API.
type CredentialSource interface {
	// AuthorizationHeader returns the full header value, e.g. "SSWS 00abc" or "Bearer eyJ...".
	AuthorizationHeader(ctx context.Context) (string, error)

	// Invalidate drops cached credentials, so the next call obtains fresh ones.
	Invalidate()
}

// StaticToken is an Okta API token. It is sent with the SSWS authorization scheme.
type StaticToken string

var _ CredentialSource = StaticToken("")

// AuthorizationHeader implements CredentialSource.
func (t StaticToken) AuthorizationHeader(_ context.Context) (string, error) {
	if t == "" {
		return "", errors.New("IdP API token is empty")
	}
	return "SSWS " + string(t), nil
}

// Invalidate implements CredentialSource. A static token cannot be refreshed.
func (t StaticToken) Invalidate() {}
