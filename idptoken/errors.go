/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package idptoken

import (
	"errors"

	"github.com/acronis/go-dcrkit/internal/idputil"
)

// ErrMissingCredentials is returned when the client ID or secret required for a request is not configured.
var ErrMissingCredentials = errors.New("IdP client credentials are not configured")

// UnexpectedIDPResponseError is returned when the IdP responds with an unexpected status code.
// It carries the status code and the (size-limited) response body.
type UnexpectedIDPResponseError = idputil.UnexpectedResponseError
