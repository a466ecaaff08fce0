/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package jwks

import (
	"errors"
	"fmt"

	"github.com/acronis/go-dcrkit/internal/idputil"
)

// KeyFetchError is an error that may occur during getting signing keys.
type KeyFetchError struct {
	Inner error
	URL   string
}

func (e *KeyFetchError) Error() string {
	return fmt.Sprintf("error while getting signing keys (URL: %q): %s", e.URL, e.Inner.Error())
}

func (e *KeyFetchError) Unwrap() error {
	return e.Inner
}

// StatusCode returns the HTTP status code the keys endpoint responded with, or 0 if there was no response.
func (e *KeyFetchError) StatusCode() int {
	var respErr *idputil.UnexpectedResponseError
	if errors.As(e.Inner, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// KeyNotFoundError is an error that occurs when a signing key is not found by kid.
type KeyNotFoundError struct {
	KeysURL string
	KeyID   string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("signing key not found (Key ID: %q, keys URL: %q)", e.KeyID, e.KeysURL)
}
