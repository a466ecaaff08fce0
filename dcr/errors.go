/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package dcr

import (
	"fmt"
)

// RegistrationFailedError is returned when the identity provider rejects the registration
// or accepts it without returning client credentials.
type RegistrationFailedError struct {
	StatusCode int
	Body       string
	Inner      error
}

func (e *RegistrationFailedError) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("client registration failed: %v", e.Inner)
	}
	return fmt.Sprintf("client registration failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *RegistrationFailedError) Unwrap() error {
	return e.Inner
}
