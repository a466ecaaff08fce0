/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package jwt

import (
	"errors"
	"fmt"
)

// Kinds of the software statement validation failures.
// They are used as targets for errors.Is.
var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrUntrustedIssuer  = errors.New("untrusted issuer")
	ErrUnknownKeyID     = errors.New("unknown key id")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrTokenExpired     = errors.New("token expired")
	ErrAudienceMismatch = errors.New("audience mismatch")
)

// ValidationError is returned when a software statement is rejected.
// Kind is one of the ErrXXX sentinels.
type ValidationError struct {
	Kind  error
	Inner error
}

func (e *ValidationError) Error() string {
	if e.Inner == nil {
		return fmt.Sprintf("software statement validation failed: %s", e.Kind)
	}
	return fmt.Sprintf("software statement validation failed: %s: %s", e.Kind, e.Inner)
}

func (e *ValidationError) Unwrap() []error {
	if e.Inner == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Inner}
}

func newValidationError(kind error, inner error) *ValidationError {
	return &ValidationError{Kind: kind, Inner: inner}
}

// IssuerUntrustedError represents an error when JWT issuer is untrusted.
type IssuerUntrustedError struct {
	Issuer string
}

func (e *IssuerUntrustedError) Error() string {
	return fmt.Sprintf("JWT issuer %q untrusted", e.Issuer)
}

// AudienceMissingError represents an error when JWT audience is missing.
type AudienceMissingError struct{}

func (e *AudienceMissingError) Error() string {
	return "JWT audience missing"
}

// AudienceNotExpectedError represents an error when JWT contains not expected audience.
type AudienceNotExpectedError struct {
	Audience []string
}

func (e *AudienceNotExpectedError) Error() string {
	return fmt.Sprintf("JWT audience %q not expected", e.Audience)
}
