/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package jwt

import (
	"strings"

	jwtgo "github.com/golang-jwt/jwt/v5"
	"github.com/vasayxtx/go-glob"
)

// AudienceValidator checks the audience claim ("aud") of a software statement.
// The claim is required. Any of its values must equal one of the expected audiences,
// patterns with "*" (e.g. "https://*.example.com") are matched as globs.
type AudienceValidator struct {
	exact    map[string]struct{}
	patterns []func(aud string) bool
}

// NewAudienceValidator creates a new AudienceValidator.
// With no expected audiences every statement is rejected.
func NewAudienceValidator(expected []string) *AudienceValidator {
	av := &AudienceValidator{exact: make(map[string]struct{}, len(expected))}
	for _, aud := range expected {
		switch {
		case aud == "":
		case strings.Contains(aud, "*"):
			av.patterns = append(av.patterns, glob.Compile(aud))
		default:
			av.exact[aud] = struct{}{}
		}
	}
	return av
}

// Validate returns AudienceMissingError or AudienceNotExpectedError if the claims carry no accepted audience.
func (av *AudienceValidator) Validate(claims jwtgo.Claims) error {
	audience, err := claims.GetAudience()
	if err != nil {
		return err
	}
	if len(audience) == 0 {
		return &AudienceMissingError{}
	}
	for _, aud := range audience {
		if av.accepts(aud) {
			return nil
		}
	}
	return &AudienceNotExpectedError{Audience: audience}
}

func (av *AudienceValidator) accepts(aud string) bool {
	if _, ok := av.exact[aud]; ok {
		return true
	}
	for _, matches := range av.patterns {
		if matches(aud) {
			return true
		}
	}
	return false
}
