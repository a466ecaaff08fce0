/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package jwt provides validation of software statements: signed JWTs that a marketplace
// (Google Cloud Marketplace, Gemini Enterprise) sends with a dynamic client registration request.
// Statements are verified against an allow-list of issuers whose public keys are
// resolved with the jwks package.
package jwt
