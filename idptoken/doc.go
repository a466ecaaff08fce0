/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package idptoken provides credentials for the IdP management API and access token introspection.
// StaticToken sends an Okta API token (SSWS scheme).
// Provider obtains and caches access tokens with the client credentials grant.
// Introspector and CachingIntrospector check access tokens with the RFC 7662 introspection endpoint.
package idptoken
