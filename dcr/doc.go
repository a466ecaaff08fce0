/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package dcr registers OAuth clients with the identity provider (Okta-compatible
// POST {domain}/oauth2/v1/clients endpoint) on behalf of marketplace orders.
//
// The Authorization header is provided by an idptoken.CredentialSource,
// so both the static API token (SSWS) and the client credentials grant (Bearer) are supported.
package dcr
