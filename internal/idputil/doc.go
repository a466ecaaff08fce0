/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package idputil contains the plumbing shared by the clients of the identity provider and
// the certificate endpoints: HTTP client construction, request execution and logger preparation.
package idputil
