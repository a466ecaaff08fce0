/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package idptest contains a mock identity provider for tests of the registration flow.
// HTTPServer serves X.509 signing certificates per service account, client registration,
// token and introspection endpoints; the helpers sign software statements with the pre-defined test key.
package idptest
