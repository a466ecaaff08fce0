/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package api contains the HTTP handlers of the DCR service.
//
// POST /dcr accepts two kinds of bodies. A {"software_statement": "..."} body is a synchronous
// client registration request, and any other JSON body is treated as a marketplace Pub/Sub push message.
// Every error response is a JSON object {"error": "...", "detail": "..."}.
package api
