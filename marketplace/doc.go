/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package marketplace turns marketplace Pub/Sub push messages into provisioning requests.
//
// A push message carries a base64 encoded JSON event either in "message.data" or in "data".
// Messages of any other shape are reported as ignored, so unknown event types never fail the delivery.
package marketplace
