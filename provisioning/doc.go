/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package provisioning issues OAuth client credentials for marketplace orders.
//
// Provisioning is idempotent: an order gets exactly one OAuth client, and repeated requests
// for the same order return the originally stored credentials.
// Two entry points are provided. Provision verifies a software statement first,
// ProvisionFromEvent trusts the order ID delivered by the marketplace event channel.
package provisioning
