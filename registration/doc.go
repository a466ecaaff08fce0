/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package registration defines the storage contract for issued OAuth clients.
// Backends are implemented in the filestore, sqlstore and redisstore sub-packages.
package registration
