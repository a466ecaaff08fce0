/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package registration

import (
	"context"
	"errors"

	"github.com/acronis/go-dcrkit/internal/strutil"
)

// ErrNotFound is returned when there is no registration for the order.
var ErrNotFound = errors.New("registration not found")

// ErrAlreadyExists is returned by Store.Save when the order already has a registration.
var ErrAlreadyExists = errors.New("registration already exists")

// Secret is a client secret. It is masked when formatted and kept intact in JSON.
type Secret = strutil.Secret

// Registration binds a marketplace order to the OAuth client issued for it.
// The JSON shape is the persisted format and must stay stable.
type Registration struct {
	OrderID      string `json:"order_id"`
	ClientID     string `json:"client_id"`
	ClientSecret Secret `json:"client_secret"`
}

// Store is a durable mapping from order ID to the registration.
type Store interface {
	// FindByOrderID returns the registration or ErrNotFound.
	FindByOrderID(ctx context.Context, orderID string) (Registration, error)

	// Save persists the registration. An existing registration for the same order is never overwritten,
	// ErrAlreadyExists is returned instead.
	Save(ctx context.Context, reg Registration) error
}

// Validate checks that all fields of the registration are set.
func (r Registration) Validate() error {
	switch {
	case r.OrderID == "":
		return errors.New("order id is empty")
	case r.ClientID == "":
		return errors.New("client id is empty")
	case r.ClientSecret == "":
		return errors.New("client secret is empty")
	}
	return nil
}
