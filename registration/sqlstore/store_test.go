/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dcrkit/registration"
	"github.com/acronis/go-dcrkit/registration/sqlstore"
	"github.com/acronis/go-dcrkit/registration/storetest"
)

func TestStore_Conformance(t *testing.T) {
	storetest.RunConformance(t, func(t *testing.T) registration.Store {
		store, err := sqlstore.Open(context.Background(), filepath.Join(t.TempDir(), "clients.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.db")
	store, err := sqlstore.Open(context.Background(), path)
	require.NoError(t, err)
	reg := registration.Registration{OrderID: "order-42", ClientID: "c1", ClientSecret: "s1"}
	require.NoError(t, store.Save(context.Background(), reg))
	require.NoError(t, store.Close())

	// Migrations are applied only once.
	store, err = sqlstore.Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	got, err := store.FindByOrderID(context.Background(), "order-42")
	require.NoError(t, err)
	require.Equal(t, reg, got)
}
