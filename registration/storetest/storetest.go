/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package storetest provides a conformance test suite for registration.Store implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dcrkit/registration"
)

// RunConformance runs the tests every registration.Store implementation must pass.
// newStore must return an empty store.
func RunConformance(t *testing.T, newStore func(t *testing.T) registration.Store) {
	t.Helper()

	t.Run("not found", func(t *testing.T) {
		store := newStore(t)
		_, err := store.FindByOrderID(context.Background(), "order-42")
		require.ErrorIs(t, err, registration.ErrNotFound)
	})

	t.Run("save and find", func(t *testing.T) {
		store := newStore(t)
		reg := registration.Registration{OrderID: "order-42", ClientID: "c1", ClientSecret: "s1"}
		require.NoError(t, store.Save(context.Background(), reg))

		got, err := store.FindByOrderID(context.Background(), "order-42")
		require.NoError(t, err)
		require.Equal(t, reg, got)
		require.Equal(t, "s1", got.ClientSecret.Reveal())
	})

	t.Run("save never overwrites", func(t *testing.T) {
		store := newStore(t)
		first := registration.Registration{OrderID: "order-42", ClientID: "c1", ClientSecret: "s1"}
		require.NoError(t, store.Save(context.Background(), first))

		err := store.Save(context.Background(),
			registration.Registration{OrderID: "order-42", ClientID: "c2", ClientSecret: "s2"})
		require.ErrorIs(t, err, registration.ErrAlreadyExists)

		got, err := store.FindByOrderID(context.Background(), "order-42")
		require.NoError(t, err)
		require.Equal(t, first, got)
	})

	t.Run("orders are independent", func(t *testing.T) {
		store := newStore(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, store.Save(context.Background(), registration.Registration{
				OrderID:      fmt.Sprintf("order-%d", i),
				ClientID:     fmt.Sprintf("client-%d", i),
				ClientSecret: registration.Secret(fmt.Sprintf("secret-%d", i)),
			}))
		}
		for i := 0; i < 5; i++ {
			got, err := store.FindByOrderID(context.Background(), fmt.Sprintf("order-%d", i))
			require.NoError(t, err)
			require.Equal(t, fmt.Sprintf("client-%d", i), got.ClientID)
		}
	})

	t.Run("invalid registration", func(t *testing.T) {
		store := newStore(t)
		require.Error(t, store.Save(context.Background(), registration.Registration{OrderID: "order-42"}))
		require.Error(t, store.Save(context.Background(), registration.Registration{ClientID: "c1", ClientSecret: "s1"}))
	})

	t.Run("concurrent saves of one order", func(t *testing.T) {
		store := newStore(t)
		const workersNum = 10
		var wg sync.WaitGroup
		errs := make([]error, workersNum)
		for i := 0; i < workersNum; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = store.Save(context.Background(), registration.Registration{
					OrderID: "order-42", ClientID: fmt.Sprintf("c%d", i), ClientSecret: "s",
				})
			}(i)
		}
		wg.Wait()

		saved := 0
		for _, err := range errs {
			if err == nil {
				saved++
				continue
			}
			require.True(t, errors.Is(err, registration.ErrAlreadyExists), "unexpected error: %v", err)
		}
		require.Equal(t, 1, saved)
	})
}
