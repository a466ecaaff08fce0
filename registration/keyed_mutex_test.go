/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package registration_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dcrkit/registration"
)

func TestKeyedMutex(t *testing.T) {
	t.Run("same key is exclusive", func(t *testing.T) {
		km := registration.NewKeyedMutex()
		var inside, maxInside atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := km.Lock("order-42")
				defer unlock()
				n := inside.Add(1)
				for {
					cur := maxInside.Load()
					if n <= cur || maxInside.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
			}()
		}
		wg.Wait()
		require.EqualValues(t, 1, maxInside.Load())
		require.Equal(t, 0, km.Len())
	})

	t.Run("different keys do not block each other", func(t *testing.T) {
		km := registration.NewKeyedMutex()
		unlockA := km.Lock("order-a")
		done := make(chan struct{})
		go func() {
			unlockB := km.Lock("order-b")
			unlockB()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("lock for another key is blocked")
		}
		require.Equal(t, 1, km.Len())
		unlockA()
		require.Equal(t, 0, km.Len())
	})

	t.Run("waiting is canceled with context", func(t *testing.T) {
		km := registration.NewKeyedMutex()
		unlock := km.Lock("order-42")

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		unlockWaiter, err := km.LockContext(ctx, "order-42")
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Nil(t, unlockWaiter)
		require.Equal(t, 1, km.Len())

		unlock()
		require.Equal(t, 0, km.Len())

		unlock, err = km.LockContext(context.Background(), "order-42")
		require.NoError(t, err)
		unlock()
		require.Equal(t, 0, km.Len())
	})
}

func TestRegistration_String(t *testing.T) {
	reg := registration.Registration{OrderID: "order-42", ClientID: "c1", ClientSecret: "very-long-client-secret"}
	require.NotContains(t, reg.ClientSecret.String(), "client-secret")
	require.Equal(t, "very****", reg.ClientSecret.String())
}
