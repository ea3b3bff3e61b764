// Package licensetest holds the behavioural contract every license.Store
// implementation must satisfy.
package licensetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keybind/internal/license"
)

// Factory returns a fresh store containing exactly the seed records.
type Factory func(t *testing.T, seed ...license.Record) license.Store

// Suite describes the store under test.
type Suite struct {
	NewStore Factory
	// ConditionalSet is true when Set is atomic against writers that do not
	// share the Binder's key lock, such as other processes.
	ConditionalSet bool
}

// BoundAt is the timestamp used for seeded bindings.
var BoundAt = time.Date(2024, time.March, 9, 14, 30, 15, 0, time.UTC)

// Run executes the contract against s.
func Run(t *testing.T, s Suite) {
	t.Helper()

	t.Run("get unknown key", func(t *testing.T) {
		store := s.NewStore(t, license.Record{Key: "KEY-0001-AAAA"})

		_, found, err := store.Get(context.Background(), "KEY-9999-ZZZZ")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("get unbound key", func(t *testing.T) {
		store := s.NewStore(t, license.Record{Key: "KEY-0001-AAAA"})

		rec, found, err := store.Get(context.Background(), "KEY-0001-AAAA")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "KEY-0001-AAAA", rec.Key)
		assert.False(t, rec.IsBound())
		assert.True(t, rec.BoundAt.IsZero())
	})

	t.Run("get bound key", func(t *testing.T) {
		store := s.NewStore(t,
			license.Record{Key: "KEY-0001-AAAA"},
			license.Record{Key: "KEY-0002-BBBB", BoundDevice: "device-A", BoundAt: BoundAt},
		)

		rec, found, err := store.Get(context.Background(), "KEY-0002-BBBB")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "device-A", rec.BoundDevice)
		assert.True(t, BoundAt.Equal(rec.BoundAt), "bound at %s, want %s", rec.BoundAt, BoundAt)
		assert.NoError(t, rec.Validate())
	})

	t.Run("set writes device and date together", func(t *testing.T) {
		store := s.NewStore(t, license.Record{Key: "KEY-0001-AAAA"}, license.Record{Key: "KEY-0002-BBBB"})
		ctx := context.Background()

		require.NoError(t, store.Set(ctx, "KEY-0001-AAAA", "device-X", BoundAt))

		rec, found, err := store.Get(ctx, "KEY-0001-AAAA")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "device-X", rec.BoundDevice)
		assert.True(t, BoundAt.Equal(rec.BoundAt))

		other, found, err := store.Get(ctx, "KEY-0002-BBBB")
		require.NoError(t, err)
		require.True(t, found)
		assert.False(t, other.IsBound(), "set must only touch its own key")
	})

	t.Run("set on bound key reports already bound", func(t *testing.T) {
		store := s.NewStore(t, license.Record{Key: "KEY-0002-BBBB", BoundDevice: "device-A", BoundAt: BoundAt})
		ctx := context.Background()

		err := store.Set(ctx, "KEY-0002-BBBB", "device-B", BoundAt.Add(time.Hour))
		assert.ErrorIs(t, err, license.ErrAlreadyBound)

		rec, _, err := store.Get(ctx, "KEY-0002-BBBB")
		require.NoError(t, err)
		assert.Equal(t, "device-A", rec.BoundDevice)
		assert.True(t, BoundAt.Equal(rec.BoundAt))
	})

	t.Run("set on unknown key reports not found", func(t *testing.T) {
		store := s.NewStore(t, license.Record{Key: "KEY-0001-AAAA"})
		ctx := context.Background()

		err := store.Set(ctx, "KEY-9999-ZZZZ", "device-X", BoundAt)
		assert.ErrorIs(t, err, license.ErrNotFound)

		_, found, err := store.Get(ctx, "KEY-9999-ZZZZ")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("provision", func(t *testing.T) {
		store := s.NewStore(t, license.Record{Key: "KEY-0001-AAAA"})
		p, ok := store.(license.Provisioner)
		if !ok {
			t.Skip("store does not provision keys")
		}
		ctx := context.Background()

		require.NoError(t, p.Provision(ctx, "KEY-0003-CCCC"))
		assert.ErrorIs(t, p.Provision(ctx, "KEY-0003-CCCC"), license.ErrKeyExists)
		assert.ErrorIs(t, p.Provision(ctx, "KEY-0001-AAAA"), license.ErrKeyExists)

		rec, found, err := store.Get(ctx, "KEY-0003-CCCC")
		require.NoError(t, err)
		require.True(t, found)
		assert.False(t, rec.IsBound())
	})

	t.Run("activation scenario", func(t *testing.T) {
		store := s.NewStore(t, license.Record{Key: "KEY-0001-AAAA"})
		binder := license.NewBinder(store, license.WithClock(func() time.Time { return BoundAt }))
		ctx := context.Background()

		steps := []struct {
			key, device string
			want        license.Outcome
		}{
			{"KEY-0001-AAAA", "device-X", license.OutcomeActivated},
			{"KEY-0001-AAAA", "device-X", license.OutcomeAlreadyActivated},
			{"KEY-0001-AAAA", "device-Y", license.OutcomeActivatedElsewhere},
			{"KEY-9999-ZZZZ", "device-X", license.OutcomeKeyNotFound},
		}
		for _, step := range steps {
			res, err := binder.Activate(ctx, step.key, step.device)
			require.NoError(t, err)
			assert.Equal(t, step.want, res.Outcome, "activate %s on %s", step.key, step.device)
		}

		rec, _, err := store.Get(ctx, "KEY-0001-AAAA")
		require.NoError(t, err)
		assert.Equal(t, "device-X", rec.BoundDevice)
		assert.True(t, BoundAt.Equal(rec.BoundAt))
	})

	t.Run("concurrent activations bind once", func(t *testing.T) {
		store := s.NewStore(t, license.Record{Key: "KEY-0001-AAAA"})
		binder := license.NewBinder(store)
		assertSingleBinding(t, store, func(int) *license.Binder { return binder })
	})

	t.Run("concurrent binders bind once", func(t *testing.T) {
		if !s.ConditionalSet {
			t.Skip("store has no conditional write")
		}
		store := s.NewStore(t, license.Record{Key: "KEY-0001-AAAA"})
		binders := []*license.Binder{license.NewBinder(store), license.NewBinder(store)}
		assertSingleBinding(t, store, func(i int) *license.Binder { return binders[i%len(binders)] })
	})
}

func assertSingleBinding(t *testing.T, store license.Store, binderFor func(int) *license.Binder) {
	t.Helper()

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = make(map[license.Outcome]int)
		winner   string
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			device := fmt.Sprintf("device-%d", i)
			res, err := binderFor(i).Activate(context.Background(), "KEY-0001-AAAA", device)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			outcomes[res.Outcome]++
			if res.Outcome == license.OutcomeActivated {
				winner = device
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[license.OutcomeActivated])
	assert.Equal(t, workers-1, outcomes[license.OutcomeActivatedElsewhere])

	rec, _, err := store.Get(context.Background(), "KEY-0001-AAAA")
	require.NoError(t, err)
	assert.Equal(t, winner, rec.BoundDevice)
}
