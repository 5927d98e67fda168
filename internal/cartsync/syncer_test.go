package cartsync

import (
	"context"
	"testing"
	"time"

	"scentcart/internal/cart"
	"scentcart/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addReq(productID string, qty int, options cart.Options) AddRequest {
	return AddRequest{
		ProductID:       productID,
		Name:            "Oud Noir",
		Price:           decimal.NewFromInt(90),
		Quantity:        qty,
		SelectedOptions: options,
	}
}

func TestNew_Requires(t *testing.T) {
	_, err := New(Config{Remote: newFakeRemote()})
	assert.ErrorIs(t, err, ErrStorageRequired)

	_, err = New(Config{Storage: storage.NewMemory()})
	assert.ErrorIs(t, err, ErrRemoteRequired)
}

func TestResolveIdentity(t *testing.T) {
	ctx := context.Background()

	t.Run("Guest", func(t *testing.T) {
		h := newHarness(t)
		id, err := h.syncer.ResolveIdentity(ctx)
		require.NoError(t, err)
		assert.Equal(t, Guest, id.Kind)
	})

	t.Run("Numeric id", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.SetItem(ctx, storage.KeyUser, `{"id":42,"token":"tok"}`))

		id, err := h.syncer.ResolveIdentity(ctx)
		require.NoError(t, err)
		assert.Equal(t, Authenticated, id.Kind)
		assert.Equal(t, "42", id.UserID)
		assert.Equal(t, "tok", id.Token)
	})

	t.Run("Malformed", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.SetItem(ctx, storage.KeyUser, `{"name":"no id"}`))

		_, err := h.syncer.ResolveIdentity(ctx)
		assert.ErrorIs(t, err, ErrMalformedIdentity)
	})
}

func TestAddToCart_Guest(t *testing.T) {
	ctx := context.Background()

	t.Run("Same product and options increments one line", func(t *testing.T) {
		h := newHarness(t)
		opts := cart.Options{"size": "50ml"}

		first, err := h.syncer.AddToCart(ctx, addReq("p1", 2, opts))
		require.NoError(t, err)
		_, err = h.syncer.AddToCart(ctx, addReq("p1", 3, cart.Options{"size": "50ml"}))
		require.NoError(t, err)

		items := h.local(t)
		require.Len(t, items, 1)
		assert.Equal(t, 5, items[0].Quantity)
		assert.Equal(t, first.Item.ID, items[0].ID)
		assert.Equal(t, PathLocal, first.Path)
		assert.Zero(t, h.remote.callCount("AddItem"))
	})

	t.Run("Different options are distinct lines", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.syncer.AddToCart(ctx, addReq("p1", 1, cart.Options{"size": "M"}))
		require.NoError(t, err)
		_, err = h.syncer.AddToCart(ctx, addReq("p1", 1, cart.Options{"size": "L"}))
		require.NoError(t, err)

		items := h.local(t)
		require.Len(t, items, 2)
		assert.Equal(t, 1, items[0].Quantity)
		assert.Equal(t, 1, items[1].Quantity)
	})

	t.Run("Re-add merges pricing and attachments", func(t *testing.T) {
		h := newHarness(t)
		req := addReq("p1", 1, nil)
		req.OptionsPricing = cart.OptionsPricing{"gift": decimal.NewFromInt(5)}
		_, err := h.syncer.AddToCart(ctx, req)
		require.NoError(t, err)

		req.OptionsPricing = cart.OptionsPricing{"engraving": decimal.NewFromInt(3)}
		req.Attachments = cart.Attachments{"note": "for mum"}
		_, err = h.syncer.AddToCart(ctx, req)
		require.NoError(t, err)

		items := h.local(t)
		require.Len(t, items, 1)
		assert.Len(t, items[0].OptionsPricing, 2)
		assert.Equal(t, "for mum", items[0].Attachments["note"])
	})

	t.Run("Quantity defaults to one and snapshot fills display data", func(t *testing.T) {
		h := newHarness(t)
		res, err := h.syncer.AddToCart(ctx, AddRequest{
			ProductID: "p1",
			Product:   &cart.Snapshot{Name: "Vetiver", Price: decimal.NewFromInt(40), Image: "v.png"},
		})

		require.NoError(t, err)
		assert.Equal(t, 1, res.Item.Quantity)
		assert.Equal(t, "Vetiver", res.Item.Name)
		assert.True(t, res.Item.Price.Equal(decimal.NewFromInt(40)))
	})

	t.Run("Emits update and notice", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.syncer.AddToCart(ctx, addReq("p1", 1, nil))
		require.NoError(t, err)

		assert.Len(t, h.events.of(EventCartUpdated), 1)
		notices := h.events.of(EventNotice)
		require.Len(t, notices, 1)
		assert.Equal(t, NoticeInfo, notices[0].Level)
	})
}

func TestAddToCart_CorruptedStorage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.store.SetItem(ctx, storage.KeyCart, "}}garbage{{"))

	items, err := h.syncer.GetCart(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = h.syncer.AddToCart(ctx, addReq("p1", 2, nil))
	require.NoError(t, err)

	local := h.local(t)
	require.Len(t, local, 1)
	assert.Equal(t, 2, local[0].Quantity)
}

func TestAddToCart_MalformedIdentity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.store.SetItem(ctx, storage.KeyUser, `{"id":null}`))
	require.NoError(t, storage.SaveCart(ctx, h.store, []cart.Item{{ID: "g0", ProductID: "p0", Quantity: 1}}))

	_, err := h.syncer.AddToCart(ctx, addReq("p1", 1, nil))

	assert.ErrorIs(t, err, ErrMalformedIdentity)
	assert.Len(t, h.local(t), 1, "local cart untouched")
	notices := h.events.of(EventNotice)
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeError, notices[0].Level)
	assert.Empty(t, h.events.of(EventCartUpdated))
}

func TestAddToCart_Invalid(t *testing.T) {
	h := newHarness(t)
	_, err := h.syncer.AddToCart(context.Background(), AddRequest{Quantity: 1})
	assert.ErrorIs(t, err, ErrInvalidAdd)

	_, err = h.syncer.AddToCart(context.Background(), addReq("p1", -2, nil))
	assert.ErrorIs(t, err, ErrInvalidAdd)
}

func TestAddToCart_Authenticated(t *testing.T) {
	ctx := context.Background()

	t.Run("Remote create-or-increment", func(t *testing.T) {
		h := newHarness(t)
		h.signIn(t, "42")

		res, err := h.syncer.AddToCart(ctx, addReq("p1", 2, cart.Options{"size": "50ml"}))
		require.NoError(t, err)
		assert.Equal(t, PathRemote, res.Path)
		assert.True(t, res.Item.Persisted)

		_, err = h.syncer.AddToCart(ctx, addReq("p1", 3, cart.Options{"size": "50ml"}))
		require.NoError(t, err)

		server := h.remote.snapshot()
		require.Len(t, server, 1)
		assert.Equal(t, 5, server[0].Quantity)

		// read-after-write refreshed the local mirror
		local := h.local(t)
		require.Len(t, local, 1)
		assert.Equal(t, 5, local[0].Quantity)
		assert.True(t, local[0].Persisted)
	})

	t.Run("Remote failure falls back to local cart", func(t *testing.T) {
		h := newHarness(t)
		h.signIn(t, "42")
		h.remote.setFail("AddItem", errRemoteDown)

		res, err := h.syncer.AddToCart(ctx, addReq("p1", 2, nil))

		require.NoError(t, err)
		assert.Equal(t, PathLocalFallback, res.Path)
		assert.ErrorIs(t, res.RemoteErr, errRemoteDown)
		assert.False(t, res.Item.Persisted)

		local := h.local(t)
		require.Len(t, local, 1)
		assert.Empty(t, h.remote.snapshot())
	})
}

func TestGetCart_Authenticated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.signIn(t, "42")
	_, err := h.syncer.AddToCart(ctx, addReq("p1", 2, nil))
	require.NoError(t, err)
	readsAfterAdd := h.remote.callCount("GetCart")

	t.Run("Fresh cache skips remote", func(t *testing.T) {
		items, err := h.syncer.GetCart(ctx)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, readsAfterAdd, h.remote.callCount("GetCart"))
	})

	t.Run("Expired cache refetches", func(t *testing.T) {
		h.clock.Advance(31 * time.Second)
		_, err := h.syncer.GetCart(ctx)
		require.NoError(t, err)
		assert.Equal(t, readsAfterAdd+1, h.remote.callCount("GetCart"))
	})

	t.Run("Failed refresh serves stale copy", func(t *testing.T) {
		h.clock.Advance(31 * time.Second)
		h.remote.setFail("GetCart", errRemoteDown)

		items, err := h.syncer.GetCart(ctx)

		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, 2, items[0].Quantity)
	})

	t.Run("No cache and no remote serves local mirror", func(t *testing.T) {
		h.syncer.carts.Clear()

		items, err := h.syncer.GetCart(ctx)

		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "p1", items[0].ProductID)
	})
}

func TestGetCart_IncludesPendingLines(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.signIn(t, "42")

	_, err := h.syncer.AddToCart(ctx, addReq("p1", 1, nil))
	require.NoError(t, err)

	h.remote.setFail("AddItem", errRemoteDown)
	_, err = h.syncer.AddToCart(ctx, addReq("p2", 1, nil))
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	items, err := h.syncer.GetCart(ctx)

	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, items[0].Persisted)
	assert.False(t, items[1].Persisted)
	assert.Len(t, h.local(t), 2)
}

func TestCount(t *testing.T) {
	ctx := context.Background()

	t.Run("Guest sums local quantities", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, storage.SaveCart(ctx, h.store, []cart.Item{
			{ID: "a", Quantity: 2}, {ID: "b", Quantity: 1}, {ID: "c", Quantity: 3},
		}))
		assert.Equal(t, 6, h.syncer.Count(ctx))
	})

	t.Run("Missing quantity counts as one", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.SetItem(ctx, storage.KeyCart, `[{"id":"a"},{"id":"b","quantity":2}]`))
		assert.Equal(t, 3, h.syncer.Count(ctx))
	})

	t.Run("Empty, missing or garbage is zero", func(t *testing.T) {
		h := newHarness(t)
		assert.Equal(t, 0, h.syncer.Count(ctx))

		require.NoError(t, h.store.SetItem(ctx, storage.KeyCart, "not json"))
		assert.Equal(t, 0, h.syncer.Count(ctx))
	})

	t.Run("Authenticated asks the remote", func(t *testing.T) {
		h := newHarness(t)
		h.signIn(t, "42")
		_, err := h.syncer.AddToCart(ctx, addReq("p1", 4, nil))
		require.NoError(t, err)

		assert.Equal(t, 4, h.syncer.Count(ctx))
		assert.Equal(t, 1, h.remote.callCount("Count"))
	})

	t.Run("Remote failure falls back to local", func(t *testing.T) {
		h := newHarness(t)
		h.signIn(t, "42")
		require.NoError(t, storage.SaveCart(ctx, h.store, []cart.Item{{ID: "s1", Quantity: 2, Persisted: true}}))
		h.remote.setFail("Count", errRemoteDown)

		assert.Equal(t, 2, h.syncer.Count(ctx))
	})

	t.Run("Malformed identity still counts", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.SetItem(ctx, storage.KeyUser, `garbage`))
		require.NoError(t, storage.SaveCart(ctx, h.store, []cart.Item{{ID: "a", Quantity: 2}}))

		assert.Equal(t, 2, h.syncer.Count(ctx))
	})
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	req := addReq("p1", 2, nil)
	req.OptionsPricing = cart.OptionsPricing{"gift": decimal.NewFromInt(10)}
	_, err := h.syncer.AddToCart(ctx, req)
	require.NoError(t, err)

	sum, err := h.syncer.Summary(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, sum.Lines)
	assert.Equal(t, 2, sum.Quantity)
	assert.True(t, sum.Subtotal.Equal(decimal.NewFromInt(200)))
}

func TestRun_SweepsUntilCancelled(t *testing.T) {
	h := newHarness(t)
	h.syncer.carts.Set(cartKey("42"), []cart.Item{{ID: "s1"}})
	h.syncer.counts.Set(countKey("42"), 1)
	h.clock.Advance(time.Minute + time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.syncer.Run(ctx, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return h.syncer.carts.Len() == 0 && h.syncer.counts.Len() == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_NoInterval(t *testing.T) {
	h := newHarness(t)
	h.syncer.Run(context.Background(), 0)
}

func TestNew_CacheCapacity(t *testing.T) {
	h := newHarness(t)
	s, err := New(Config{Storage: h.store, Remote: h.remote, CacheCapacity: 1, Clock: h.clock.Now})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	s.carts.Set(cartKey("1"), nil)
	s.carts.Set(cartKey("2"), nil)

	assert.Equal(t, 1, s.carts.Len())
}
