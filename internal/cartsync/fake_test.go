package cartsync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"scentcart/internal/cart"
	"scentcart/internal/cartclient"
	"scentcart/internal/storage"

	"github.com/stretchr/testify/require"
)

var errRemoteDown = errors.New("remote down")

// fakeRemote is an in-memory cart API for one user with the same
// create-or-increment and merge watermark rules as the real server.
type fakeRemote struct {
	mu       sync.Mutex
	items    []cart.Item
	receipts map[string]int
	nextID   int
	calls    map[string]int

	fail map[string]error
	// loseMergeResponse applies the next merge but answers with an error.
	loseMergeResponse bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		receipts: make(map[string]int),
		calls:    make(map[string]int),
		fail:     make(map[string]error),
	}
}

func (f *fakeRemote) enter(method string, s cartclient.Session) error {
	f.calls[method]++
	if s.UserID == "" || s.Token == "" {
		return cartclient.ErrNoSession
	}
	return f.fail[method]
}

func (f *fakeRemote) setFail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method] = err
}

func (f *fakeRemote) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeRemote) snapshot() []cart.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.items)
}

func (f *fakeRemote) upsert(p cart.AddItemParams) cart.Item {
	for i := range f.items {
		if cart.SameLine(f.items[i], p.ProductID, p.SelectedOptions) {
			f.items[i].Absorb(p.Quantity, p.OptionsPricing, p.Attachments)
			return f.items[i]
		}
	}
	f.nextID++
	it := cart.Item{
		ID:              fmt.Sprintf("s%d", f.nextID),
		ProductID:       p.ProductID,
		Name:            p.Name,
		Price:           p.Price,
		Quantity:        p.Quantity,
		SelectedOptions: p.SelectedOptions,
		OptionsPricing:  p.OptionsPricing,
		Attachments:     p.Attachments,
		Product:         p.Product,
		Persisted:       true,
	}
	f.items = append(f.items, it)
	return it
}

func (f *fakeRemote) GetCart(ctx context.Context, s cartclient.Session) ([]cart.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetCart", s); err != nil {
		return nil, err
	}
	return slices.Clone(f.items), nil
}

func (f *fakeRemote) AddItem(ctx context.Context, s cartclient.Session, p cart.AddItemParams) (*cart.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddItem", s); err != nil {
		return nil, err
	}
	it := f.upsert(p)
	return &it, nil
}

func (f *fakeRemote) UpdateItem(ctx context.Context, s cartclient.Session, itemID string, p cart.UpdateItemParams) (*cart.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateItem", s); err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(f.items, func(it cart.Item) bool { return it.ID == itemID })
	if idx < 0 {
		return nil, &cartclient.APIError{Status: 404, Message: "cart item not found"}
	}
	if p.Quantity != nil && *p.Quantity <= 0 {
		f.items = slices.Delete(f.items, idx, idx+1)
		return nil, nil
	}
	if p.Quantity != nil {
		f.items[idx].Quantity = *p.Quantity
	}
	if p.SelectedOptions != nil {
		f.items[idx].SelectedOptions = p.SelectedOptions
	}
	it := f.items[idx]
	return &it, nil
}

func (f *fakeRemote) RemoveItem(ctx context.Context, s cartclient.Session, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RemoveItem", s); err != nil {
		return err
	}
	f.items = slices.DeleteFunc(f.items, func(it cart.Item) bool { return it.ID == itemID })
	return nil
}

func (f *fakeRemote) ClearCart(ctx context.Context, s cartclient.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ClearCart", s); err != nil {
		return err
	}
	f.items = nil
	return nil
}

func (f *fakeRemote) Count(ctx context.Context, s cartclient.Session) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Count", s); err != nil {
		return 0, err
	}
	return cart.CountQuantity(f.items), nil
}

func (f *fakeRemote) Merge(ctx context.Context, s cartclient.Session, lines []cart.MergeLine) (*cart.MergeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Merge", s); err != nil {
		return nil, err
	}

	merged := 0
	for _, l := range lines {
		delta := l.Quantity - f.receipts[l.ClientLineID]
		if delta <= 0 {
			continue
		}
		f.upsert(cart.AddItemParams{
			ProductID:       l.ProductID,
			Name:            l.Name,
			Price:           l.Price,
			Quantity:        delta,
			SelectedOptions: l.SelectedOptions,
			OptionsPricing:  l.OptionsPricing,
			Attachments:     l.Attachments,
			Product:         l.Product,
		})
		f.receipts[l.ClientLineID] = l.Quantity
		merged++
	}

	if f.loseMergeResponse {
		f.loseMergeResponse = false
		return nil, errors.New("connection reset")
	}
	return &cart.MergeResult{MergedCount: merged, Items: slices.Clone(f.items)}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder collects notifier events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) of(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	syncer *Syncer
	store  *storage.Memory
	remote *fakeRemote
	clock  *fakeClock
	events *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:  storage.NewMemory(),
		remote: newFakeRemote(),
		clock:  &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
		events: &recorder{},
	}

	ids := 0
	s, err := New(Config{
		Storage:  h.store,
		Remote:   h.remote,
		CacheTTL: 30 * time.Second,
		Clock:    h.clock.Now,
		NewID: func() string {
			ids++
			return fmt.Sprintf("g%d", ids)
		},
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	s.Notifier().Subscribe(h.events.record)
	h.syncer = s
	return h
}

func (h *harness) signIn(t *testing.T, userID string) {
	t.Helper()
	require.NoError(t, storage.SaveUser(context.Background(), h.store, storage.UserRecord{ID: storage.FlexibleID(userID), Token: "tok"}))
}

func (h *harness) local(t *testing.T) []cart.Item {
	t.Helper()
	items, err := storage.LoadCart(context.Background(), h.store)
	require.NoError(t, err)
	return items
}
